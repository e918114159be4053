// Package response writes the JSON envelope shared by every HTTP endpoint:
// {success:true,data,message?} or {success:false,error,code,details?}.
package response

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Code is the machine readable failure class of an error envelope.
type Code string

const (
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeAccountBlocked     Code = "ACCOUNT_BLOCKED"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeEmailNotVerified   Code = "EMAIL_NOT_VERIFIED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeOTPInvalid         Code = "OTP_INVALID"
	CodeOTPExpired         Code = "OTP_EXPIRED"
	CodeOTPMaxAttempts     Code = "OTP_MAX_ATTEMPTS"
	CodeRateLimited        Code = "RATE_LIMITED"
)

type Success struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type Failure struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Code    Code           `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data any, message string) {
	JSON(w, http.StatusOK, Success{Success: true, Data: data, Message: message})
}

// Created writes a 201 success envelope.
func Created(w http.ResponseWriter, data any, message string) {
	JSON(w, http.StatusCreated, Success{Success: true, Data: data, Message: message})
}

// Fail writes an error envelope.
func Fail(w http.ResponseWriter, status int, code Code, msg string, details map[string]any) {
	JSON(w, status, Failure{Success: false, Error: msg, Code: code, Details: details})
}

func Unauthorized(w http.ResponseWriter, msg string) {
	Fail(w, http.StatusUnauthorized, CodeUnauthorized, msg, nil)
}

func Forbidden(w http.ResponseWriter, msg string) {
	Fail(w, http.StatusForbidden, CodeForbidden, msg, nil)
}

func NotFound(w http.ResponseWriter, msg string) {
	Fail(w, http.StatusNotFound, CodeNotFound, msg, nil)
}

func Conflict(w http.ResponseWriter, msg string) {
	Fail(w, http.StatusConflict, CodeConflict, msg, nil)
}

func Validation(w http.ResponseWriter, msg string, details map[string]any) {
	Fail(w, http.StatusBadRequest, CodeValidation, msg, details)
}

// Internal logs err and answers with a generic 500; the cause never reaches the client.
func Internal(w http.ResponseWriter, logger *zap.SugaredLogger, op string, err error) {
	if logger != nil {
		logger.Errorw("internal error", "op", op, "err", err)
	}
	Fail(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}
