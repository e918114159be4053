package user

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/otp"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// ForgotPasswordMessage is the only answer /forgot-password ever gives.
const ForgotPasswordMessage = "if the address belongs to an account, a reset code has been sent"

// Handler exposes the account, profile and user administration endpoints.
type Handler struct {
	svc      *UserService
	sessions *session.Manager
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, sessions *session.Manager, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, logger: logger}
}

func requestInfo(r *http.Request) RequestInfo {
	return RequestInfo{IP: utilities.ClientIP(r), UserAgent: r.UserAgent()}
}

// fail maps service errors onto the error envelope.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var throttled *ThrottledError
	switch {
	case errors.As(err, &throttled):
		response.Validation(w, throttled.Error(), map[string]any{"remainingTime": throttled.RemainingSeconds()})
	case errors.Is(err, otp.ErrCodeExpired):
		response.Fail(w, http.StatusBadRequest, response.CodeOTPExpired, err.Error(), nil)
	case errors.Is(err, otp.ErrMaxAttempts):
		response.Fail(w, http.StatusBadRequest, response.CodeOTPMaxAttempts, err.Error(), nil)
	case errors.Is(err, otp.ErrCodeInvalidOrExpired), errors.Is(err, otp.ErrIncorrectCode):
		response.Fail(w, http.StatusBadRequest, response.CodeOTPInvalid, err.Error(), nil)
	case errors.Is(err, otp.ErrConcurrentIssue), errors.Is(err, ErrEmailTaken):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrBadCredentials):
		response.Fail(w, http.StatusUnauthorized, response.CodeInvalidCredentials, "invalid email or password", nil)
	case errors.Is(err, ErrLocked):
		response.Fail(w, http.StatusForbidden, response.CodeAccountLocked, err.Error(), nil)
	case errors.Is(err, ErrBlocked):
		response.Fail(w, http.StatusForbidden, response.CodeAccountBlocked, err.Error(), nil)
	case errors.Is(err, ErrNotVerified):
		response.Fail(w, http.StatusForbidden, response.CodeEmailNotVerified, err.Error(), nil)
	case errors.Is(err, ErrAlreadyVerified), errors.Is(err, ErrSameEmail), errors.Is(err, ErrRoleNotAllowed):
		response.Validation(w, err.Error(), nil)
	case errors.Is(err, ErrInsufficientRole), errors.Is(err, ErrSelfAction):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(w, err.Error())
	default:
		response.Internal(w, h.logger, op, err)
	}
}

// openSession sets the session cookies for u.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request, u *entity.User) error {
	info := requestInfo(r)
	_, err := h.sessions.Create(r.Context(), session.HTTPJar(w, r),
		session.Subject{ID: u.ID, Email: u.Email, Role: u.Role},
		session.Meta{IP: info.IP, UserAgent: info.UserAgent})
	return err
}

type registerRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	Password  string  `json:"password" validate:"required,strongpw"`
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Role      string  `json:"role" validate:"omitempty,oneof=VISITOR EXHIBITOR VOLUNTEER PARTNER"`
}

// Register serves POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !response.Decode(w, r, &req) {
		return
	}
	role := entity.RoleVisitor
	if req.Role != "" {
		var err error
		if role, err = entity.ParseRole(req.Role); err != nil {
			response.Validation(w, "validation failed", map[string]any{"role": "is invalid"})
			return
		}
	}
	u, err := h.svc.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      role,
	}, requestInfo(r))
	if err != nil {
		h.fail(w, "user.register", err)
		return
	}
	response.Created(w, u, "account created, check your email for the verification code")
}

type codeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyEmail serves POST /api/auth/verify-email and signs the user in.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !response.Decode(w, r, &req) {
		return
	}
	u, err := h.svc.VerifyEmail(r.Context(), req.Email, req.Code, requestInfo(r))
	if err != nil {
		h.fail(w, "user.verify_email", err)
		return
	}
	if u.Status == entity.StatusActive {
		if err := h.openSession(w, r, u); err != nil {
			response.Internal(w, h.logger, "user.verify_email.session", err)
			return
		}
	}
	response.OK(w, u, "email verified")
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResendVerification serves POST /api/auth/resend-verification.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if err := h.svc.ResendVerification(r.Context(), req.Email, requestInfo(r)); err != nil {
		h.fail(w, "user.resend_verification", err)
		return
	}
	response.OK(w, nil, "if the account is awaiting verification, a new code has been sent")
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login serves POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !response.Decode(w, r, &req) {
		return
	}
	u, err := h.svc.Login(r.Context(), req.Email, req.Password, requestInfo(r))
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.fail(w, "user.login", err)
		return
	}
	if err := h.openSession(w, r, u); err != nil {
		response.Internal(w, h.logger, "user.login.session", err)
		return
	}
	response.OK(w, map[string]any{"user": u}, "signed in")
}

// Me serves GET /api/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := session.ClaimsFrom(r.Context())
	if claims == nil {
		response.Unauthorized(w, "authentication required")
		return
	}
	u, err := h.svc.Get(r.Context(), claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		response.Unauthorized(w, "authentication required")
		return
	}
	if err != nil {
		h.fail(w, "user.me", err)
		return
	}
	response.OK(w, u, "")
}

// ForgotPassword serves POST /api/auth/forgot-password. The answer does not
// depend on whether the address is known.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !response.Decode(w, r, &req) {
		return
	}
	h.svc.ForgotPassword(r.Context(), req.Email, requestInfo(r))
	response.OK(w, nil, ForgotPasswordMessage)
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
	Password string `json:"password" validate:"required,strongpw"`
}

// ResetPassword serves POST /api/auth/reset-password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Email, req.Code, req.Password, requestInfo(r)); err != nil {
		h.fail(w, "user.reset_password", err)
		return
	}
	response.OK(w, nil, "password updated, please sign in")
}

type profileRequest struct {
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
}

// requireClaims writes 401 and returns nil when the request carries no session.
func requireClaims(w http.ResponseWriter, r *http.Request) *session.Claims {
	claims := session.ClaimsFrom(r.Context())
	if claims == nil {
		response.Unauthorized(w, "authentication required")
	}
	return claims
}

// UpdateProfile serves PUT /api/users/me.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	var req profileRequest
	if !response.Decode(w, r, &req) {
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), claims.UserID,
		entity.Profile{FirstName: req.FirstName, LastName: req.LastName, Phone: req.Phone}, requestInfo(r))
	if err != nil {
		h.fail(w, "user.update_profile", err)
		return
	}
	response.OK(w, u, "profile updated")
}

type emailChangeRequest struct {
	NewEmail string `json:"newEmail" validate:"required,email,max=254"`
}

// RequestEmailChange serves POST /api/users/me/email-change.
func (h *Handler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	var req emailChangeRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestEmailChange(r.Context(), claims.UserID, req.NewEmail, requestInfo(r)); err != nil {
		h.fail(w, "user.email_change", err)
		return
	}
	response.OK(w, nil, "confirmation code sent to the new address")
}

type confirmRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// ConfirmEmailChange serves POST /api/users/me/email-change/confirm. The
// session is reissued so the tokens carry the new address.
func (h *Handler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	var req confirmRequest
	if !response.Decode(w, r, &req) {
		return
	}
	u, err := h.svc.ConfirmEmailChange(r.Context(), claims.UserID, req.Code, requestInfo(r))
	if err != nil {
		h.fail(w, "user.email_change_confirm", err)
		return
	}
	jar := session.HTTPJar(w, r)
	if _, err := h.sessions.Destroy(r.Context(), jar); err != nil {
		h.logger.Warnw("old session not revoked", "user_id", u.ID, "error", err)
	}
	if err := h.openSession(w, r, u); err != nil {
		response.Internal(w, h.logger, "user.email_change_confirm.session", err)
		return
	}
	response.OK(w, u, "email updated")
}

// RequestAccountDelete serves POST /api/users/me/delete-request.
func (h *Handler) RequestAccountDelete(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	if err := h.svc.RequestAccountDelete(r.Context(), claims.UserID, requestInfo(r)); err != nil {
		h.fail(w, "user.delete_request", err)
		return
	}
	response.OK(w, nil, "confirmation code sent")
}

// ConfirmAccountDelete serves POST /api/users/me/delete-confirm.
func (h *Handler) ConfirmAccountDelete(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	var req confirmRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if err := h.svc.ConfirmAccountDelete(r.Context(), claims.UserID, req.Code, requestInfo(r)); err != nil {
		h.fail(w, "user.delete_confirm", err)
		return
	}
	if _, err := h.sessions.Destroy(r.Context(), session.HTTPJar(w, r)); err != nil {
		h.logger.Warnw("session cleanup after delete failed", "user_id", claims.UserID, "error", err)
	}
	response.OK(w, nil, "account deleted")
}

func actorFrom(c *session.Claims) Actor {
	return Actor{ID: c.UserID, Role: c.Role}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Validation(w, "validation failed", map[string]any{"id": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := h.svc.SetBlocked(r.Context(), actorFrom(claims), id, blocked, requestInfo(r))
	if err != nil {
		h.fail(w, "user.set_blocked", err)
		return
	}
	response.OK(w, u, "")
}

// Block serves POST /api/admin/users/{id}/block.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) { h.setBlocked(w, r, true) }

// Unblock serves POST /api/admin/users/{id}/unblock.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) { h.setBlocked(w, r, false) }

type roleRequest struct {
	Role string `json:"role" validate:"required"`
}

// ChangeRole serves PUT /api/admin/users/{id}/role.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !response.Decode(w, r, &req) {
		return
	}
	role, err := entity.ParseRole(req.Role)
	if err != nil {
		response.Validation(w, "validation failed", map[string]any{"role": "is invalid"})
		return
	}
	u, err := h.svc.ChangeRole(r.Context(), actorFrom(claims), id, role, requestInfo(r))
	if err != nil {
		h.fail(w, "user.change_role", err)
		return
	}
	response.OK(w, u, "")
}

// GetUser serves GET /api/admin/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "user.get", err)
		return
	}
	response.OK(w, u, "")
}
