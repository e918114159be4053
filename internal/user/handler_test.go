package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
)

func newTestHandler(f *fixture) *Handler {
	signer := session.NewSigner(
		config.TokenDomain{Secret: []byte("a-secret"), Issuer: "salon-api", Audience: "salon-web", TTL: 15 * time.Minute},
		config.TokenDomain{Secret: []byte("r-secret"), Issuer: "salon-api", Audience: "salon-refresh", TTL: 7 * 24 * time.Hour},
		zap.NewNop().Sugar())
	return NewHandler(f.svc, session.NewManager(signer, nil, false, zap.NewNop().Sugar()), zap.NewNop().Sugar())
}

func post(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details map[string]any  `json:"details"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func cookieNames(rec *httptest.ResponseRecorder) []string {
	var out []string
	for _, c := range rec.Result().Cookies() {
		out = append(out, c.Name)
	}
	return out
}

func withClaims(r *http.Request, id int64, role entity.Role) *http.Request {
	return r.WithContext(session.WithClaims(r.Context(), &session.Claims{UserID: id, Role: role}))
}

func TestHandlerRegisterVerifyLogin(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	rec := httptest.NewRecorder()
	h.Register(rec, post("/api/auth/register", `{"email":"v@example.com","password":"Password1!","firstName":"Ann","lastName":"Lee","role":"EXHIBITOR"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.NotContains(t, string(body.Data), "passwordHash")
	assert.Contains(t, string(body.Data), `"role":"EXHIBITOR"`)

	rec = httptest.NewRecorder()
	h.Login(rec, post("/api/auth/login", `{"email":"v@example.com","password":"Password1!"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", decode(t, rec).Code)

	rec = httptest.NewRecorder()
	h.VerifyEmail(rec, post("/api/auth/verify-email", `{"email":"v@example.com","code":"`+f.mail.last().code+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.ElementsMatch(t, []string{session.AccessCookie, session.RefreshCookie}, cookieNames(rec))

	rec = httptest.NewRecorder()
	h.Login(rec, post("/api/auth/login", `{"email":"v@example.com","password":"Password1!"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{session.AccessCookie, session.RefreshCookie}, cookieNames(rec))
}

func TestHandlerRegisterValidation(t *testing.T) {
	h := newTestHandler(newFixture())
	rec := httptest.NewRecorder()
	h.Register(rec, post("/api/auth/register", `{"email":"nope","password":"short","firstName":"A","lastName":"B"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Contains(t, body.Details, "email")
	assert.Contains(t, body.Details, "password")

	rec = httptest.NewRecorder()
	h.Register(rec, post("/api/auth/register", `{"email":"a@example.com","password":"Password1!","firstName":"A","lastName":"B","role":"ADMIN"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLoginBadCredentials(t *testing.T) {
	f := newFixture()
	f.activeUser("a@example.com", entity.RoleVisitor)
	h := newTestHandler(f)

	rec := httptest.NewRecorder()
	h.Login(rec, post("/api/auth/login", `{"email":"a@example.com","password":"nope"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode(t, rec).Code)
	assert.Empty(t, cookieNames(rec))
}

func TestHandlerForgotPasswordIdenticalAnswers(t *testing.T) {
	f := newFixture()
	f.activeUser("a@example.com", entity.RoleVisitor)
	h := newTestHandler(f)

	known := httptest.NewRecorder()
	h.ForgotPassword(known, post("/api/auth/forgot-password", `{"email":"a@example.com"}`))
	unknown := httptest.NewRecorder()
	h.ForgotPassword(unknown, post("/api/auth/forgot-password", `{"email":"ghost@example.com"}`))

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, ForgotPasswordMessage, decode(t, known).Message)
}

func TestHandlerVerifyEmailOTPErrors(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)
	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: goodPassword}, RequestInfo{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, post("/api/auth/verify-email", `{"email":"a@example.com","code":"000000"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OTP_INVALID", decode(t, rec).Code)
}

func TestHandlerResendThrottledCarriesRemainingTime(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)
	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: goodPassword}, RequestInfo{})
	require.NoError(t, err)
	f.otps.blocked["VERIFICATION_EMAIL"] = 30 * time.Second

	rec := httptest.NewRecorder()
	h.ResendVerification(rec, post("/api/auth/resend-verification", `{"email":"a@example.com"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.EqualValues(t, 30, body.Details["remainingTime"])
}

func TestHandlerMe(t *testing.T) {
	f := newFixture()
	u := f.activeUser("a@example.com", entity.RoleVisitor)
	h := newTestHandler(f)

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Me(rec, withClaims(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), u.ID, u.Role))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decode(t, rec).Data), `"email":"a@example.com"`)
}

func TestHandlerDeleteFlowClearsCookies(t *testing.T) {
	f := newFixture()
	u := f.activeUser("a@example.com", entity.RoleVisitor)
	h := newTestHandler(f)

	rec := httptest.NewRecorder()
	h.RequestAccountDelete(rec, withClaims(post("/api/users/me/delete-request", ``), u.ID, u.Role))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ConfirmAccountDelete(rec, withClaims(post("/api/users/me/delete-confirm", `{"code":"`+f.mail.last().code+`"}`), u.ID, u.Role))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
	}
}

func TestHandlerChangeRole(t *testing.T) {
	f := newFixture()
	admin := f.activeUser("admin@example.com", entity.RoleAdmin)
	target := f.activeUser("v@example.com", entity.RoleVisitor)
	h := newTestHandler(f)

	r := withClaims(httptest.NewRequest(http.MethodPut, "/api/admin/users/x/role", strings.NewReader(`{"role":"PARTNER"}`)), admin.ID, admin.Role)
	r.SetPathValue("id", "x")
	rec := httptest.NewRecorder()
	h.ChangeRole(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r = withClaims(httptest.NewRequest(http.MethodPut, "/api/admin/users/2/role", strings.NewReader(`{"role":"SUPER_ADMIN"}`)), admin.ID, admin.Role)
	r.SetPathValue("id", "2")
	rec = httptest.NewRecorder()
	h.ChangeRole(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec).Code)

	r = withClaims(httptest.NewRequest(http.MethodPut, "/api/admin/users/2/role", strings.NewReader(`{"role":"PARTNER"}`)), admin.ID, admin.Role)
	r.SetPathValue("id", "2")
	rec = httptest.NewRecorder()
	h.ChangeRole(rec, r)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(decode(t, rec).Data), `"role":"PARTNER"`)
	assert.Equal(t, int64(2), target.ID)
}

func TestHandlerBlockUnknownUser(t *testing.T) {
	f := newFixture()
	admin := f.activeUser("admin@example.com", entity.RoleAdmin)
	h := newTestHandler(f)

	r := withClaims(post("/api/admin/users/999/block", ``), admin.ID, admin.Role)
	r.SetPathValue("id", "999")
	rec := httptest.NewRecorder()
	h.Block(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
