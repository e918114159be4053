package router

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
)

// PublicPaths bypass the gatekeeper. "/" matches exactly; every other entry
// matches itself and anything below it.
var PublicPaths = []string{
	"/",
	"/auth/login",
	"/auth/register",
	"/auth/forgot-password",
	"/auth/reset-password",
	"/auth/verify-email",
	"/health",
	"/metrics",
	"/static",
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/verify-email",
	"/api/auth/resend-verification",
	"/api/auth/forgot-password",
	"/api/auth/reset-password",
	"/api/auth/refresh",
	"/api/auth/logout",
	"/api/public",
}

var adminPrefixes = []string{"/admin", "/api/admin"}

const (
	loginPage   = "/auth/login"
	landingPage = "/dashboard"
)

// AccessVerifier resolves an access token to its claims, or nil.
type AccessVerifier interface {
	VerifyAccess(token string) *session.Claims
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// IsPublic reports whether path is on the allow-list.
func IsPublic(path string) bool {
	for _, p := range PublicPaths {
		if p == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if underPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAdmin(path string) bool {
	for _, p := range adminPrefixes {
		if underPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAPI(path string) bool { return underPrefix(path, "/api") }

// hardening sets the response headers every authenticated response carries.
func hardening(h http.Header) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
}

// accessToken reads the access cookie and falls back to a bearer header.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(session.AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return session.BearerToken(r)
}

// Gatekeeper authenticates every non-public request and keeps non-admins
// out of the admin area. Expired access tokens are rejected; clients call
// /api/auth/refresh themselves.
func Gatekeeper(verifier AccessVerifier, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if r.Method == http.MethodOptions || IsPublic(path) {
				next.ServeHTTP(w, r)
				return
			}

			var claims *session.Claims
			token := accessToken(r)
			if token != "" {
				claims = verifier.VerifyAccess(token)
			}
			if claims == nil {
				reason := "missing_token"
				if token != "" {
					reason = "invalid_token"
				}
				metrics.GatekeeperRejections.WithLabelValues(reason).Inc()
				if isAPI(path) {
					response.Unauthorized(w, "authentication required")
					return
				}
				target := path
				if r.URL.RawQuery != "" {
					target += "?" + r.URL.RawQuery
				}
				http.Redirect(w, r, loginPage+"?redirect="+url.QueryEscape(target), http.StatusFound)
				return
			}

			if isAdmin(path) && !entity.AtLeast(claims.Role, entity.RoleAdmin) {
				metrics.GatekeeperRejections.WithLabelValues("insufficient_role").Inc()
				logger.Infow("admin area denied", "user_id", claims.UserID, "role", claims.Role, "path", path)
				if isAPI(path) {
					response.Forbidden(w, "insufficient permissions")
					return
				}
				http.Redirect(w, r, landingPage, http.StatusFound)
				return
			}

			hardening(w.Header())
			next.ServeHTTP(w, r.WithContext(session.WithClaims(r.Context(), claims)))
		})
	}
}
