package router

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/audit"
	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
	"github.com/ovaphlow/salon/service-core-go/internal/ratelimit"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	"github.com/ovaphlow/salon/service-core-go/internal/setting"
	"github.com/ovaphlow/salon/service-core-go/internal/user"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs requests at debug level and records their latency.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RequestDuration.WithLabelValues(r.Method, strconv.Itoa(status)).Observe(dur.Seconds())
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// Deps are the handlers and collaborators the route table is built from.
type Deps struct {
	Users    *user.Handler
	Sessions *session.Handler
	Audit    *audit.Handler
	Settings *setting.Handler
	Verifier AccessVerifier
	Limiter  *ratelimit.Limiter
	// Proxies resolves client addresses behind trusted proxies; nil keys on RemoteAddr.
	Proxies *utilities.ProxyResolver
	// Ping reports store health for /health; nil means always healthy.
	Ping func(ctx context.Context) error
}

// RegisterRoutes mounts every endpoint on an http.ServeMux behind the
// gatekeeper and the logging middleware.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				logger.Warnw("health check failed", "error", err)
				response.Fail(w, http.StatusServiceUnavailable, response.CodeInternal, "unhealthy", nil)
				return
			}
		}
		response.OK(w, map[string]string{"status": "ok"}, "")
	})
	mux.Handle("GET /metrics", metrics.Handler())

	limited := func(route string, h http.HandlerFunc) http.Handler {
		return d.Limiter.Middleware(route)(h)
	}

	// auth
	mux.Handle("POST /api/auth/register", limited("register", d.Users.Register))
	mux.Handle("POST /api/auth/login", limited("login", d.Users.Login))
	mux.Handle("POST /api/auth/verify-email", limited("verify_email", d.Users.VerifyEmail))
	mux.Handle("POST /api/auth/resend-verification", limited("resend_verification", d.Users.ResendVerification))
	mux.Handle("POST /api/auth/forgot-password", limited("forgot_password", d.Users.ForgotPassword))
	mux.Handle("POST /api/auth/reset-password", limited("reset_password", d.Users.ResetPassword))
	mux.HandleFunc("POST /api/auth/refresh", d.Sessions.Refresh)
	mux.HandleFunc("POST /api/auth/logout", d.Sessions.Logout)
	mux.HandleFunc("GET /api/auth/me", d.Users.Me)

	// self service
	mux.HandleFunc("PUT /api/users/me", d.Users.UpdateProfile)
	mux.HandleFunc("POST /api/users/me/email-change", d.Users.RequestEmailChange)
	mux.HandleFunc("POST /api/users/me/email-change/confirm", d.Users.ConfirmEmailChange)
	mux.HandleFunc("POST /api/users/me/delete-request", d.Users.RequestAccountDelete)
	mux.HandleFunc("POST /api/users/me/delete-confirm", d.Users.ConfirmAccountDelete)

	// administration
	mux.HandleFunc("GET /api/admin/users/{id}", d.Users.GetUser)
	mux.HandleFunc("POST /api/admin/users/{id}/block", d.Users.Block)
	mux.HandleFunc("POST /api/admin/users/{id}/unblock", d.Users.Unblock)
	mux.HandleFunc("PUT /api/admin/users/{id}/role", d.Users.ChangeRole)
	mux.HandleFunc("GET /api/admin/audit-logs", d.Audit.List)
	mux.HandleFunc("GET /api/admin/settings", d.Settings.List)
	mux.HandleFunc("POST /api/admin/settings", d.Settings.Create)
	mux.HandleFunc("GET /api/admin/settings/{id}", d.Settings.Get)
	mux.HandleFunc("PUT /api/admin/settings/{id}", d.Settings.Update)
	mux.HandleFunc("DELETE /api/admin/settings/{id}", d.Settings.Delete)

	// public
	mux.HandleFunc("GET /api/public/settings", d.Settings.PublicList)

	var handler http.Handler = Gatekeeper(d.Verifier, logger)(mux)
	if d.Proxies != nil {
		handler = d.Proxies.Middleware(handler)
	}
	return LoggingMiddleware(logger)(handler)
}
