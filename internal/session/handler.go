package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/audit"
	auditentity "github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
)

// Auditor is the slice of audit.Recorder the handlers use.
type Auditor interface {
	Record(ctx context.Context, e auditentity.Entry) error
}

type Handler struct {
	mgr    *Manager
	audit  Auditor
	logger *zap.SugaredLogger
}

func NewHandler(mgr *Manager, auditor Auditor, logger *zap.SugaredLogger) *Handler {
	return &Handler{mgr: mgr, audit: auditor, logger: logger}
}

// Refresh serves POST /api/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	out, err := h.mgr.Refresh(r.Context(), HTTPJar(w, r))
	if errors.Is(err, ErrNoSession) {
		response.Fail(w, http.StatusUnauthorized, response.CodeTokenInvalid, "session expired, please sign in again", nil)
		return
	}
	if err != nil {
		response.Internal(w, h.logger, "session.refresh", err)
		return
	}
	response.OK(w, map[string]any{"user": out.User, "expiresAt": out.ExpiresAt}, "")
}

// Logout serves POST /api/auth/logout. It succeeds without a session too.
// The actor comes from the access cookie, or from the refresh cookie once the
// access token has expired.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	jar := HTTPJar(w, r)
	claims := h.mgr.Current(jar)
	refresh, err := h.mgr.Destroy(r.Context(), jar)
	if err != nil {
		h.logger.Errorw("logout revoke failed", "error", err)
	}
	if claims == nil {
		claims = refresh
	}
	if claims != nil {
		actor := claims.UserID
		e := audit.FromRequest(r, &actor, auditentity.ActionLogout, "user", strconv.FormatInt(actor, 10))
		if err := h.audit.Record(r.Context(), e); err != nil {
			h.logger.Errorw("audit logout failed", "error", err)
		}
	}
	response.OK(w, nil, "signed out")
}
