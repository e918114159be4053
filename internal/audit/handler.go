package audit

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
)

// Handler exposes the audit trail to administrators.
type Handler struct {
	rec    *Recorder
	logger *zap.SugaredLogger
}

func NewHandler(rec *Recorder, logger *zap.SugaredLogger) *Handler {
	return &Handler{rec: rec, logger: logger}
}

// List serves GET /api/admin/audit-logs.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.Filter{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
	}
	var err error
	if v := q.Get("actorId"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			response.Validation(w, "validation failed", map[string]any{"actorId": "must be an integer"})
			return
		}
		f.ActorID = &id
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			response.Validation(w, "validation failed", map[string]any{"limit": "must be an integer"})
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			response.Validation(w, "validation failed", map[string]any{"offset": "must be an integer"})
			return
		}
	}
	entries, err := h.rec.List(r.Context(), f)
	if err != nil {
		response.Internal(w, h.logger, "audit.list", err)
		return
	}
	response.OK(w, entries, "")
}
