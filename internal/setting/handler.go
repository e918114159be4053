package setting

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/audit"
	auditentity "github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	"github.com/ovaphlow/salon/service-core-go/internal/setting/entity"
)

// Handler contains dependencies for handling setting endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

// NewHandler constructs a new Handler.
func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrDuplicateKey):
		response.Conflict(w, err.Error())
	default:
		response.Internal(w, h.logger, op, err)
	}
}

func auditMeta(r *http.Request, id string) auditentity.Entry {
	var actor *int64
	if c := session.ClaimsFrom(r.Context()); c != nil {
		uid := c.UserID
		actor = &uid
	}
	return audit.FromRequest(r, actor, "", "setting", id)
}

func filterFrom(w http.ResponseWriter, r *http.Request) (entity.Filter, bool) {
	q := r.URL.Query()
	f := entity.Filter{Category: q.Get("category")}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			response.Validation(w, "validation failed", map[string]any{"limit": "must be an integer"})
			return f, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			response.Validation(w, "validation failed", map[string]any{"offset": "must be an integer"})
			return f, false
		}
	}
	return f, true
}

// List serves GET /api/admin/settings.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := filterFrom(w, r)
	if !ok {
		return
	}
	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.fail(w, "setting.list", err)
		return
	}
	response.OK(w, items, "")
}

// PublicList serves GET /api/public/settings and only returns public settings.
func (h *Handler) PublicList(w http.ResponseWriter, r *http.Request) {
	f, ok := filterFrom(w, r)
	if !ok {
		return
	}
	f.PublicOnly = true
	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.fail(w, "setting.public_list", err)
		return
	}
	response.OK(w, items, "")
}

// Get serves GET /api/admin/settings/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "setting.get", err)
		return
	}
	response.OK(w, st, "")
}

type settingRequest struct {
	Key      string          `json:"key" validate:"required,max=128"`
	Category string          `json:"category" validate:"required,max=32"`
	Value    json.RawMessage `json:"value"`
	Public   bool            `json:"public"`
	Version  int             `json:"version"`
}

func (req settingRequest) input() Input {
	return Input{Key: req.Key, Category: req.Category, Value: types.JSONText(req.Value), Public: req.Public}
}

// Create serves POST /api/admin/settings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !response.Decode(w, r, &req) {
		return
	}
	st, err := h.svc.Create(r.Context(), req.input(), auditMeta(r, ""))
	if err != nil {
		h.fail(w, "setting.create", err)
		return
	}
	response.Created(w, st, "")
}

// Update serves PUT /api/admin/settings/{id}. The body must carry the
// version the client last read.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if req.Version <= 0 {
		response.Validation(w, "validation failed", map[string]any{"version": "is required"})
		return
	}
	id := r.PathValue("id")
	st, err := h.svc.Update(r.Context(), id, req.Version, req.input(), auditMeta(r, id))
	if err != nil {
		h.fail(w, "setting.update", err)
		return
	}
	response.OK(w, st, "")
}

// Delete serves DELETE /api/admin/settings/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.Delete(r.Context(), id, auditMeta(r, id)); err != nil {
		h.fail(w, "setting.delete", err)
		return
	}
	response.OK(w, nil, "setting deleted")
}
