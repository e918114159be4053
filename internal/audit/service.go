// Package audit records the append-only trail of state-changing operations.
package audit

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// Store is the persistence the recorder needs.
type Store interface {
	Insert(ctx context.Context, e *entity.Entry) error
	List(ctx context.Context, f entity.Filter) ([]entity.Entry, error)
}

// Recorder stamps and persists audit entries. Writes are synchronous.
type Recorder struct {
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewRecorder(store Store, logger *zap.SugaredLogger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record fills id and timestamp, then inserts e.
func (r *Recorder) Record(ctx context.Context, e entity.Entry) error {
	e.ID = utilities.NewSnowflakeID()
	e.CreatedAt = r.now().UTC()
	if e.Before == nil {
		e.Before = entity.Snapshot(nil)
	}
	if e.After == nil {
		e.After = entity.Snapshot(nil)
	}
	if err := r.store.Insert(ctx, &e); err != nil {
		return err
	}
	r.logger.Debugw("audit", "action", e.Action, "entity", e.EntityType, "entity_id", e.EntityID)
	return nil
}

// List clamps paging and returns entries newest first.
func (r *Recorder) List(ctx context.Context, f entity.Filter) ([]entity.Entry, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return r.store.List(ctx, f)
}

// FromRequest prefills the request metadata of an entry.
func FromRequest(r *http.Request, actorID *int64, action entity.Action, entityType, entityID string) entity.Entry {
	return entity.Entry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  utilities.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}
}
