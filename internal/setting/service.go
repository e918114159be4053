package setting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	auditentity "github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/setting/entity"
	"github.com/ovaphlow/salon/service-core-go/pkg/database"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// sentinel errors for common failure modes
var (
	ErrNotFound        = errors.New("setting not found")
	ErrVersionConflict = errors.New("setting was modified by someone else")
	ErrDuplicateKey    = errors.New("setting key already exists")
)

// Store is the persistence the service needs; repo.Repo implements it.
type Store interface {
	List(ctx context.Context, f entity.Filter) ([]entity.Setting, error)
	GetByID(ctx context.Context, id string) (*entity.Setting, error)
	Create(ctx context.Context, s *entity.Setting) error
	Update(ctx context.Context, s *entity.Setting, expected int) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
}

type Auditor interface {
	Record(ctx context.Context, e auditentity.Entry) error
}

// Input is the writable part of a setting.
type Input struct {
	Key      string
	Category string
	Value    types.JSONText
	Public   bool
}

// Service encapsulates business logic for settings and depends on a repo.
type Service struct {
	repo   Store
	audit  Auditor
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewService constructs a Service with the provided repository.
func NewService(r Store, auditor Auditor, logger *zap.SugaredLogger) *Service {
	return &Service{repo: r, audit: auditor, logger: logger, now: time.Now}
}

// record writes the audit entry; meta carries actor and request metadata.
func (s *Service) record(ctx context.Context, meta auditentity.Entry, before, after any) {
	meta.EntityType = "setting"
	if before != nil {
		meta.Before = auditentity.Snapshot(before)
	}
	if after != nil {
		meta.After = auditentity.Snapshot(after)
	}
	if err := s.audit.Record(ctx, meta); err != nil {
		s.logger.Errorw("audit write failed", "action", meta.Action, "setting_id", meta.EntityID, "error", err)
	}
}

// List returns settings with clamped pagination.
func (s *Service) List(ctx context.Context, f entity.Filter) ([]entity.Setting, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Get returns a setting by id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Setting, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return st, nil
}

func valueOrEmpty(v types.JSONText) types.JSONText {
	if len(v) == 0 {
		return types.JSONText("{}")
	}
	return v
}

// Create stores a new setting at version 1.
func (s *Service) Create(ctx context.Context, in Input, meta auditentity.Entry) (*entity.Setting, error) {
	now := s.now().UTC()
	st := &entity.Setting{
		ID:        utilities.NewKSUID(),
		Key:       in.Key,
		Category:  in.Category,
		Value:     valueOrEmpty(in.Value),
		Public:    in.Public,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, st); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create setting: %w", err)
	}
	meta.Action, meta.EntityID = auditentity.ActionCreate, st.ID
	s.record(ctx, meta, nil, st)
	return st, nil
}

// Update replaces a setting when version still matches the stored one.
func (s *Service) Update(ctx context.Context, id string, version int, in Input, meta auditentity.Entry) (*entity.Setting, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Version != version {
		return nil, ErrVersionConflict
	}
	next := *existing
	next.Key, next.Category, next.Value, next.Public = in.Key, in.Category, valueOrEmpty(in.Value), in.Public
	next.Version = version + 1
	next.UpdatedAt = s.now().UTC()

	rows, err := s.repo.Update(ctx, &next, version)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update setting: %w", err)
	}
	if rows == 0 {
		// existing was found, so 0 rows indicates version mismatch
		return nil, ErrVersionConflict
	}
	meta.Action, meta.EntityID = auditentity.ActionUpdate, id
	s.record(ctx, meta, existing, &next)
	return &next, nil
}

// Delete removes a setting by id.
func (s *Service) Delete(ctx context.Context, id string, meta auditentity.Entry) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rows, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	meta.Action, meta.EntityID = auditentity.ActionDelete, id
	s.record(ctx, meta, existing, nil)
	return nil
}
