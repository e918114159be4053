// Package otp issues and checks short numeric codes bound to a user and a purpose.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
	"github.com/ovaphlow/salon/service-core-go/internal/otp/entity"
	"github.com/ovaphlow/salon/service-core-go/pkg/database"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// Verification failures. They are expected outcomes, not infrastructure errors.
var (
	ErrCodeInvalidOrExpired = errors.New("invalid or expired code")
	ErrCodeExpired          = errors.New("code expired")
	ErrMaxAttempts          = errors.New("maximum attempts reached")
	ErrIncorrectCode        = errors.New("incorrect code")
)

var (
	ErrUnknownPurpose  = errors.New("unknown otp purpose")
	ErrConcurrentIssue = errors.New("another code is being issued for this purpose")
)

// IsVerificationFailure reports whether err is one of the expected Verify outcomes.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrCodeInvalidOrExpired) || errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrMaxAttempts) || errors.Is(err, ErrIncorrectCode)
}

// Store is the persistence the manager needs; repo.OTPRepo implements it.
type Store interface {
	Issue(ctx context.Context, o *entity.OTP) (int64, error)
	LatestPending(ctx context.Context, userID int64, purpose entity.Purpose) (*entity.OTP, error)
	LastCreatedAt(ctx context.Context, userID int64, purpose entity.Purpose) (time.Time, bool, error)
	GetByID(ctx context.Context, id string) (*entity.OTP, error)
	Close(ctx context.Context, id string, status entity.Status, at time.Time) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Issued is what Create hands back to the caller that delivers the code.
type Issued struct {
	OTPID     string
	Code      string
	ExpiresAt time.Time
}

type Manager struct {
	store  Store
	cfg    config.OTP
	logger *zap.SugaredLogger
	now    func() time.Time
	rand   io.Reader
}

func NewManager(store Store, cfg config.OTP, logger *zap.SugaredLogger) *Manager {
	return &Manager{store: store, cfg: cfg, logger: logger, now: time.Now, rand: rand.Reader}
}

// ExpiryWindow is the lifetime of a freshly issued code.
func (m *Manager) ExpiryWindow() time.Duration { return m.cfg.Expiry }

func (m *Manager) generateCode() (string, error) {
	n, err := rand.Int(m.rand, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create supersedes any pending code of (userID, purpose) with a new one.
func (m *Manager) Create(ctx context.Context, userID int64, purpose entity.Purpose, recipient string, meta entity.Metadata) (*Issued, error) {
	if !purpose.Valid() {
		return nil, ErrUnknownPurpose
	}
	code, err := m.generateCode()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	o := &entity.OTP{
		ID:        utilities.NewSnowflakeID(),
		UserID:    userID,
		Purpose:   purpose,
		Code:      code,
		Recipient: recipient,
		Status:    entity.StatusPending,
		ExpiresAt: now.Add(m.cfg.Expiry),
		CreatedAt: now,
		Metadata:  meta,
	}
	canceled, err := m.store.Issue(ctx, o)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrConcurrentIssue
		}
		return nil, err
	}
	metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()
	m.logger.Infow("otp issued", "user_id", userID, "purpose", purpose, "otp_id", o.ID, "superseded", canceled)
	return &Issued{OTPID: o.ID, Code: code, ExpiresAt: o.ExpiresAt}, nil
}

// Verify checks code against the newest pending row of (userID, purpose) and
// returns its id on success. Expected failures are the Err* sentinels above.
func (m *Manager) Verify(ctx context.Context, userID int64, code string, purpose entity.Purpose) (string, error) {
	id, err := m.verify(ctx, userID, code, purpose)
	result := "success"
	switch {
	case err == nil:
	case IsVerificationFailure(err):
		result = err.Error()
	default:
		result = "error"
	}
	metrics.OTPVerifications.WithLabelValues(string(purpose), result).Inc()
	return id, err
}

func (m *Manager) verify(ctx context.Context, userID int64, code string, purpose entity.Purpose) (string, error) {
	o, err := m.store.LatestPending(ctx, userID, purpose)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCodeInvalidOrExpired
	}
	if err != nil {
		return "", fmt.Errorf("load otp: %w", err)
	}
	now := m.now().UTC()

	if o.Expired(now) {
		if err := m.close(ctx, o.ID, entity.StatusExpired, now); err != nil {
			return "", err
		}
		return "", ErrCodeExpired
	}
	if o.Attempts >= m.cfg.MaxAttempts {
		if err := m.close(ctx, o.ID, entity.StatusCanceled, now); err != nil {
			return "", err
		}
		return "", ErrMaxAttempts
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(o.Code)) != 1 {
		n, err := m.store.IncrementAttempts(ctx, o.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCodeInvalidOrExpired
		}
		if err != nil {
			return "", fmt.Errorf("increment attempts: %w", err)
		}
		if n >= m.cfg.MaxAttempts {
			if err := m.close(ctx, o.ID, entity.StatusCanceled, now); err != nil {
				return "", err
			}
			m.logger.Infow("otp exhausted", "user_id", userID, "purpose", purpose, "otp_id", o.ID)
		}
		return "", ErrIncorrectCode
	}

	if err := m.store.Close(ctx, o.ID, entity.StatusVerified, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// consumed by a concurrent request
			return "", ErrCodeInvalidOrExpired
		}
		return "", fmt.Errorf("mark verified: %w", err)
	}
	m.logger.Infow("otp verified", "user_id", userID, "purpose", purpose, "otp_id", o.ID)
	return o.ID, nil
}

// close ignores rows another request already moved out of PENDING.
func (m *Manager) close(ctx context.Context, id string, status entity.Status, at time.Time) error {
	err := m.store.Close(ctx, id, status, at)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("close otp: %w", err)
	}
	return nil
}

// CanSend throttles re-issuance: a code of any status created within the resend
// window blocks a new one, and the remaining wait is returned.
func (m *Manager) CanSend(ctx context.Context, userID int64, purpose entity.Purpose) (bool, time.Duration, error) {
	last, ok, err := m.store.LastCreatedAt(ctx, userID, purpose)
	if err != nil {
		return false, 0, fmt.Errorf("last otp: %w", err)
	}
	if !ok {
		return true, 0, nil
	}
	remaining := m.cfg.ResendWindow - m.now().Sub(last)
	if remaining > 0 {
		return false, remaining, nil
	}
	return true, 0, nil
}

// Get returns a code row by id, any status.
func (m *Manager) Get(ctx context.Context, id string) (*entity.OTP, error) {
	return m.store.GetByID(ctx, id)
}

// CleanExpired deletes terminal rows past the retention window. Run it from the janitor.
func (m *Manager) CleanExpired(ctx context.Context) (int64, error) {
	cutoff := m.now().UTC().Add(-m.cfg.Retention)
	n, err := m.store.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean otps: %w", err)
	}
	return n, nil
}
