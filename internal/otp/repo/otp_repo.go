package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/salon/service-core-go/internal/otp/entity"
)

// OTPRepo persists one-time codes. At most one PENDING row exists per
// (user_id, purpose); the partial unique index enforces it.
type OTPRepo struct {
	db *sqlx.DB
}

func NewOTPRepo(db *sqlx.DB) *OTPRepo { return &OTPRepo{db: db} }

const otpColumns = `id, user_id, purpose, code, recipient, status, attempts, expires_at, created_at, used_at, closed_at, metadata`

func (r *OTPRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS otps (
  id TEXT PRIMARY KEY,
  user_id BIGINT NOT NULL,
  purpose VARCHAR(32) NOT NULL,
  code VARCHAR(6) NOT NULL,
  recipient TEXT NOT NULL,
  status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
  attempts INT NOT NULL DEFAULT 0,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  used_at TIMESTAMPTZ,
  closed_at TIMESTAMPTZ,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_otps_pending ON otps(user_id, purpose) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_otps_user_purpose_created ON otps(user_id, purpose, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_otps_closed_at ON otps(closed_at) WHERE closed_at IS NOT NULL;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Issue cancels the pending rows of (o.UserID, o.Purpose) and inserts o in one transaction.
// It returns the number of rows it canceled.
func (r *OTPRepo) Issue(ctx context.Context, o *entity.OTP) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE otps SET status='CANCELED', closed_at=$3 WHERE user_id=$1 AND purpose=$2 AND status='PENDING'`,
		o.UserID, o.Purpose, o.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("cancel pending: %w", err)
	}
	canceled, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	const ins = `INSERT INTO otps (id, user_id, purpose, code, recipient, status, attempts, expires_at, created_at, metadata)
		VALUES (:id, :user_id, :purpose, :code, :recipient, :status, :attempts, :expires_at, :created_at, :metadata)`
	if _, err := tx.NamedExecContext(ctx, ins, o); err != nil {
		return 0, fmt.Errorf("insert otp: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return canceled, nil
}

// LatestPending returns the newest PENDING row or sql.ErrNoRows.
func (r *OTPRepo) LatestPending(ctx context.Context, userID int64, purpose entity.Purpose) (*entity.OTP, error) {
	var o entity.OTP
	q := `SELECT ` + otpColumns + ` FROM otps WHERE user_id=$1 AND purpose=$2 AND status='PENDING' ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &o, q, userID, purpose); err != nil {
		return nil, err
	}
	return &o, nil
}

// LastCreatedAt returns the creation time of the newest row in any status.
func (r *OTPRepo) LastCreatedAt(ctx context.Context, userID int64, purpose entity.Purpose) (time.Time, bool, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t, `SELECT created_at FROM otps WHERE user_id=$1 AND purpose=$2 ORDER BY created_at DESC LIMIT 1`, userID, purpose)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// GetByID returns a row in any status or sql.ErrNoRows.
func (r *OTPRepo) GetByID(ctx context.Context, id string) (*entity.OTP, error) {
	var o entity.OTP
	if err := r.db.GetContext(ctx, &o, `SELECT `+otpColumns+` FROM otps WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &o, nil
}

// Close moves a PENDING row to a terminal status. sql.ErrNoRows means the row
// was no longer pending.
func (r *OTPRepo) Close(ctx context.Context, id string, status entity.Status, at time.Time) error {
	const q = `UPDATE otps SET status=$2, closed_at=$3,
		used_at = CASE WHEN $2 = 'VERIFIED' THEN $3 ELSE used_at END
		WHERE id=$1 AND status='PENDING'`
	res, err := r.db.ExecContext(ctx, q, id, status, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementAttempts bumps the counter of a PENDING row and returns the new value.
func (r *OTPRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `UPDATE otps SET attempts = attempts + 1 WHERE id=$1 AND status='PENDING' RETURNING attempts`, id)
	return n, err
}

// DeleteClosedBefore removes terminal rows closed before the cutoff.
func (r *OTPRepo) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM otps WHERE status IN ('VERIFIED','EXPIRED','CANCELED') AND closed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
