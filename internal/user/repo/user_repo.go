package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
)

// UserRepo provides data access for users table using sqlx.
// Soft-deleted rows are invisible to every read.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, account_status,
	email_verified, login_failed_attempts, locked_until, last_login_at, created_at, updated_at, deleted_at`

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email CITEXT NOT NULL,
  password_hash TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  phone TEXT,
  role TEXT NOT NULL DEFAULT 'VISITOR',
  account_status TEXT NOT NULL DEFAULT 'PENDING_VERIFICATION',
  email_verified BOOLEAN NOT NULL DEFAULT false,
  login_failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  last_login_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email_live ON users(email) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (email, password_hash, first_name, last_name, phone, role, account_status, email_verified)
		VALUES (:email, :password_hash, :first_name, :last_name, :phone, :role, :account_status, :email_verified)
		RETURNING id, created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("no id returned")
}

// GetByEmail returns a live user matched by email (case-insensitive due to citext) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var u entity.User
	q := `SELECT ` + userColumns + ` FROM users WHERE email=$1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, &u, q, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID fetches a live user row or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var u entity.User
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id int64) (int, error) {
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold sets locked_until when the failure counter reached threshold,
// and restarts the counter for the next window.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id int64, threshold int, until time.Time) (bool, error) {
	const q = `UPDATE users SET locked_until=$2, login_failed_attempts=0, updated_at=NOW()
		WHERE id=$1 AND login_failed_attempts >= $3 RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id, until, threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id int64) error {
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=NOW(), locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// MarkEmailVerified flags the address as verified and activates a pending account.
// A blocked account stays blocked.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id int64) error {
	const q = `UPDATE users SET email_verified=true,
		account_status = CASE WHEN account_status='PENDING_VERIFICATION' THEN 'ACTIVE' ELSE account_status END,
		updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id)
}

// UpdatePassword stores a new hash and clears any login lock.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password_hash=$2, login_failed_attempts=0, locked_until=NULL, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, hash)
}

// UpdateEmail replaces the address; it stays verified since the change was confirmed by code.
func (r *UserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	const q = `UPDATE users SET email=$2, email_verified=true, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, email)
}

// UpdateProfile writes the editable profile fields.
func (r *UserRepo) UpdateProfile(ctx context.Context, id int64, p entity.Profile) error {
	const q = `UPDATE users SET first_name=$2, last_name=$3, phone=$4, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, p.FirstName, p.LastName, p.Phone)
}

// SetStatus changes the account status.
func (r *UserRepo) SetStatus(ctx context.Context, id int64, status entity.AccountStatus) error {
	const q = `UPDATE users SET account_status=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, status)
}

// SetRole changes the role.
func (r *UserRepo) SetRole(ctx context.Context, id int64, role entity.Role) error {
	const q = `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, role)
}

// SoftDelete hides the row from every lookup; the id stays referenced by audit entries.
func (r *UserRepo) SoftDelete(ctx context.Context, id int64) error {
	const q = `UPDATE users SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
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
