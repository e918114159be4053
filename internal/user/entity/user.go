package entity

import "time"

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusPendingVerification AccountStatus = "PENDING_VERIFICATION"
	StatusActive              AccountStatus = "ACTIVE"
	StatusBlocked             AccountStatus = "BLOCKED"
)

// User represents an account row in the `users` table.
// Deleted rows keep their id so the audit trail stays resolvable.
type User struct {
	ID                  int64         `db:"id" json:"id"`
	Email               string        `db:"email" json:"email"`
	PasswordHash        string        `db:"password_hash" json:"-"`
	FirstName           string        `db:"first_name" json:"firstName"`
	LastName            string        `db:"last_name" json:"lastName"`
	Phone               *string       `db:"phone" json:"phone,omitempty"`
	Role                Role          `db:"role" json:"role"`
	Status              AccountStatus `db:"account_status" json:"accountStatus"`
	EmailVerified       bool          `db:"email_verified" json:"emailVerified"`
	LoginFailedAttempts int           `db:"login_failed_attempts" json:"-"`
	LockedUntil         *time.Time    `db:"locked_until" json:"lockedUntil,omitempty"`
	LastLoginAt         *time.Time    `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`
	DeletedAt           *time.Time    `db:"deleted_at" json:"-"`
}

// Locked reports whether the login lock is still running at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Profile is the editable subset of a user.
type Profile struct {
	FirstName string
	LastName  string
	Phone     *string
}
