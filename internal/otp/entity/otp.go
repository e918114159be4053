package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Purpose binds a code to a single flow.
type Purpose string

const (
	PurposeVerificationEmail Purpose = "VERIFICATION_EMAIL"
	PurposePasswordReset     Purpose = "PASSWORD_RESET"
	PurposeEmailChange       Purpose = "EMAIL_CHANGE"
	PurposeAccountDelete     Purpose = "ACCOUNT_DELETE"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeVerificationEmail, PurposePasswordReset, PurposeEmailChange, PurposeAccountDelete:
		return true
	}
	return false
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusExpired || s == StatusCanceled
}

// Metadata is stored as JSONB next to the code.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Operation string `json:"operation,omitempty"`
	NewEmail  string `json:"newEmail,omitempty"`
}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("otp metadata: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// OTP is one row of the otps table.
type OTP struct {
	ID        string     `db:"id"`
	UserID    int64      `db:"user_id"`
	Purpose   Purpose    `db:"purpose"`
	Code      string     `db:"code"`
	Recipient string     `db:"recipient"`
	Status    Status     `db:"status"`
	Attempts  int        `db:"attempts"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	UsedAt    *time.Time `db:"used_at"`
	ClosedAt  *time.Time `db:"closed_at"`
	Metadata  Metadata   `db:"metadata"`
}

// Expired reports whether now is past the expiry instant.
func (o *OTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
