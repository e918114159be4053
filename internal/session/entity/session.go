package entity

import "time"

// Session is a persisted login. Its id is the jti of the refresh token.
type Session struct {
	ID        string     `db:"id"`
	UserID    int64      `db:"user_id"`
	IPAddress string     `db:"ip_address"`
	UserAgent string     `db:"user_agent"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// Active reports whether the session can still mint access tokens at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
