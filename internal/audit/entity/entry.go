package entity

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Action names a state-changing operation.
type Action string

const (
	ActionRegister      Action = "REGISTER"
	ActionLogin         Action = "LOGIN"
	ActionLoginFailed   Action = "LOGIN_FAILED"
	ActionLogout        Action = "LOGOUT"
	ActionVerifyEmail   Action = "VERIFY_EMAIL"
	ActionPasswordReset Action = "PASSWORD_RESET"
	ActionEmailChange   Action = "EMAIL_CHANGE"
	ActionProfileUpdate Action = "PROFILE_UPDATE"
	ActionAccountDelete Action = "ACCOUNT_DELETE"
	ActionBlock         Action = "BLOCK"
	ActionUnblock       Action = "UNBLOCK"
	ActionRoleChange    Action = "ROLE_CHANGE"
	ActionCreate        Action = "CREATE"
	ActionUpdate        Action = "UPDATE"
	ActionDelete        Action = "DELETE"
)

// Entry is one append-only row of the audit trail.
type Entry struct {
	ID         string         `db:"id" json:"id"`
	ActorID    *int64         `db:"actor_id" json:"actorId,omitempty"`
	Action     Action         `db:"action" json:"action"`
	EntityType string         `db:"entity_type" json:"entityType"`
	EntityID   string         `db:"entity_id" json:"entityId"`
	Before     types.JSONText `db:"before" json:"before"`
	After      types.JSONText `db:"after" json:"after"`
	IPAddress  string         `db:"ip_address" json:"ipAddress"`
	UserAgent  string         `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

// Snapshot encodes v for the before/after columns; nil and unencodable values become JSON null.
func Snapshot(v any) types.JSONText {
	if v == nil {
		return types.JSONText("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return types.JSONText("null")
	}
	return types.JSONText(b)
}

// Filter narrows List results.
type Filter struct {
	EntityType string
	EntityID   string
	ActorID    *int64
	Limit      int
	Offset     int
}
