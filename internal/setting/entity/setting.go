package entity

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Setting is one platform setting managed by administrators. Public settings
// are readable without a session.
type Setting struct {
	ID        string         `db:"id" json:"id"`
	Key       string         `db:"key" json:"key"`
	Category  string         `db:"category" json:"category"`
	Value     types.JSONText `db:"value" json:"value"`
	Public    bool           `db:"public" json:"public"`
	Version   int            `db:"version" json:"version"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Category   string
	PublicOnly bool
	Limit      int
	Offset     int
}
