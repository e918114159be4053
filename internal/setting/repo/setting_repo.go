package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/salon/service-core-go/internal/setting/entity"
)

// Repo is the repository implementation for settings backed by PostgreSQL.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a new Repo with an existing connection.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

const settingColumns = `id, key, category, value, public, version, created_at, updated_at`

var settingIndexes = map[string]string{
	"idx_settings_category": `CREATE INDEX idx_settings_category ON settings (category)`,
	"uq_settings_key":       `CREATE UNIQUE INDEX uq_settings_key ON settings (key)`,
}

// EnsureTable creates the settings table and its indexes when missing.
func (r *Repo) EnsureTable(ctx context.Context) error {
	var tblName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.settings')").Scan(&tblName); err != nil {
		return err
	}
	if !tblName.Valid {
		createTable := `CREATE TABLE settings (
			id varchar(32) PRIMARY KEY,
			key varchar(128) NOT NULL,
			category varchar(32) NOT NULL DEFAULT '',
			value jsonb NOT NULL DEFAULT '{}'::jsonb,
			public boolean NOT NULL DEFAULT false,
			version int NOT NULL DEFAULT 1,
			created_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		)`
		if _, err := r.db.ExecContext(ctx, createTable); err != nil {
			return err
		}
	}

	for name, ddl := range settingIndexes {
		var idxName sql.NullString
		if err := r.db.QueryRowContext(ctx, "SELECT to_regclass($1)", "public."+name).Scan(&idxName); err != nil {
			return err
		}
		if idxName.Valid {
			continue
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}
	return nil
}

// List returns settings ordered by category then key.
func (r *Repo) List(ctx context.Context, f entity.Filter) ([]entity.Setting, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.PublicOnly {
		where = append(where, "public = true")
	}
	q := `SELECT ` + settingColumns + ` FROM settings`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY category, key LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	out := []entity.Setting{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns a setting or sql.ErrNoRows.
func (r *Repo) GetByID(ctx context.Context, id string) (*entity.Setting, error) {
	var s entity.Setting
	if err := r.db.GetContext(ctx, &s, `SELECT `+settingColumns+` FROM settings WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) Create(ctx context.Context, s *entity.Setting) error {
	const q = `INSERT INTO settings (` + settingColumns + `)
		VALUES (:id, :key, :category, :value, :public, :version, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, s)
	return err
}

// Update writes s only when the stored version still equals expected.
// It returns the number of rows changed.
func (r *Repo) Update(ctx context.Context, s *entity.Setting, expected int) (int64, error) {
	const q = `UPDATE settings SET key=$2, category=$3, value=$4, public=$5, version=$6, updated_at=$7
		WHERE id=$1 AND version=$8`
	res, err := r.db.ExecContext(ctx, q, s.ID, s.Key, s.Category, s.Value, s.Public, s.Version, s.UpdatedAt, expected)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) Delete(ctx context.Context, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
