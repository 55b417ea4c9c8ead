package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed template registry.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the templates table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_templates (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			version           INTEGER NOT NULL DEFAULT 1,
			type              TEXT NOT NULL DEFAULT 'Work',
			default_estimate  DOUBLE PRECISION NOT NULL DEFAULT 0,
			routine_time      TEXT NOT NULL DEFAULT '',
			routine_weekdays  TEXT[] DEFAULT '{}',
			created_at        TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

// Save inserts or replaces a template definition.
func (s *PgStore) Save(ctx context.Context, t *Template) (*Template, error) {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().Truncate(time.Microsecond)
	}
	if t.RoutineWeekdays == nil {
		t.RoutineWeekdays = []string{}
	}
	if _, _, _, err := t.RoutineAt(); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_templates (id, name, version, type, default_estimate, routine_time, routine_weekdays, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, version = EXCLUDED.version, type = EXCLUDED.type,
			default_estimate = EXCLUDED.default_estimate, routine_time = EXCLUDED.routine_time,
			routine_weekdays = EXCLUDED.routine_weekdays`,
		t.ID, t.Name, t.Version, string(t.Type), t.DefaultEstimateMinutes, t.RoutineTime, t.RoutineWeekdays, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return t, nil
}

// Get returns a template by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*Template, error) {
	var t Template
	var typ string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, version, type, default_estimate, routine_time, routine_weekdays, created_at
		FROM task_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Version, &typ, &t.DefaultEstimateMinutes, &t.RoutineTime, &t.RoutineWeekdays, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	t.Type = Type(typ)
	return &t, nil
}

// List returns all templates.
func (s *PgStore) List(ctx context.Context) ([]Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, version, type, default_estimate, routine_time, routine_weekdays, created_at
		FROM task_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		var t Template
		var typ string
		if err := rows.Scan(&t.ID, &t.Name, &t.Version, &typ, &t.DefaultEstimateMinutes, &t.RoutineTime, &t.RoutineWeekdays, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = Type(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}
