package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the PostgreSQL-backed instance store. Attribute bags live in
// JSONB columns; timestamps use native TIMESTAMPTZ.
type PgStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool, log *slog.Logger) *PgStore {
	if log == nil {
		log = slog.Default()
	}
	return &PgStore{pool: pool, log: log}
}

const instanceCols = `id, task_id, task_name, task_version, user_id, status, is_completed, is_deleted,
	predicted, actual, created_at, initialized_at, started_at, completed_at, cancelled_at,
	duration_minutes, delay_minutes, relief_score, cognitive_load, mental_energy_needed,
	task_difficulty, emotional_load, environmental_effect, procrastination_score,
	proactive_score, behavioral_score, net_relief, skills_improved`

// EnsureSchema creates the instances table if it doesn't exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_instances (
			id                    TEXT PRIMARY KEY,
			task_id               TEXT NOT NULL,
			task_name             TEXT NOT NULL DEFAULT '',
			task_version          INTEGER NOT NULL DEFAULT 1,
			user_id               TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL DEFAULT 'created',
			is_completed          BOOLEAN NOT NULL DEFAULT FALSE,
			is_deleted            BOOLEAN NOT NULL DEFAULT FALSE,
			predicted             JSONB NOT NULL DEFAULT '{}',
			actual                JSONB NOT NULL DEFAULT '{}',
			created_at            TIMESTAMPTZ,
			initialized_at        TIMESTAMPTZ,
			started_at            TIMESTAMPTZ,
			completed_at          TIMESTAMPTZ,
			cancelled_at          TIMESTAMPTZ,
			duration_minutes      DOUBLE PRECISION NOT NULL DEFAULT 0,
			delay_minutes         DOUBLE PRECISION NOT NULL DEFAULT 0,
			relief_score          DOUBLE PRECISION NOT NULL DEFAULT 0,
			cognitive_load        DOUBLE PRECISION NOT NULL DEFAULT 0,
			mental_energy_needed  DOUBLE PRECISION NOT NULL DEFAULT 0,
			task_difficulty       DOUBLE PRECISION NOT NULL DEFAULT 0,
			emotional_load        DOUBLE PRECISION NOT NULL DEFAULT 0,
			environmental_effect  DOUBLE PRECISION NOT NULL DEFAULT 0,
			procrastination_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			proactive_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			behavioral_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			net_relief            DOUBLE PRECISION NOT NULL DEFAULT 0,
			skills_improved       TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_instances_user ON task_instances(user_id)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_instances_task_created ON task_instances(task_id, created_at)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_instances_status ON task_instances(status)`)
	return err
}

// Create inserts a new instance. An unset ID is generated (UUIDv7,
// time-ordered); a colliding ID yields ErrDuplicateID.
func (s *PgStore) Create(ctx context.Context, in *Instance) (*Instance, error) {
	if err := normalizeNew(in); err != nil {
		return nil, err
	}

	predJSON, err := EncodeBag(in.Predicted)
	if err != nil {
		return nil, fmt.Errorf("marshal predicted: %w", err)
	}
	actJSON, err := EncodeBag(in.Actual)
	if err != nil {
		return nil, fmt.Errorf("marshal actual: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO task_instances (id, task_id, task_name, task_version, user_id, status,
			is_completed, is_deleted, predicted, actual, created_at, initialized_at,
			started_at, completed_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		in.ID, in.TaskID, in.TaskName, in.TaskVersion, in.UserID, in.Status,
		in.IsCompleted, in.IsDeleted, string(predJSON), string(actJSON),
		in.CreatedAt, in.InitializedAt, in.StartedAt, in.CompletedAt, in.CancelledAt)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("create instance %s: %w", in.ID, ErrDuplicateID)
	}
	return in, nil
}

// Get retrieves a single instance, scoped to userID when non-empty.
func (s *PgStore) Get(ctx context.Context, id, userID string) (*Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceCols+` FROM task_instances
		WHERE id = $1 AND ($2 = '' OR user_id = $2)`, id, userID)
	in, err := s.scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get instance %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return in, nil
}

// floatCols are the derived scalar columns settable through Update.
var floatCols = map[string]bool{
	"duration_minutes": true, "delay_minutes": true, "relief_score": true,
	"cognitive_load": true, "mental_energy_needed": true, "task_difficulty": true,
	"emotional_load": true, "environmental_effect": true, "procrastination_score": true,
	"proactive_score": true, "behavioral_score": true, "net_relief": true,
}

var stampCols = map[string]bool{
	"initialized_at": true, "started_at": true, "completed_at": true, "cancelled_at": true,
}

// Update applies a partial update. Bag keys merge via the JSONB || operator;
// a nil timestamp value clears the column.
func (s *PgStore) Update(ctx context.Context, id, userID string, updates map[string]any) (*Instance, error) {
	setClauses := ""
	var args []any
	argIdx := 1

	addSet := func(col string, v any) {
		if setClauses != "" {
			setClauses += ", "
		}
		setClauses += fmt.Sprintf("%s = $%d", col, argIdx)
		args = append(args, v)
		argIdx++
	}

	for k, v := range updates {
		switch {
		case k == "status":
			addSet("status", v)
		case k == "is_completed":
			addSet("is_completed", v)
		case k == "is_deleted":
			addSet("is_deleted", v)
		case k == "skills_improved":
			addSet("skills_improved", v)
		case k == "predicted" || k == "actual":
			bag, ok := v.(Bag)
			if !ok {
				return nil, fmt.Errorf("%w: %s update must be a Bag, got %T", ErrValidation, k, v)
			}
			if err := bag.Validate(); err != nil {
				return nil, err
			}
			bagJSON, err := EncodeBag(bag)
			if err != nil {
				return nil, fmt.Errorf("marshal %s: %w", k, err)
			}
			if setClauses != "" {
				setClauses += ", "
			}
			setClauses += fmt.Sprintf("%s = %s || $%d::jsonb", k, k, argIdx)
			args = append(args, string(bagJSON))
			argIdx++
		case stampCols[k]:
			switch tv := v.(type) {
			case nil:
				if setClauses != "" {
					setClauses += ", "
				}
				setClauses += k + " = NULL"
			case *time.Time:
				addSet(k, tv)
			case time.Time:
				addSet(k, tv)
			default:
				return nil, fmt.Errorf("%w: %s update must be a time or nil, got %T", ErrValidation, k, v)
			}
		case floatCols[k]:
			addSet(k, v)
		default:
			return nil, fmt.Errorf("%w: unsupported update key %q", ErrValidation, k)
		}
	}
	if setClauses == "" {
		return s.Get(ctx, id, userID)
	}

	args = append(args, id, userID)
	query := fmt.Sprintf(`UPDATE task_instances SET %s WHERE id = $%d AND ($%d = '' OR user_id = $%d) RETURNING %s`,
		setClauses, argIdx, argIdx+1, argIdx+1, instanceCols)

	in, err := s.scanInstance(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update instance %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update instance %s: %w", id, err)
	}
	return in, nil
}

// Delete soft-deletes an instance. Status is untouched.
func (s *PgStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE task_instances SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete instance %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Purge physically removes an instance row.
func (s *PgStore) Purge(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_instances WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("purge instance %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

var timeFieldCols = map[string]string{
	"":               "created_at",
	"created_at":     "created_at",
	"initialized_at": "initialized_at",
	"started_at":     "started_at",
	"completed_at":   "completed_at",
	"cancelled_at":   "cancelled_at",
}

// List returns instances matching the filter.
func (s *PgStore) List(ctx context.Context, f Filter) ([]Instance, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != "" {
		conds = append(conds, "user_id = "+arg(f.UserID))
	}
	if f.TaskID != "" {
		conds = append(conds, "task_id = "+arg(f.TaskID))
	}
	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			vals[i] = string(st)
		}
		conds = append(conds, "status = ANY("+arg(vals)+")")
	}
	if f.IsCompleted != nil {
		conds = append(conds, "is_completed = "+arg(*f.IsCompleted))
	}
	if f.IsDeleted != nil {
		conds = append(conds, "is_deleted = "+arg(*f.IsDeleted))
	}
	tf, ok := timeFieldCols[f.TimeField]
	if !ok {
		return nil, fmt.Errorf("%w: unknown time field %q", ErrValidation, f.TimeField)
	}
	if f.From != nil {
		conds = append(conds, tf+" >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, tf+" < "+arg(*f.To))
	}

	query := `SELECT ` + instanceCols + ` FROM task_instances`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	switch f.OrderBy {
	case "":
	case "created_at", "completed_at":
		query += " ORDER BY " + f.OrderBy
		if f.Descending {
			query += " DESC"
		}
	default:
		return nil, fmt.Errorf("%w: unsupported order-by %q", ErrValidation, f.OrderBy)
	}
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		in, err := s.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

// BulkGet fetches many instances in one query. N point-reads in a loop is a
// defect; migration and metrics paths depend on this being a single round
// trip.
func (s *PgStore) BulkGet(ctx context.Context, ids []string, userID string) (map[string]*Instance, error) {
	out := make(map[string]*Instance, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceCols+` FROM task_instances
		WHERE id = ANY($1) AND ($2 = '' OR user_id = $2)`, ids, userID)
	if err != nil {
		return nil, fmt.Errorf("bulk get instances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		in, err := s.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("bulk get instances: %w", err)
		}
		out[in.ID] = in
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

func (s *PgStore) scanInstance(row pgx.Row) (*Instance, error) {
	var in Instance
	var predJSON, actJSON []byte
	err := row.Scan(&in.ID, &in.TaskID, &in.TaskName, &in.TaskVersion, &in.UserID,
		&in.Status, &in.IsCompleted, &in.IsDeleted, &predJSON, &actJSON,
		&in.CreatedAt, &in.InitializedAt, &in.StartedAt, &in.CompletedAt, &in.CancelledAt,
		&in.DurationMinutes, &in.DelayMinutes, &in.ReliefScore, &in.CognitiveLoad,
		&in.MentalEnergyNeeded, &in.TaskDifficulty, &in.EmotionalLoad, &in.EnvironmentalEffect,
		&in.ProcrastinationScore, &in.ProactiveScore, &in.BehavioralScore, &in.NetRelief,
		&in.SkillsImproved)
	if err != nil {
		return nil, err
	}
	if in.Predicted, err = DecodeBag(predJSON); err != nil {
		s.log.Warn("recovered malformed predicted bag", "instance_id", in.ID, "err", err)
	}
	if in.Actual, err = DecodeBag(actJSON); err != nil {
		s.log.Warn("recovered malformed actual bag", "instance_id", in.ID, "err", err)
	}
	return &in, nil
}
