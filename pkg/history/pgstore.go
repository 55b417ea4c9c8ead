package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed transition log.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the transitions table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS instance_transitions (
			id          TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			user_id     TEXT NOT NULL DEFAULT '',
			from_status TEXT NOT NULL DEFAULT '',
			to_status   TEXT NOT NULL,
			detail      JSONB NOT NULL DEFAULT '{}',
			timestamp   TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_transitions_instance ON instance_transitions(instance_id, timestamp)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_transitions_user_ts ON instance_transitions(user_id, timestamp)`)
	return err
}

// Append records a transition.
func (s *PgStore) Append(ctx context.Context, instanceID, userID, from, to string, detail map[string]any) (*Entry, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal detail: %w", err)
	}
	e := &Entry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		InstanceID: instanceID,
		UserID:     userID,
		From:       from,
		To:         to,
		Detail:     detail,
		Timestamp:  time.Now().Truncate(time.Microsecond),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO instance_transitions (id, instance_id, user_id, from_status, to_status, detail, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		e.ID, e.InstanceID, e.UserID, e.From, e.To, string(detailJSON), e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append transition: %w", err)
	}
	return e, nil
}

// Recent returns the latest transitions, newest first, optionally scoped to
// a user.
func (s *PgStore) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, user_id, from_status, to_status, detail, timestamp
		FROM instance_transitions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY timestamp DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transitions: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByInstance returns an instance's transitions in chronological order.
func (s *PgStore) ByInstance(ctx context.Context, instanceID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, user_id, from_status, to_status, detail, timestamp
		FROM instance_transitions
		WHERE instance_id = $1 ORDER BY timestamp ASC, id ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("transitions by instance: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the total number of recorded transitions.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM instance_transitions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transitions: %w", err)
	}
	return n, nil
}

func scanEntries(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.UserID, &e.From, &e.To, &detailJSON, &e.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			e.Detail = map[string]any{}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}
