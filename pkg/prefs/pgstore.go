package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed preference store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the preferences table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_preferences (
			user_id             TEXT PRIMARY KEY,
			weights             JSONB NOT NULL DEFAULT '{}',
			goal_hours          DOUBLE PRECISION NOT NULL DEFAULT 0,
			baseline_estimator  TEXT NOT NULL DEFAULT 'robust',
			efficiency_curve    TEXT NOT NULL DEFAULT 'linear',
			efficiency_strength DOUBLE PRECISION NOT NULL DEFAULT 1.0
		)`)
	return err
}

// Save upserts a user's preferences.
func (s *PgStore) Save(ctx context.Context, p *Preferences) error {
	weightsJSON, err := json.Marshal(p.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, weights, goal_hours, baseline_estimator, efficiency_curve, efficiency_strength)
		VALUES ($1, $2::jsonb, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			weights = EXCLUDED.weights, goal_hours = EXCLUDED.goal_hours,
			baseline_estimator = EXCLUDED.baseline_estimator,
			efficiency_curve = EXCLUDED.efficiency_curve,
			efficiency_strength = EXCLUDED.efficiency_strength`,
		p.UserID, string(weightsJSON), p.GoalHours, p.BaselineEstimator, p.EfficiencyCurve, p.EfficiencyStrength)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Get returns a user's preferences, or Defaults for an unknown user.
func (s *PgStore) Get(ctx context.Context, userID string) (*Preferences, error) {
	p := &Preferences{UserID: userID}
	var weightsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT weights, goal_hours, baseline_estimator, efficiency_curve, efficiency_strength
		FROM user_preferences WHERE user_id = $1`, userID).
		Scan(&weightsJSON, &p.GoalHours, &p.BaselineEstimator, &p.EfficiencyCurve, &p.EfficiencyStrength)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Defaults(userID), nil
		}
		return nil, fmt.Errorf("get preferences %s: %w", userID, err)
	}
	if err := json.Unmarshal(weightsJSON, &p.Weights); err != nil {
		p.Weights = map[string]float64{}
	}
	return p, nil
}
