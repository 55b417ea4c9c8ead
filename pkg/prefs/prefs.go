package prefs

import (
	"context"
)

// Baseline estimator choices for aversion-spike detection.
const (
	BaselineRobust    = "robust"
	BaselineSensitive = "sensitive"
)

// Preferences are the per-user scoring settings the metrics engine consumes.
// The preference store is an external collaborator; the core only reads.
type Preferences struct {
	UserID             string             `json:"user_id"`
	Weights            map[string]float64 `json:"weights"`             // composite sub-score weights
	GoalHours          float64            `json:"goal_hours"`          // weekly work-hour goal
	BaselineEstimator  string             `json:"baseline_estimator"`  // robust or sensitive
	EfficiencyCurve    string             `json:"efficiency_curve"`    // linear or flattened_square
	EfficiencyStrength float64            `json:"efficiency_strength"`
}

// Defaults returns the settings used when a user has never saved any.
func Defaults(userID string) *Preferences {
	return &Preferences{
		UserID:             userID,
		Weights:            map[string]float64{},
		GoalHours:          0, // zero disables the goal multiplier
		BaselineEstimator:  BaselineRobust,
		EfficiencyCurve:    "linear",
		EfficiencyStrength: 1.0,
	}
}

// Store is the read contract. Get never fails on an unknown user; it
// returns Defaults instead.
type Store interface {
	Get(ctx context.Context, userID string) (*Preferences, error)
}
