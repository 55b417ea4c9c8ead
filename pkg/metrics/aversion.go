package metrics

import (
	"context"
	"sort"
	"time"

	"taskpulse/pkg/instance"
	"taskpulse/pkg/prefs"
)

// SpikeThreshold is how far above baseline a reported aversion must rise
// before it counts as a spike.
const SpikeThreshold = 2.0

// Obstacle score variants. Each blends the aversion spike with the
// expected-vs-actual relief delta under a different rule; all of them
// return 0 when no spike was detected.
const (
	ObstacleExpectedOnly = "expected_only"
	ObstacleActualOnly   = "actual_only"
	ObstacleMinimum      = "minimum"
	ObstacleAverage      = "average"
	ObstacleNetPenalty   = "net_penalty"
	ObstacleNetBonus     = "net_bonus"
	ObstacleNetWeighted  = "net_weighted"
)

// Baseline estimates the user's usual aversion level from past reports.
// The robust estimator is a trimmed mean (top and bottom 20% dropped); the
// sensitive estimator tracks the most recent report. An empty history
// yields 0, so the first report stands on its own.
func Baseline(history []float64, estimator string) float64 {
	if len(history) == 0 {
		return 0
	}
	if estimator == prefs.BaselineSensitive {
		return history[len(history)-1]
	}
	sorted := make([]float64, len(history))
	copy(sorted, history)
	sort.Float64s(sorted)
	trim := len(sorted) / 5
	sorted = sorted[trim : len(sorted)-trim]
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// DetectSpike compares the current aversion report against the baseline.
// The returned amount is the excess over baseline when it crosses the
// threshold, 0 otherwise.
func DetectSpike(current float64, history []float64, estimator string) (bool, float64) {
	spike := current - Baseline(history, estimator)
	if spike <= SpikeThreshold {
		return false, 0
	}
	return true, spike
}

// AversionReport is the result of checking a fresh aversion rating against
// the user's history for one task.
type AversionReport struct {
	IsSpontaneous  bool               `json:"is_spontaneous"`
	SpikeAmount    float64            `json:"spike_amount"`
	Baseline       float64            `json:"baseline"`
	ObstacleScores map[string]float64 `json:"obstacle_scores"`
}

// AversionCheck compares a new predicted-aversion rating against the user's
// reporting history for the task and, on a spike, computes every obstacle
// variant from the expected-vs-actual relief pair.
func (e *Engine) AversionCheck(ctx context.Context, userID, taskID string, current, expectedRelief, actualRelief float64) (*AversionReport, error) {
	p, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	to := e.now()
	completed := true
	deleted := false
	list, err := e.store.List(ctx, instance.Filter{
		UserID:      userID,
		TaskID:      taskID,
		IsCompleted: &completed,
		IsDeleted:   &deleted,
		TimeField:   "completed_at",
		From:        ptrTime(to.AddDate(0, 0, -90)),
		To:          &to,
		OrderBy:     "completed_at",
	})
	if err != nil {
		return nil, err
	}
	var history []float64
	for _, in := range list {
		if v := in.Predicted.Float(instance.KeyAversion); v > 0 {
			history = append(history, v)
		}
	}

	report := &AversionReport{
		Baseline:       Baseline(history, p.BaselineEstimator),
		ObstacleScores: map[string]float64{},
	}
	report.IsSpontaneous, report.SpikeAmount = DetectSpike(current, history, p.BaselineEstimator)
	for _, variant := range []string{
		ObstacleExpectedOnly, ObstacleActualOnly, ObstacleMinimum,
		ObstacleAverage, ObstacleNetPenalty, ObstacleNetBonus, ObstacleNetWeighted,
	} {
		report.ObstacleScores[variant] = ObstacleScore(variant, report.SpikeAmount, expectedRelief, actualRelief)
	}
	return report, nil
}

func ptrTime(t time.Time) *time.Time { return &t }

// ObstacleScore turns a detected spike into a variant-specific obstacle
// magnitude. The relief delta d = expected - actual measures how much the
// completion fell short of its anticipated payoff; a shortfall corroborates
// the obstacle, a surplus softens it. The "actual" magnitude is the spike
// adjusted by that delta, floored at zero.
func ObstacleScore(variant string, spikeAmount, expectedRelief, actualRelief float64) float64 {
	if spikeAmount <= 0 {
		return 0
	}
	d := expectedRelief - actualRelief
	adjusted := spikeAmount + d
	if adjusted < 0 {
		adjusted = 0
	}
	switch variant {
	case ObstacleActualOnly:
		return adjusted
	case ObstacleMinimum:
		if adjusted < spikeAmount {
			return adjusted
		}
		return spikeAmount
	case ObstacleAverage:
		return (spikeAmount + adjusted) / 2
	case ObstacleNetPenalty:
		if d > 0 {
			return spikeAmount + d
		}
		return spikeAmount
	case ObstacleNetBonus:
		if d < 0 {
			s := spikeAmount + d
			if s < 0 {
				return 0
			}
			return s
		}
		return spikeAmount
	case ObstacleNetWeighted:
		s := spikeAmount
		if d > 0 {
			s += 0.7 * d
		} else {
			s += 0.3 * d
		}
		if s < 0 {
			return 0
		}
		return s
	default: // expected_only
		return spikeAmount
	}
}
