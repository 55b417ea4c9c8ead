package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskpulse/pkg/prefs"
)

func TestBaselineRobustTrimsExtremes(t *testing.T) {
	// ten samples: the 20% trim discards both outliers, mean of the rest is 3
	history := []float64{1, 3, 3, 3, 3, 3, 3, 3, 3, 50}
	assert.InDelta(t, 3, Baseline(history, prefs.BaselineRobust), 1e-9)
}

func TestBaselineSensitiveTracksLatest(t *testing.T) {
	history := []float64{2, 2, 2, 9}
	assert.InDelta(t, 9, Baseline(history, prefs.BaselineSensitive), 1e-9)
	assert.Zero(t, Baseline(nil, prefs.BaselineSensitive))
}

func TestDetectSpike(t *testing.T) {
	history := []float64{3, 3, 3, 3, 3}

	spontaneous, amount := DetectSpike(8, history, prefs.BaselineRobust)
	assert.True(t, spontaneous)
	assert.InDelta(t, 5, amount, 1e-9)

	// exactly at threshold is not a spike
	spontaneous, amount = DetectSpike(5, history, prefs.BaselineRobust)
	assert.False(t, spontaneous)
	assert.Zero(t, amount)

	spontaneous, amount = DetectSpike(3.5, history, prefs.BaselineRobust)
	assert.False(t, spontaneous)
	assert.Zero(t, amount)
}

func TestObstacleScoreVariants(t *testing.T) {
	const spike = 4.0
	// relief fell 2 short of expectation
	expected, actual := 7.0, 5.0

	assert.InDelta(t, 4, ObstacleScore(ObstacleExpectedOnly, spike, expected, actual), 1e-9)
	assert.InDelta(t, 6, ObstacleScore(ObstacleActualOnly, spike, expected, actual), 1e-9)
	assert.InDelta(t, 4, ObstacleScore(ObstacleMinimum, spike, expected, actual), 1e-9)
	assert.InDelta(t, 5, ObstacleScore(ObstacleAverage, spike, expected, actual), 1e-9)
	assert.InDelta(t, 6, ObstacleScore(ObstacleNetPenalty, spike, expected, actual), 1e-9)
	assert.InDelta(t, 4, ObstacleScore(ObstacleNetBonus, spike, expected, actual), 1e-9)
	assert.InDelta(t, 5.4, ObstacleScore(ObstacleNetWeighted, spike, expected, actual), 1e-9)
}

func TestObstacleScoreReliefSurplus(t *testing.T) {
	const spike = 4.0
	// relief exceeded expectation by 3
	expected, actual := 5.0, 8.0

	assert.InDelta(t, 4, ObstacleScore(ObstacleExpectedOnly, spike, expected, actual), 1e-9)
	assert.InDelta(t, 1, ObstacleScore(ObstacleActualOnly, spike, expected, actual), 1e-9)
	assert.InDelta(t, 1, ObstacleScore(ObstacleMinimum, spike, expected, actual), 1e-9)
	assert.InDelta(t, 2.5, ObstacleScore(ObstacleAverage, spike, expected, actual), 1e-9)
	assert.InDelta(t, 4, ObstacleScore(ObstacleNetPenalty, spike, expected, actual), 1e-9)
	assert.InDelta(t, 1, ObstacleScore(ObstacleNetBonus, spike, expected, actual), 1e-9)
	assert.InDelta(t, 3.1, ObstacleScore(ObstacleNetWeighted, spike, expected, actual), 1e-9)
}

func TestObstacleScoreNoSpikeIsZero(t *testing.T) {
	variants := []string{
		ObstacleExpectedOnly, ObstacleActualOnly, ObstacleMinimum,
		ObstacleAverage, ObstacleNetPenalty, ObstacleNetBonus, ObstacleNetWeighted,
	}
	for _, v := range variants {
		assert.Zero(t, ObstacleScore(v, 0, 9, 1), v)
	}
}
