package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskpulse/pkg/template"
)

func TestWorkMultiplierBoundaries(t *testing.T) {
	assert.InDelta(t, 3.0, WorkMultiplier(0.4), 1e-9)
	assert.InDelta(t, 3.0, WorkMultiplier(1.0), 1e-9)
	assert.InDelta(t, 4.0, WorkMultiplier(1.25), 1e-9)
	assert.InDelta(t, 5.0, WorkMultiplier(1.5), 1e-9)
	assert.InDelta(t, 5.0, WorkMultiplier(3.0), 1e-9)
	assert.InDelta(t, 1.0, WorkMultiplier(0), 1e-9, "missing ratio is identity")
}

func TestCompletionTimeRatio(t *testing.T) {
	// finished a 30-minute estimate in 15 minutes at 100%
	assert.InDelta(t, 2.0, CompletionTimeRatio(100, 30, 15), 1e-9)
	assert.Zero(t, CompletionTimeRatio(100, 30, 0), "zero denominator")
	assert.Zero(t, CompletionTimeRatio(100, 0, 15))
}

func TestSelfCareMultiplierCountsNth(t *testing.T) {
	assert.InDelta(t, 1.0, SelfCareMultiplier(0), 1e-9)
	assert.InDelta(t, 1.0, SelfCareMultiplier(1), 1e-9)
	assert.InDelta(t, 3.0, SelfCareMultiplier(3), 1e-9)
}

func TestGoalMultiplierPiecewise(t *testing.T) {
	assert.InDelta(t, 1.0, GoalMultiplier(1.0), 1e-9)
	assert.InDelta(t, 1.2, GoalMultiplier(1.2), 1e-9)
	assert.InDelta(t, 1.2, GoalMultiplier(2.0), 1e-9, "capped")
	assert.InDelta(t, 1.1, GoalMultiplier(1.1), 1e-9)
	assert.InDelta(t, 0.9, GoalMultiplier(0.8), 1e-9)
	assert.InDelta(t, 0.95, GoalMultiplier(0.9), 1e-9)
	assert.InDelta(t, 0.8, GoalMultiplier(0.5), 1e-9, "floor clamp")
	assert.InDelta(t, 1.0, GoalMultiplier(0), 1e-9, "disabled goal is identity")
}

func TestEfficiencyAdjustment(t *testing.T) {
	// 20% slower than the weekly average
	assert.InDelta(t, 0.8, EfficiencyAdjustment(120, 100, 1.0, CurveLinear), 1e-9)
	// 20% faster
	assert.InDelta(t, 1.2, EfficiencyAdjustment(80, 100, 1.0, CurveLinear), 1e-9)
	// flattened square softens small deviations: 20% -> 0.2^2*100 = 4
	assert.InDelta(t, 0.96, EfficiencyAdjustment(120, 100, 1.0, CurveFlattenedSquare), 1e-9)
	assert.InDelta(t, 1.04, EfficiencyAdjustment(80, 100, 1.0, CurveFlattenedSquare), 1e-9)
	// floor clamp at 0.5
	assert.InDelta(t, 0.5, EfficiencyAdjustment(300, 100, 1.0, CurveLinear), 1e-9)
	// missing inputs are identity
	assert.InDelta(t, 1.0, EfficiencyAdjustment(120, 0, 1.0, CurveLinear), 1e-9)
	assert.InDelta(t, 1.0, EfficiencyAdjustment(0, 100, 1.0, CurveLinear), 1e-9)
}

func TestProductivityScoreWorkScenario(t *testing.T) {
	// 30-minute estimate finished in 15 at 100%: ratio 2.0 caps at 5x.
	score := ProductivityScore(ProductivityInput{
		Type:            template.Work,
		CompletionPct:   100,
		EstimateMinutes: 30,
		ActualMinutes:   15,
	})
	assert.InDelta(t, 500, score, 1e-9)
}

func TestProductivityScoreSelfCare(t *testing.T) {
	score := ProductivityScore(ProductivityInput{
		Type:                 template.SelfCare,
		CompletionPct:        100,
		SameDaySelfCareCount: 2,
	})
	assert.InDelta(t, 200, score, 1e-9)
}

func TestProductivityScoreOtherTypeNeutral(t *testing.T) {
	score := ProductivityScore(ProductivityInput{
		Type:          template.Play,
		CompletionPct: 80,
	})
	assert.InDelta(t, 80, score, 1e-9)
}
