package metrics

import (
	"math"

	"taskpulse/pkg/template"
)

// Efficiency-adjustment curve names, chosen per user in preferences.
const (
	CurveLinear          = "linear"
	CurveFlattenedSquare = "flattened_square"
)

// efficiencyFloor is the lowest an efficiency adjustment can drive a score.
const efficiencyFloor = 0.5

// CompletionTimeRatio is (completion_pct * estimate) / (100 * actual).
// Returns 0 on a zero denominator; callers treat 0 as "input missing".
func CompletionTimeRatio(completionPct, estimateMinutes, actualMinutes float64) float64 {
	if actualMinutes <= 0 || estimateMinutes <= 0 {
		return 0
	}
	return (completionPct * estimateMinutes) / (100 * actualMinutes)
}

// WorkMultiplier maps a completion-time ratio onto the work-type
// productivity multiplier: 3.0 at ratio<=1.0, 5.0 at ratio>=1.5, linear
// interpolation between. A missing ratio (<=0) is the identity 1.0.
func WorkMultiplier(ratio float64) float64 {
	switch {
	case ratio <= 0:
		return 1.0
	case ratio <= 1.0:
		return 3.0
	case ratio >= 1.5:
		return 5.0
	default:
		return 3.0 + 2.0*(ratio-1.0)/0.5
	}
}

// SelfCareMultiplier scores the Nth self-care completion of a calendar day
// at N times the base. Zero completions is the identity.
func SelfCareMultiplier(sameDayCount int) float64 {
	if sameDayCount <= 0 {
		return 1.0
	}
	return float64(sameDayCount)
}

// EfficiencyAdjustment scales a score by how the actual time compares to
// the trailing weekly average, via the chosen signed curve. pct_diff is the
// percentage deviation from the weekly average; positive means slower than
// usual. Clamped at the floor, identity when inputs are missing.
func EfficiencyAdjustment(actualMinutes, weeklyAvgMinutes, strength float64, curve string) float64 {
	if actualMinutes <= 0 || weeklyAvgMinutes <= 0 || strength <= 0 {
		return 1.0
	}
	pctDiff := 100 * (actualMinutes - weeklyAvgMinutes) / weeklyAvgMinutes
	var adj float64
	switch curve {
	case CurveFlattenedSquare:
		sign := 1.0
		if pctDiff < 0 {
			sign = -1.0
		}
		adj = 1 - 0.01*strength*sign*(pctDiff*pctDiff/100)
	default: // linear
		adj = 1 - 0.01*strength*pctDiff
	}
	return math.Max(adj, efficiencyFloor)
}

// GoalMultiplier maps actual/goal progress onto a reward multiplier:
//
//	ratio >= 1.2        -> 1.2 (cap)
//	1.0 <= ratio < 1.2  -> linear 1.0 -> 1.2
//	0.8 <= ratio < 1.0  -> linear 0.9 -> 1.0
//	ratio < 0.8         -> continues the lower slope, floored at 0.8
//
// A missing ratio (<=0) is the identity 1.0.
func GoalMultiplier(ratio float64) float64 {
	switch {
	case ratio <= 0:
		return 1.0
	case ratio >= 1.2:
		return 1.2
	case ratio >= 1.0:
		return ratio
	case ratio >= 0.8:
		return 0.9 + 0.5*(ratio-0.8)
	default:
		return math.Max(0.9-0.5*(0.8-ratio), 0.8)
	}
}

// ProductivityInput carries everything a per-instance productivity score
// needs. Zero values mean "not available" and leave the corresponding
// adjustment at identity.
type ProductivityInput struct {
	Type                 template.Type
	CompletionPct        float64
	EstimateMinutes      float64
	ActualMinutes        float64
	SameDaySelfCareCount int
	WeeklyAvgMinutes     float64
	Curve                string
	CurveStrength        float64
	GoalRatio            float64
}

// ProductivityScore is base = completion_pct * type multiplier, scaled by
// the efficiency and goal adjustments. Every factor degrades to identity
// when its inputs are missing; the function never errors.
func ProductivityScore(in ProductivityInput) float64 {
	var typeMult float64
	switch in.Type {
	case template.Work:
		typeMult = WorkMultiplier(CompletionTimeRatio(in.CompletionPct, in.EstimateMinutes, in.ActualMinutes))
	case template.SelfCare:
		typeMult = SelfCareMultiplier(in.SameDaySelfCareCount)
	default:
		typeMult = 1.0
	}
	base := in.CompletionPct * typeMult
	eff := EfficiencyAdjustment(in.ActualMinutes, in.WeeklyAvgMinutes, in.CurveStrength, in.Curve)
	goal := GoalMultiplier(in.GoalRatio)
	return base * eff * goal
}
