package metrics

import "math"

const (
	sleepCapMinutes = 8 * 60
	dayMinutes      = 24 * 60
)

// ThoroughnessPenalty is the score deduction for skipping slider input,
// -0.2 * (1 - e^(-2*min(1, count/10))). It decays toward -0.2 as skips
// accumulate and is always in [-0.2, 0].
func ThoroughnessPenalty(noInputCount int) float64 {
	if noInputCount <= 0 {
		return 0
	}
	x := math.Min(1, float64(noInputCount)/10)
	return -0.2 * (1 - math.Exp(-2*x))
}

// TrackingConsistency scores how much of a 24-hour day is accounted for,
// 0-100. Sleep counts toward coverage up to an 8-hour cap; active time
// fills the remainder; whatever is left is untracked and drags the score
// down proportionally.
func TrackingConsistency(sleepMinutes, activeMinutes float64) float64 {
	if sleepMinutes < 0 {
		sleepMinutes = 0
	}
	if activeMinutes < 0 {
		activeMinutes = 0
	}
	sleep := math.Min(sleepMinutes, sleepCapMinutes)
	tracked := sleep + math.Min(activeMinutes, dayMinutes-sleep)
	return clampScore(100 * tracked / dayMinutes)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
