package metrics

import "sort"

// Component is one sub-score's share of a composite result.
type Component struct {
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// CompositeResult is a weighted blend of named sub-scores plus the
// per-component breakdown that produced it.
type CompositeResult struct {
	Score      float64              `json:"score"`
	Components map[string]Component `json:"components"`
}

// Composite blends sub-scores into a single number. Weights are normalized
// to sum to 1; non-positive weights are dropped, and a sub-score with no
// positive weight falls back to an equal split so the result never divides
// by zero. With normalize set, sub-scores are min-max rescaled to 0-100
// before weighting (a degenerate all-equal set maps to 100).
func Composite(subs map[string]float64, weights map[string]float64, normalize bool) CompositeResult {
	res := CompositeResult{Components: make(map[string]Component, len(subs))}
	if len(subs) == 0 {
		return res
	}

	names := make([]string, 0, len(subs))
	for name := range subs {
		names = append(names, name)
	}
	sort.Strings(names)

	var weightSum float64
	for _, name := range names {
		if w := weights[name]; w > 0 {
			weightSum += w
		}
	}

	values := subs
	if normalize {
		values = minMaxRescale(subs, names)
	}

	for _, name := range names {
		var norm float64
		if weightSum > 0 {
			if w := weights[name]; w > 0 {
				norm = w / weightSum
			}
		} else {
			norm = 1 / float64(len(names))
		}
		c := Component{
			Weight:       norm,
			Value:        values[name],
			Contribution: norm * values[name],
		}
		res.Components[name] = c
		res.Score += c.Contribution
	}
	return res
}

func minMaxRescale(subs map[string]float64, names []string) map[string]float64 {
	lo, hi := subs[names[0]], subs[names[0]]
	for _, name := range names[1:] {
		v := subs[name]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make(map[string]float64, len(subs))
	for _, name := range names {
		if hi == lo {
			out[name] = 100
			continue
		}
		out[name] = 100 * (subs[name] - lo) / (hi - lo)
	}
	return out
}
