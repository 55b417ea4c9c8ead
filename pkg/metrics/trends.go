package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"taskpulse/pkg/instance"
)

// DayBucket is one calendar day of tracked activity.
type DayBucket struct {
	Day     string  `json:"day"`
	Minutes float64 `json:"minutes"`
	Count   int     `json:"count"`
}

// TimeTrackingReport aggregates tracked minutes per calendar day over the
// trailing window.
type TimeTrackingReport struct {
	UserID          string      `json:"user_id"`
	Days            int         `json:"days"`
	TotalMinutes    float64     `json:"total_minutes"`
	ActiveDays      int         `json:"active_days"`
	AvgPerActiveDay float64     `json:"avg_per_active_day"`
	ByDay           []DayBucket `json:"by_day"`
}

// TrendPoint is one day of a metric trend series.
type TrendPoint struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// AttributeDistribution is a histogram of one attribute-bag key across the
// user's recent completions. Buckets are keyed by the floored value.
type AttributeDistribution struct {
	UserID  string         `json:"user_id"`
	Key     string         `json:"key"`
	Count   int            `json:"count"`
	Missing int            `json:"missing"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Mean    float64        `json:"mean"`
	Buckets map[string]int `json:"buckets"`
}

// InstanceSnapshots lists a user's non-deleted instances over the trailing
// window. completedOnly restricts the snapshot to completions, ordered by
// completion time; otherwise everything in the window is returned in
// creation order. days<=0 defaults to 30.
func (e *Engine) InstanceSnapshots(ctx context.Context, userID string, days int, completedOnly bool) ([]instance.Instance, error) {
	if days <= 0 {
		days = 30
	}
	to := e.now()
	from := to.AddDate(0, 0, -days)
	if completedOnly {
		return e.completedInRange(ctx, userID, from, to)
	}
	deleted := false
	list, err := e.store.List(ctx, instance.Filter{
		UserID:    userID,
		IsDeleted: &deleted,
		From:      &from,
		To:        &to,
		OrderBy:   "created_at",
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return list, nil
}

// TimeTracking buckets a user's tracked minutes per calendar day (UTC) over
// the trailing window. Instances without a recorded actual duration fall
// back to their planned duration, matching the dashboard totals.
func (e *Engine) TimeTracking(ctx context.Context, userID string, days int) (*TimeTrackingReport, error) {
	if days <= 0 {
		days = 30
	}
	completed, err := e.completedLastDays(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	byDay := map[string]*DayBucket{}
	r := &TimeTrackingReport{UserID: userID, Days: days}
	for _, in := range completed {
		if in.CompletedAt == nil {
			continue
		}
		dur := in.Actual.Float(instance.KeyTimeActual)
		if dur <= 0 {
			dur = in.DurationMinutes
		}
		day := in.CompletedAt.UTC().Format("2006-01-02")
		b := byDay[day]
		if b == nil {
			b = &DayBucket{Day: day}
			byDay[day] = b
		}
		b.Minutes += dur
		b.Count++
		r.TotalMinutes += dur
	}
	r.ActiveDays = len(byDay)
	if r.ActiveDays > 0 {
		r.AvgPerActiveDay = r.TotalMinutes / float64(r.ActiveDays)
	}
	for _, b := range byDay {
		r.ByDay = append(r.ByDay, *b)
	}
	sort.Slice(r.ByDay, func(i, j int) bool { return r.ByDay[i].Day < r.ByDay[j].Day })
	return r, nil
}

// TrendSeries returns the per-day average of a metric over the user's
// completions in the trailing window, oldest day first. Days without
// completions are omitted. The metric names match PerformanceRanking.
func (e *Engine) TrendSeries(ctx context.Context, userID, metric string, days int) ([]TrendPoint, error) {
	switch metric {
	case RankByRelief, RankByNetRelief, RankByProductivity, RankByDuration:
	default:
		return nil, fmt.Errorf("%w: unsupported trend metric %q", instance.ErrValidation, metric)
	}
	if days <= 0 {
		days = 30
	}
	completed, err := e.completedLastDays(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	type agg struct {
		sum   float64
		count int
	}
	byDay := map[string]*agg{}
	for i := range completed {
		in := &completed[i]
		if in.CompletedAt == nil {
			continue
		}
		day := in.CompletedAt.UTC().Format("2006-01-02")
		a := byDay[day]
		if a == nil {
			a = &agg{}
			byDay[day] = a
		}
		switch metric {
		case RankByRelief:
			a.sum += in.ReliefScore
		case RankByNetRelief:
			a.sum += in.NetRelief
		case RankByProductivity:
			a.sum += in.BehavioralScore
		case RankByDuration:
			dur := in.Actual.Float(instance.KeyTimeActual)
			if dur <= 0 {
				dur = in.DurationMinutes
			}
			a.sum += dur
		}
		a.count++
	}
	series := make([]TrendPoint, 0, len(byDay))
	for day, a := range byDay {
		series = append(series, TrendPoint{Day: day, Value: a.sum / float64(a.count), Count: a.count})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day < series[j].Day })
	return series, nil
}

// AttributeDistribution histograms one attribute-bag key over the user's
// completions in the trailing window. The actual bag wins over the
// predicted bag; completions carrying neither are counted as missing.
func (e *Engine) AttributeDistribution(ctx context.Context, userID, key string, days int) (*AttributeDistribution, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: attribute key required", instance.ErrValidation)
	}
	if days <= 0 {
		days = 30
	}
	completed, err := e.completedLastDays(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	dist := &AttributeDistribution{UserID: userID, Key: key, Buckets: map[string]int{}}
	var sum float64
	for _, in := range completed {
		var v float64
		switch {
		case in.Actual.Has(key):
			v = in.Actual.Float(key)
		case in.Predicted.Has(key):
			v = in.Predicted.Float(key)
		default:
			dist.Missing++
			continue
		}
		if dist.Count == 0 || v < dist.Min {
			dist.Min = v
		}
		if dist.Count == 0 || v > dist.Max {
			dist.Max = v
		}
		sum += v
		dist.Count++
		dist.Buckets[fmt.Sprintf("%g", math.Floor(v))]++
	}
	if dist.Count > 0 {
		dist.Mean = sum / float64(dist.Count)
	}
	return dist, nil
}
