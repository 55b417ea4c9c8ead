package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskpulse/pkg/instance"
	"taskpulse/pkg/prefs"
	"taskpulse/pkg/template"
)

// Composite sub-score names. These are the keys of the per-user weight map
// and of the SubScores result.
const (
	SubTrackingConsistency = "tracking_consistency"
	SubInvertedStress      = "inverted_stress"
	SubNetWellbeing        = "net_wellbeing"
	SubStressEfficiency    = "stress_efficiency"
	SubAvgRelief           = "average_relief"
	SubWorkVolume          = "work_volume"
	SubWorkConsistency     = "work_consistency"
	SubLifeBalance         = "life_balance"
	SubWeeklyRelief        = "weekly_relief"
	SubCompletionRate      = "completion_rate"
	SubSelfCareFrequency   = "self_care_frequency"
)

// Ranking metrics accepted by PerformanceRanking.
const (
	RankByRelief       = "relief"
	RankByNetRelief    = "net_relief"
	RankByProductivity = "productivity"
	RankByDuration     = "duration"
)

// Engine computes read-side scores over the instance history. It never
// mutates instances; every method is safe to run concurrently with
// lifecycle writes.
type Engine struct {
	store     instance.Store
	templates template.Registry
	prefs     prefs.Store
	log       *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source. Tests use this to pin
// trailing-window boundaries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(store instance.Store, templates template.Registry, prefStore prefs.Store, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		templates: templates,
		prefs:     prefStore,
		log:       log,
		now:       func() time.Time { return time.Now().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// completedInRange lists a user's completed, non-deleted instances whose
// completion time falls in [from, to), oldest first.
func (e *Engine) completedInRange(ctx context.Context, userID string, from, to time.Time) ([]instance.Instance, error) {
	completed := true
	deleted := false
	list, err := e.store.List(ctx, instance.Filter{
		UserID:      userID,
		IsCompleted: &completed,
		IsDeleted:   &deleted,
		TimeField:   "completed_at",
		From:        &from,
		To:          &to,
		OrderBy:     "completed_at",
	})
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	return list, nil
}

// completedLastDays is completedInRange over the trailing N days.
func (e *Engine) completedLastDays(ctx context.Context, userID string, days int) ([]instance.Instance, error) {
	to := e.now()
	return e.completedInRange(ctx, userID, to.AddDate(0, 0, -days), to)
}

// templateTypes resolves the activity type for each distinct task id in
// the slice. Unknown templates score with the neutral multiplier.
func (e *Engine) templateTypes(ctx context.Context, list []instance.Instance) map[string]template.Type {
	types := make(map[string]template.Type)
	for _, in := range list {
		if _, seen := types[in.TaskID]; seen {
			continue
		}
		tpl, err := e.templates.Get(ctx, in.TaskID)
		if err != nil {
			if !errors.Is(err, template.ErrNotFound) {
				e.log.Warn("template lookup failed", "task_id", in.TaskID, "error", err)
			}
			types[in.TaskID] = ""
			continue
		}
		types[in.TaskID] = tpl.Type
	}
	return types
}

// InstanceProductivity scores one completed instance, resolving the type
// multiplier, same-day self-care count, trailing weekly average, and goal
// progress from the surrounding history. Missing inputs leave their
// adjustments at identity; the only errors are store failures.
func (e *Engine) InstanceProductivity(ctx context.Context, in *instance.Instance) (float64, error) {
	if in == nil || in.CompletedAt == nil {
		return 0, nil
	}
	p, err := e.prefs.Get(ctx, in.UserID)
	if err != nil {
		return 0, fmt.Errorf("load preferences: %w", err)
	}
	week, err := e.completedInRange(ctx, in.UserID, in.CompletedAt.AddDate(0, 0, -7), in.CompletedAt.Add(time.Second))
	if err != nil {
		return 0, err
	}
	types := e.templateTypes(ctx, week)
	if _, seen := types[in.TaskID]; !seen {
		types = e.templateTypes(ctx, append(week, *in))
	}
	return e.scoreInstance(in, types, week, p), nil
}

// scoreInstance computes the productivity score from pre-fetched context.
// week holds the user's completions over the trailing 7 days ending at the
// instance's completion time.
func (e *Engine) scoreInstance(in *instance.Instance, types map[string]template.Type, week []instance.Instance, p *prefs.Preferences) float64 {
	pct := in.Actual.Float(instance.KeyCompletionPct)
	if pct <= 0 && in.Status == instance.StatusCompleted {
		pct = 100
	}
	actual := in.Actual.Float(instance.KeyTimeActual)
	if actual <= 0 {
		actual = in.DurationMinutes
	}

	pin := ProductivityInput{
		Type:            types[in.TaskID],
		CompletionPct:   pct,
		EstimateMinutes: in.Predicted.Float(instance.KeyTimeEstimate),
		ActualMinutes:   actual,
		Curve:           p.EfficiencyCurve,
		CurveStrength:   p.EfficiencyStrength,
	}

	var weekSum, weekN, workMinutes float64
	for _, w := range week {
		if w.ID == in.ID {
			continue
		}
		wActual := w.Actual.Float(instance.KeyTimeActual)
		if wActual <= 0 {
			wActual = w.DurationMinutes
		}
		if wActual > 0 {
			weekSum += wActual
			weekN++
		}
		if types[w.TaskID] == template.Work {
			workMinutes += wActual
		}
		if types[w.TaskID] == template.SelfCare && sameDay(w.CompletedAt, in.CompletedAt) {
			pin.SameDaySelfCareCount++
		}
	}
	if types[in.TaskID] == template.SelfCare {
		pin.SameDaySelfCareCount++ // this completion counts itself
	}
	if types[in.TaskID] == template.Work {
		workMinutes += actual
	}
	if weekN > 0 {
		pin.WeeklyAvgMinutes = weekSum / weekN
	}
	if p.GoalHours > 0 {
		pin.GoalRatio = workMinutes / (p.GoalHours * 60)
	}
	return ProductivityScore(pin)
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// SubScores computes every composite component for a user over the
// trailing window. Components with no data score 0 rather than erroring.
func (e *Engine) SubScores(ctx context.Context, userID string, days int) (map[string]float64, error) {
	if days <= 0 {
		days = 30
	}
	p, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	to := e.now()
	from := to.AddDate(0, 0, -days)
	completed, err := e.completedInRange(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	deleted := false
	all, err := e.store.List(ctx, instance.Filter{
		UserID:    userID,
		IsDeleted: &deleted,
		From:      &from,
		To:        &to,
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	types := e.templateTypes(ctx, completed)

	var (
		stressSum, stressN       float64
		reliefSum, reliefN       float64
		netSum, weeklyNet        float64
		effSum, effN             float64
		workMinutes, sleepSum    float64
		activeSum                float64
		typeMinutes              = map[template.Type]float64{}
		workDays, selfCareCount  = map[string]bool{}, 0
		noInput                  int
		weekStart                = to.AddDate(0, 0, -7)
	)
	for _, in := range completed {
		dur := in.Actual.Float(instance.KeyTimeActual)
		if dur <= 0 {
			dur = in.DurationMinutes
		}
		activeSum += dur
		typeMinutes[types[in.TaskID]] += dur
		if stress := in.Actual.Float(instance.KeyStressLevel); stress > 0 {
			stressSum += stress
			stressN++
			if in.ReliefScore > 0 {
				effSum += in.ReliefScore / stress
				effN++
			}
		}
		if in.ReliefScore > 0 {
			reliefSum += in.ReliefScore
			reliefN++
		}
		netSum += in.NetRelief
		if in.CompletedAt != nil && !in.CompletedAt.Before(weekStart) {
			weeklyNet += in.NetRelief
		}
		switch types[in.TaskID] {
		case template.Work:
			workMinutes += dur
			if in.CompletedAt != nil {
				workDays[in.CompletedAt.UTC().Format("2006-01-02")] = true
			}
		case template.SelfCare:
			selfCareCount++
		}
		sleepSum += in.Actual.Float("sleep_minutes")
		noInput += int(in.Actual.Float(instance.KeyNoSliderInput))
	}

	subs := map[string]float64{}

	subs[SubTrackingConsistency] = TrackingConsistency(sleepSum/float64(days), activeSum/float64(days))
	subs[SubTrackingConsistency] = clampScore(subs[SubTrackingConsistency] * (1 + ThoroughnessPenalty(noInput)))

	if stressN > 0 {
		subs[SubInvertedStress] = clampScore(100 - 10*(stressSum/stressN))
	}
	if len(completed) > 0 {
		subs[SubNetWellbeing] = clampScore(50 + 5*(netSum/float64(len(completed))))
	}
	if effN > 0 {
		subs[SubStressEfficiency] = clampScore(10 * (effSum / effN))
	}
	if reliefN > 0 {
		subs[SubAvgRelief] = clampScore(10 * (reliefSum / reliefN))
	}
	if p.GoalHours > 0 {
		weeks := float64(days) / 7
		subs[SubWorkVolume] = clampScore(100 * workMinutes / (p.GoalHours * 60 * weeks))
	}
	subs[SubWorkConsistency] = clampScore(100 * float64(len(workDays)) / float64(days))
	subs[SubLifeBalance] = lifeBalance(typeMinutes)
	subs[SubWeeklyRelief] = clampScore(50 + 5*weeklyNet)
	if len(all) > 0 {
		subs[SubCompletionRate] = clampScore(100 * float64(len(completed)) / float64(len(all)))
	}
	subs[SubSelfCareFrequency] = clampScore(100 * float64(selfCareCount) / float64(days))
	return subs, nil
}

// lifeBalance scores 100 when time splits evenly across the three activity
// types and decays toward 0 as one type dominates.
func lifeBalance(minutes map[template.Type]float64) float64 {
	var total float64
	for _, t := range []template.Type{template.Work, template.Play, template.SelfCare} {
		total += minutes[t]
	}
	if total <= 0 {
		return 0
	}
	var dev float64
	for _, t := range []template.Type{template.Work, template.Play, template.SelfCare} {
		d := minutes[t]/total - 1.0/3
		if d < 0 {
			d = -d
		}
		dev += d
	}
	// max deviation is 4/3 (all time in one type)
	return clampScore(100 * (1 - dev/(4.0/3)))
}
