package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"taskpulse/pkg/instance"
	"taskpulse/pkg/template"
)

// Dashboard is the aggregate snapshot behind the dashboard view.
type Dashboard struct {
	UserID           string             `json:"user_id"`
	Days             int                `json:"days"`
	TotalCompleted   int                `json:"total_completed"`
	TotalCancelled   int                `json:"total_cancelled"`
	TotalMinutes     float64            `json:"total_minutes"`
	AvgProductivity  float64            `json:"avg_productivity"`
	AvgRelief        float64            `json:"avg_relief"`
	AvgNetRelief     float64            `json:"avg_net_relief"`
	SubScores        map[string]float64 `json:"sub_scores"`
	Composite        CompositeResult    `json:"composite"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// ReliefReport summarizes expected vs actual relief over the trailing month.
type ReliefReport struct {
	UserID      string  `json:"user_id"`
	Count       int     `json:"count"`
	AvgExpected float64 `json:"avg_expected"`
	AvgActual   float64 `json:"avg_actual"`
	AvgNet      float64 `json:"avg_net"`
	WeeklyNet   float64 `json:"weekly_net"`
}

// TaskRank is one row of a performance ranking.
type TaskRank struct {
	TaskID   string  `json:"task_id"`
	TaskName string  `json:"task_name"`
	Score    float64 `json:"score"`
	Count    int     `json:"count"`
}

// Recommendation suggests a template worth doing next, with the evidence
// that put it on the list.
type Recommendation struct {
	TemplateID   string  `json:"template_id"`
	Name         string  `json:"name"`
	Type         template.Type `json:"type"`
	AvgNetRelief float64 `json:"avg_net_relief"`
	Completions  int     `json:"completions"`
	Reason       string  `json:"reason"`
}

// RecommendationFilters narrows what Recommendations may suggest.
type RecommendationFilters struct {
	UserID string
	Type   template.Type // empty = any
	Limit  int           // 0 = 5
}

// DashboardMetrics assembles the full dashboard for a user over the
// trailing window. days<=0 defaults to 30.
func (e *Engine) DashboardMetrics(ctx context.Context, userID string, days int) (*Dashboard, error) {
	if days <= 0 {
		days = 30
	}
	p, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	completed, err := e.completedLastDays(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	types := e.templateTypes(ctx, completed)

	d := &Dashboard{UserID: userID, Days: days, GeneratedAt: e.now()}
	d.TotalCancelled, err = e.countCancelled(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	var prodSum, reliefSum, netSum float64
	var reliefN int
	for i := range completed {
		in := &completed[i]
		if in.Status == instance.StatusCancelled {
			continue
		}
		d.TotalCompleted++
		dur := in.Actual.Float(instance.KeyTimeActual)
		if dur <= 0 {
			dur = in.DurationMinutes
		}
		d.TotalMinutes += dur
		prodSum += e.scoreInstance(in, types, trailingWeek(completed, in), p)
		if in.ReliefScore > 0 {
			reliefSum += in.ReliefScore
			reliefN++
		}
		netSum += in.NetRelief
	}
	if d.TotalCompleted > 0 {
		d.AvgProductivity = prodSum / float64(d.TotalCompleted)
		d.AvgNetRelief = netSum / float64(d.TotalCompleted)
	}
	if reliefN > 0 {
		d.AvgRelief = reliefSum / float64(reliefN)
	}

	subs, err := e.SubScores(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	d.SubScores = subs
	d.Composite = Composite(subs, p.Weights, false)
	return d, nil
}

// countCancelled counts cancellations in the trailing window. Cancelled
// instances carry a cancelled_at stamp but no completed_at, so the
// completion listing never sees them.
func (e *Engine) countCancelled(ctx context.Context, userID string, days int) (int, error) {
	deleted := false
	to := e.now()
	from := to.AddDate(0, 0, -days)
	list, err := e.store.List(ctx, instance.Filter{
		UserID:    userID,
		Statuses:  []instance.Status{instance.StatusCancelled},
		IsDeleted: &deleted,
		TimeField: "cancelled_at",
		From:      &from,
		To:        &to,
	})
	if err != nil {
		return 0, fmt.Errorf("list cancelled: %w", err)
	}
	return len(list), nil
}

// trailingWeek filters an already-fetched completion list down to the 7
// days ending at the given instance's completion time.
func trailingWeek(completed []instance.Instance, in *instance.Instance) []instance.Instance {
	if in.CompletedAt == nil {
		return nil
	}
	start := in.CompletedAt.AddDate(0, 0, -7)
	var out []instance.Instance
	for _, w := range completed {
		if w.CompletedAt == nil {
			continue
		}
		if !w.CompletedAt.Before(start) && !w.CompletedAt.After(*in.CompletedAt) {
			out = append(out, w)
		}
	}
	return out
}

// CompositeScore blends the user's sub-scores with the given weights. A nil
// weight map falls back to the user's stored preference weights; normalize
// min-max rescales the sub-scores to 0-100 before weighting.
func (e *Engine) CompositeScore(ctx context.Context, userID string, weights map[string]float64, normalize bool) (CompositeResult, error) {
	subs, err := e.SubScores(ctx, userID, 30)
	if err != nil {
		return CompositeResult{}, err
	}
	if weights == nil {
		p, perr := e.prefs.Get(ctx, userID)
		if perr != nil {
			return CompositeResult{}, fmt.Errorf("load preferences: %w", perr)
		}
		weights = p.Weights
	}
	return Composite(subs, weights, normalize), nil
}

// ReliefSummary reports expected vs actual relief over the trailing 30
// days, plus the net total for the last 7.
func (e *Engine) ReliefSummary(ctx context.Context, userID string) (*ReliefReport, error) {
	completed, err := e.completedLastDays(ctx, userID, 30)
	if err != nil {
		return nil, err
	}
	r := &ReliefReport{UserID: userID}
	weekStart := e.now().AddDate(0, 0, -7)
	var expSum, actSum, netSum float64
	for _, in := range completed {
		r.Count++
		expSum += in.Predicted.Float(instance.KeyReliefExpected)
		actSum += in.Actual.Float(instance.KeyReliefActual)
		netSum += in.NetRelief
		if in.CompletedAt != nil && !in.CompletedAt.Before(weekStart) {
			r.WeeklyNet += in.NetRelief
		}
	}
	if r.Count > 0 {
		r.AvgExpected = expSum / float64(r.Count)
		r.AvgActual = actSum / float64(r.Count)
		r.AvgNet = netSum / float64(r.Count)
	}
	return r, nil
}

// PerformanceRanking ranks tasks by the average of a metric across all
// users' completions in the trailing 30 days. Supported metrics: relief,
// net_relief, productivity, duration.
func (e *Engine) PerformanceRanking(ctx context.Context, metric string, topN int) ([]TaskRank, error) {
	switch metric {
	case RankByRelief, RankByNetRelief, RankByProductivity, RankByDuration:
	default:
		return nil, fmt.Errorf("%w: unsupported ranking metric %q", instance.ErrValidation, metric)
	}
	if topN <= 0 {
		topN = 10
	}
	completed, err := e.completedLastDays(ctx, "", 30)
	if err != nil {
		return nil, err
	}
	type agg struct {
		name  string
		sum   float64
		count int
	}
	byTask := map[string]*agg{}
	for i := range completed {
		in := &completed[i]
		a := byTask[in.TaskID]
		if a == nil {
			a = &agg{name: in.TaskName}
			byTask[in.TaskID] = a
		}
		switch metric {
		case RankByRelief:
			a.sum += in.ReliefScore
		case RankByNetRelief:
			a.sum += in.NetRelief
		case RankByProductivity:
			a.sum += in.BehavioralScore
		case RankByDuration:
			a.sum += in.DurationMinutes
		}
		a.count++
	}
	ranks := make([]TaskRank, 0, len(byTask))
	for id, a := range byTask {
		ranks = append(ranks, TaskRank{
			TaskID:   id,
			TaskName: a.name,
			Score:    a.sum / float64(a.count),
			Count:    a.count,
		})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Score != ranks[j].Score {
			return ranks[i].Score > ranks[j].Score
		}
		return ranks[i].TaskID < ranks[j].TaskID
	})
	if len(ranks) > topN {
		ranks = ranks[:topN]
	}
	return ranks, nil
}

// Recommendations suggests templates the user has historically gotten the
// most net relief from, skipping any already done today.
func (e *Engine) Recommendations(ctx context.Context, f RecommendationFilters) ([]Recommendation, error) {
	if f.Limit <= 0 {
		f.Limit = 5
	}
	templates, err := e.templates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	completed, err := e.completedLastDays(ctx, f.UserID, 30)
	if err != nil {
		return nil, err
	}
	today := e.now().UTC().Format("2006-01-02")
	doneToday := map[string]bool{}
	type agg struct {
		net   float64
		count int
	}
	byTask := map[string]*agg{}
	for _, in := range completed {
		a := byTask[in.TaskID]
		if a == nil {
			a = &agg{}
			byTask[in.TaskID] = a
		}
		a.net += in.NetRelief
		a.count++
		if in.CompletedAt != nil && in.CompletedAt.UTC().Format("2006-01-02") == today {
			doneToday[in.TaskID] = true
		}
	}

	var out []Recommendation
	for _, tpl := range templates {
		if f.Type != "" && tpl.Type != f.Type {
			continue
		}
		if doneToday[tpl.ID] {
			continue
		}
		rec := Recommendation{TemplateID: tpl.ID, Name: tpl.Name, Type: tpl.Type}
		if a := byTask[tpl.ID]; a != nil && a.count > 0 {
			rec.AvgNetRelief = a.net / float64(a.count)
			rec.Completions = a.count
			rec.Reason = "high net relief in your recent history"
			if rec.AvgNetRelief <= 0 {
				continue
			}
		} else {
			rec.Reason = "not yet tried"
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgNetRelief != out[j].AvgNetRelief {
			return out[i].AvgNetRelief > out[j].AvgNetRelief
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
