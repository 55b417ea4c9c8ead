package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskpulse/pkg/history"
	"taskpulse/pkg/instance"
	"taskpulse/pkg/template"
)

// Manager drives the instance state machine:
//
//	created -> (initialize) -> active <-> paused -> completed | cancelled
//
// Completed and Cancelled are terminal; deletion is an orthogonal flag that
// is equally final. Invalid transitions are logged no-ops returning the
// unchanged instance, so duplicate UI actions never surface as errors.
// Store failures propagate unchanged.
type Manager struct {
	store     instance.Store
	templates template.Registry
	log       *slog.Logger
	history   history.Store
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistory makes the manager record every transition in the given log.
// Append failures are logged and never affect the transition itself.
func WithHistory(h history.Store) Option {
	return func(m *Manager) { m.history = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(store instance.Store, templates template.Registry, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		store:     store,
		templates: templates,
		log:       log,
		now:       func() time.Time { return time.Now().Truncate(time.Microsecond) },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create makes a new instance from a template, snapshotting the template's
// name and version and seeding the predicted bag with the default estimate.
func (m *Manager) Create(ctx context.Context, userID, templateID string) (*instance.Instance, error) {
	tpl, err := m.templates.Get(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	now := m.now()
	in := &instance.Instance{
		TaskID:      tpl.ID,
		TaskName:    tpl.Name,
		TaskVersion: tpl.Version,
		UserID:      userID,
		Status:      instance.StatusCreated,
		CreatedAt:   &now,
		Predicted:   instance.Bag{},
		Actual:      instance.Bag{},
	}
	if tpl.DefaultEstimateMinutes > 0 {
		in.Predicted[instance.KeyTimeEstimate] = tpl.DefaultEstimateMinutes
	}
	created, err := m.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	m.record(ctx, created, "", string(instance.StatusCreated), nil)
	return created, nil
}

// Initialize merges pre-execution estimates into the predicted bag and
// stamps initialized_at on first call.
func (m *Manager) Initialize(ctx context.Context, id, userID string, predicted instance.Bag) (*instance.Instance, error) {
	in, err := m.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if in.Terminal() {
		return m.noop(in, "initialize")
	}
	updates := map[string]any{}
	if len(predicted) > 0 {
		updates["predicted"] = predicted
	}
	if in.InitializedAt == nil {
		updates["initialized_at"] = m.now()
	}
	if len(updates) == 0 {
		return in, nil
	}
	out, err := m.store.Update(ctx, id, userID, updates)
	if err != nil {
		return nil, err
	}
	m.record(ctx, out, string(in.Status), string(out.Status), map[string]any{"initialized": true})
	return out, nil
}

// Start activates the instance and opens a new accrual interval. Starting
// before initialization implies it; starting an already-active instance is
// a no-op.
func (m *Manager) Start(ctx context.Context, id, userID string) (*instance.Instance, error) {
	in, err := m.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if in.Terminal() {
		return m.noop(in, "start")
	}
	if in.Status == instance.StatusActive {
		return m.noop(in, "start")
	}
	now := m.now()
	updates := map[string]any{
		"status":     instance.StatusActive,
		"started_at": now,
	}
	if in.InitializedAt == nil {
		updates["initialized_at"] = now
	}
	out, err := m.store.Update(ctx, id, userID, updates)
	if err != nil {
		return nil, err
	}
	m.record(ctx, out, string(in.Status), string(out.Status), nil)
	return out, nil
}

// Pause closes the open accrual interval and records the reason and
// completion percentage. Pausing an instance that is not currently active
// accrues nothing: pause is idempotent on accrual by design.
func (m *Manager) Pause(ctx context.Context, id, userID, reason string, completionPct float64) (*instance.Instance, error) {
	in, err := m.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if in.Terminal() {
		return m.noop(in, "pause")
	}
	if in.Status != instance.StatusActive || in.StartedAt == nil {
		return m.noop(in, "pause")
	}
	now := m.now()
	accrued := in.AccruedMinutes() + now.Sub(*in.StartedAt).Minutes()
	actual := instance.Bag{
		instance.KeyAccrued:       accrued,
		instance.KeyCompletionPct: completionPct,
	}
	if reason != "" {
		actual[instance.KeyPauseReason] = reason
	}
	out, err := m.store.Update(ctx, id, userID, map[string]any{
		"status":     instance.StatusPaused,
		"started_at": nil,
		"actual":     actual,
	})
	if err != nil {
		return nil, err
	}
	m.record(ctx, out, string(in.Status), string(out.Status), map[string]any{"accrued_minutes": accrued})
	return out, nil
}

// Complete closes the instance. When completing from active state the open
// interval is added to the accrued time; completing from paused uses the
// already-accrued value only. The actual bag is merged with the final time
// measurement and the derived scalar fields are written.
func (m *Manager) Complete(ctx context.Context, id, userID string, actual instance.Bag) (*instance.Instance, error) {
	in, err := m.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if in.Terminal() {
		return m.noop(in, "complete")
	}
	now := m.now()
	accrued := in.AccruedMinutes()
	if in.Status == instance.StatusActive && in.StartedAt != nil {
		accrued += now.Sub(*in.StartedAt).Minutes()
	}

	merged := actual.Clone()
	if merged == nil {
		merged = instance.Bag{}
	}
	merged[instance.KeyAccrued] = accrued
	merged[instance.KeyTimeActual] = accrued

	updates := map[string]any{
		"status":       instance.StatusCompleted,
		"is_completed": true,
		"completed_at": now,
		"started_at":   nil,
		"actual":       merged,
	}
	m.deriveOnComplete(in, merged, accrued, updates)

	out, err := m.store.Update(ctx, id, userID, updates)
	if err != nil {
		return nil, err
	}
	m.record(ctx, out, string(in.Status), string(out.Status), map[string]any{"accrued_minutes": accrued})
	return out, nil
}

// Cancel terminates the instance without a successful outcome. Cancellation
// is stored as a completed-terminal state (is_completed=true): downstream
// completion-rate filters depend on this exact behavior.
func (m *Manager) Cancel(ctx context.Context, id, userID, reason string, cancelCtx instance.Bag) (*instance.Instance, error) {
	in, err := m.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if in.Terminal() {
		return m.noop(in, "cancel")
	}
	merged := cancelCtx.Clone()
	if merged == nil {
		merged = instance.Bag{}
	}
	if reason != "" {
		merged[instance.KeyCancelReason] = reason
	}
	out, err := m.store.Update(ctx, id, userID, map[string]any{
		"status":       instance.StatusCancelled,
		"is_completed": true,
		"cancelled_at": m.now(),
		"started_at":   nil,
		"actual":       merged,
	})
	if err != nil {
		return nil, err
	}
	m.record(ctx, out, string(in.Status), string(out.Status), map[string]any{"reason": reason})
	return out, nil
}

// Delete soft-deletes the instance. Status is untouched; the flag alone
// makes the instance terminal.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		m.record(ctx, &instance.Instance{ID: id}, "", "deleted", nil)
	}
	return ok, nil
}

// CreatedToday reports whether an instance for the template already exists
// on the given calendar day. The routine scheduler calls this before
// creating, so concurrent scheduler runs don't double-create.
func (m *Manager) CreatedToday(ctx context.Context, templateID string, day time.Time) (bool, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24 * time.Hour)
	found, err := m.store.List(ctx, instance.Filter{
		TaskID: templateID,
		From:   &from,
		To:     &to,
		Limit:  1,
	})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// CompletedInRange returns a user's completed, non-deleted instances whose
// completion falls in [from, to). The metrics engine reads through this.
func (m *Manager) CompletedInRange(ctx context.Context, userID string, from, to time.Time) ([]instance.Instance, error) {
	completed := true
	deleted := false
	return m.store.List(ctx, instance.Filter{
		UserID:      userID,
		IsCompleted: &completed,
		IsDeleted:   &deleted,
		TimeField:   "completed_at",
		From:        &from,
		To:          &to,
		OrderBy:     "completed_at",
	})
}

// ListForUser lists a user's instances with the filter forcibly scoped to
// that user.
func (m *Manager) ListForUser(ctx context.Context, userID string, f instance.Filter) ([]instance.Instance, error) {
	f.UserID = userID
	return m.store.List(ctx, f)
}

// deriveOnComplete writes the completion-time scalar snapshot. Formulas:
// delay is overrun against the estimate, procrastination the overrun as a
// percentage of the estimate (0-100), proactive its complement, behavioral
// the mean of proactive and the final completion percentage.
func (m *Manager) deriveOnComplete(in *instance.Instance, actual instance.Bag, accrued float64, updates map[string]any) {
	estimate := in.Predicted.Float(instance.KeyTimeEstimate)

	delay := 0.0
	procrastination := 0.0
	if estimate > 0 {
		delay = accrued - estimate
		procrastination = clamp(100*max(0, delay)/estimate, 0, 100)
	}
	proactive := 100 - procrastination

	// a pause may already have recorded progress; only a bag with no
	// percentage at all means fully done
	completionPct := 100.0
	switch {
	case actual.Has(instance.KeyCompletionPct):
		completionPct = actual.Float(instance.KeyCompletionPct)
	case in.Actual.Has(instance.KeyCompletionPct):
		completionPct = in.Actual.Float(instance.KeyCompletionPct)
	}

	reliefActual := actual.Float(instance.KeyReliefActual)
	reliefExpected := in.Predicted.Float(instance.KeyReliefExpected)

	updates["duration_minutes"] = accrued
	updates["delay_minutes"] = delay
	updates["relief_score"] = reliefActual
	updates["net_relief"] = reliefActual - reliefExpected
	updates["cognitive_load"] = actual.Float(instance.KeyCognitiveLoad)
	updates["emotional_load"] = actual.Float(instance.KeyEmotionalLoad)
	updates["mental_energy_needed"] = actual.Float("mental_energy_needed")
	updates["task_difficulty"] = actual.Float("task_difficulty")
	updates["environmental_effect"] = actual.Float("environmental_effect")
	updates["procrastination_score"] = procrastination
	updates["proactive_score"] = proactive
	updates["behavioral_score"] = (proactive + completionPct) / 2
	if s := actual.String(instance.KeySkillsImproved); s != "" {
		updates["skills_improved"] = s
	}
}

// noop logs an ignored transition and returns the instance unchanged.
func (m *Manager) noop(in *instance.Instance, verb string) (*instance.Instance, error) {
	m.log.Warn("ignoring invalid lifecycle transition",
		"verb", verb, "instance_id", in.ID, "status", string(in.Status),
		"is_completed", in.IsCompleted, "is_deleted", in.IsDeleted)
	return in, nil
}

func (m *Manager) record(ctx context.Context, in *instance.Instance, from, to string, detail map[string]any) {
	if m.history == nil {
		return
	}
	if _, err := m.history.Append(ctx, in.ID, in.UserID, from, to, detail); err != nil {
		m.log.Warn("transition log append failed", "instance_id", in.ID, "err", err)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
