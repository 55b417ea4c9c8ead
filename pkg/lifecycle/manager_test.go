package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/pkg/history"
	"taskpulse/pkg/instance"
	"taskpulse/pkg/template"
)

type fixture struct {
	m     *Manager
	store *instance.FileStore
	log   *history.MemStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := instance.NewFileStore(filepath.Join(t.TempDir(), "instances.tsv"), nil)
	require.NoError(t, store.EnsureSchema(context.Background()))

	reg := template.NewStaticRegistry(
		&template.Template{ID: "t1", Name: "Deep work", Version: 2, Type: template.Work, DefaultEstimateMinutes: 30},
		&template.Template{ID: "walk", Name: "Walk", Version: 1, Type: template.SelfCare},
	)
	f := &fixture{
		store: store,
		log:   history.NewMemStore(0),
		now:   time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC),
	}
	f.m = New(store, reg, nil, WithHistory(f.log), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCreateSnapshotsTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", in.TaskID)
	assert.Equal(t, "Deep work", in.TaskName)
	assert.Equal(t, 2, in.TaskVersion)
	assert.Equal(t, instance.StatusCreated, in.Status)
	assert.Equal(t, 30.0, in.Predicted.Float(instance.KeyTimeEstimate))
	require.NotNil(t, in.CreatedAt)
	assert.True(t, in.CreatedAt.Equal(f.now))

	_, err = f.m.Create(ctx, "u1", "nope")
	require.ErrorIs(t, err, template.ErrNotFound)
}

func TestInitializeMergesAndStampsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	first := f.now.Add(5 * time.Minute)
	f.now = first
	got, err := f.m.Initialize(ctx, in.ID, "u1", instance.Bag{instance.KeyReliefExpected: 7.0})
	require.NoError(t, err)
	require.NotNil(t, got.InitializedAt)
	assert.True(t, got.InitializedAt.Equal(first))
	assert.Equal(t, 7.0, got.Predicted.Float(instance.KeyReliefExpected))
	assert.Equal(t, 30.0, got.Predicted.Float(instance.KeyTimeEstimate), "merge keeps seeded estimate")

	f.advance(10 * time.Minute)
	got, err = f.m.Initialize(ctx, in.ID, "u1", instance.Bag{instance.KeyAversion: 4.0})
	require.NoError(t, err)
	assert.True(t, got.InitializedAt.Equal(first), "initialized_at is set only once")
}

func TestFirstStartImpliesInitialization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	got, err := f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusActive, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.InitializedAt)
}

func TestAccrualAdditivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	durations := []time.Duration{10 * time.Minute, 3 * time.Minute, 27 * time.Minute, 1 * time.Minute}
	var want float64
	for _, d := range durations {
		_, err = f.m.Start(ctx, in.ID, "u1")
		require.NoError(t, err)
		f.advance(d)
		_, err = f.m.Pause(ctx, in.ID, "u1", "break", 50)
		require.NoError(t, err)
		want += d.Minutes()
		f.advance(2 * time.Minute) // paused time must not count
	}

	got, err := f.m.Complete(ctx, in.ID, "u1", nil)
	require.NoError(t, err)
	assert.InDelta(t, want, got.Actual.Float(instance.KeyTimeActual), 1e-9)
	assert.InDelta(t, want, got.DurationMinutes, 1e-9)
}

func TestPauseIdempotentOnAccrual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	// Pausing a never-started instance accrues zero.
	got, err := f.m.Pause(ctx, in.ID, "u1", "early", 0)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusCreated, got.Status)
	assert.Equal(t, 0.0, got.AccruedMinutes())

	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	got, err = f.m.Pause(ctx, in.ID, "u1", "break", 40)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.AccruedMinutes(), 1e-9)

	// Second pause without an intervening start must not double-count.
	f.advance(5 * time.Minute)
	got, err = f.m.Pause(ctx, in.ID, "u1", "again", 40)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.AccruedMinutes(), 1e-9)
}

func TestResumePreservesAccruedTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	_, err = f.m.Pause(ctx, in.ID, "u1", "", 50)
	require.NoError(t, err)

	got, err := f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.AccruedMinutes(), 1e-9, "resume leaves prior accrual untouched")
	require.NotNil(t, got.StartedAt)
}

func TestCompleteFromPausedAddsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(12 * time.Minute)
	_, err = f.m.Pause(ctx, in.ID, "u1", "", 80)
	require.NoError(t, err)

	f.advance(45 * time.Minute) // long paused stretch
	got, err := f.m.Complete(ctx, in.ID, "u1", instance.Bag{instance.KeyReliefActual: 6.0})
	require.NoError(t, err)
	assert.InDelta(t, 12.0, got.Actual.Float(instance.KeyTimeActual), 1e-9)
	assert.Equal(t, instance.StatusCompleted, got.Status)
	assert.True(t, got.IsCompleted)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.StartedAt)
}

func TestCompleteKeepsPausedCompletionPct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	_, err = f.m.Pause(ctx, in.ID, "u1", "tired", 40)
	require.NoError(t, err)

	// completing without a fresh percentage must honor the paused one
	got, err := f.m.Complete(ctx, in.ID, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 40.0, got.Actual.Float(instance.KeyCompletionPct))
	proactive := got.ProactiveScore
	assert.InDelta(t, (proactive+40)/2, got.BehavioralScore, 1e-9)

	// a fresh percentage still wins over the paused one
	in2, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)
	_, err = f.m.Start(ctx, in2.ID, "u1")
	require.NoError(t, err)
	f.advance(5 * time.Minute)
	_, err = f.m.Pause(ctx, in2.ID, "u1", "", 40)
	require.NoError(t, err)
	got2, err := f.m.Complete(ctx, in2.ID, "u1", instance.Bag{instance.KeyCompletionPct: 90.0})
	require.NoError(t, err)
	assert.InDelta(t, (got2.ProactiveScore+90)/2, got2.BehavioralScore, 1e-9)
}

func TestTerminalImmutability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)
	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(8 * time.Minute)
	done, err := f.m.Complete(ctx, in.ID, "u1", nil)
	require.NoError(t, err)

	f.advance(time.Hour)
	for name, attempt := range map[string]func() (*instance.Instance, error){
		"start":      func() (*instance.Instance, error) { return f.m.Start(ctx, in.ID, "u1") },
		"pause":      func() (*instance.Instance, error) { return f.m.Pause(ctx, in.ID, "u1", "x", 0) },
		"complete":   func() (*instance.Instance, error) { return f.m.Complete(ctx, in.ID, "u1", nil) },
		"cancel":     func() (*instance.Instance, error) { return f.m.Cancel(ctx, in.ID, "u1", "x", nil) },
		"initialize": func() (*instance.Instance, error) { return f.m.Initialize(ctx, in.ID, "u1", instance.Bag{"k": 1.0}) },
	} {
		got, err := attempt()
		require.NoError(t, err, name)
		assert.True(t, got.CompletedAt.Equal(*done.CompletedAt), "%s must not move completed_at", name)
		assert.InDelta(t, done.Actual.Float(instance.KeyTimeActual), got.Actual.Float(instance.KeyTimeActual), 1e-9, name)
		assert.Nil(t, got.CancelledAt, name)
	}
}

func TestCancelIsCompletedTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	got, err := f.m.Cancel(ctx, in.ID, "u1", "lost interest", instance.Bag{"mood": "low"})
	require.NoError(t, err)
	assert.Equal(t, instance.StatusCancelled, got.Status)
	assert.True(t, got.IsCompleted, "cancellation is stored as a completed-terminal outcome")
	require.NotNil(t, got.CancelledAt)
	assert.Nil(t, got.CompletedAt, "exactly one terminal timestamp may be set")
	assert.Equal(t, "lost interest", got.Actual.String(instance.KeyCancelReason))
	assert.Equal(t, "low", got.Actual.String("mood"))
}

func TestDeleteBlocksTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	ok, err := f.m.Delete(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, instance.StatusCreated, got.Status, "deleted instances admit no transitions")
}

func TestCompleteScenario(t *testing.T) {
	// end-to-end: 30-minute estimate, 10 accrued + pause + 5 accrued,
	// completion 100% -> time_actual 15.
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)
	_, err = f.m.Initialize(ctx, in.ID, "u1", instance.Bag{instance.KeyTimeEstimate: 30.0})
	require.NoError(t, err)

	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	_, err = f.m.Pause(ctx, in.ID, "u1", "coffee", 60)
	require.NoError(t, err)
	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(5 * time.Minute)

	got, err := f.m.Complete(ctx, in.ID, "u1", instance.Bag{instance.KeyCompletionPct: 100.0})
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got.Actual.Float(instance.KeyTimeActual), 1e-9)
	assert.InDelta(t, 15.0, got.DurationMinutes, 1e-9)
	assert.InDelta(t, -15.0, got.DelayMinutes, 1e-9, "finished 15 minutes under the estimate")
}

func TestTransitionsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)
	_, err = f.m.Start(ctx, in.ID, "u1")
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.m.Complete(ctx, in.ID, "u1", nil)
	require.NoError(t, err)

	entries, err := f.log.ByInstance(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "created", entries[0].To)
	assert.Equal(t, "active", entries[1].To)
	assert.Equal(t, "completed", entries[2].To)
}

func TestCreatedToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.m.CreatedToday(ctx, "t1", f.now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.m.Create(ctx, "u1", "t1")
	require.NoError(t, err)

	ok, err = f.m.CreatedToday(ctx, "t1", f.now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.m.CreatedToday(ctx, "t1", f.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "check is per calendar day")
}

func TestCompletedInRangeScopesUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		in, err := f.m.Create(ctx, user, "t1")
		require.NoError(t, err)
		_, err = f.m.Start(ctx, in.ID, user)
		require.NoError(t, err)
		f.advance(time.Minute)
		_, err = f.m.Complete(ctx, in.ID, user, nil)
		require.NoError(t, err)
	}

	got, err := f.m.CompletedInRange(ctx, "u1", f.now.Add(-time.Hour), f.now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
}
