package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/pkg/instance"
)

func TestInstanceSnapshotsFullAndCompletedOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)
	f.completed("u1", "walk", "Evening walk", 2, 20, 3, 8)
	f.cancelled("u1", "chess", 3)
	created := engineNow.AddDate(0, 0, -1)
	_, err := f.store.Create(ctx, &instance.Instance{
		TaskID:    "chess",
		UserID:    "u1",
		Status:    instance.StatusActive,
		CreatedAt: &created,
		StartedAt: &created,
	})
	require.NoError(t, err)
	f.completed("u2", "deep-work", "Deep work", 1, 40, 5, 5) // other user

	full, err := f.engine.InstanceSnapshots(ctx, "u1", 30, false)
	require.NoError(t, err)
	assert.Len(t, full, 4)

	// cancelled and still-open instances carry no completion stamp
	done, err := f.engine.InstanceSnapshots(ctx, "u1", 30, true)
	require.NoError(t, err)
	require.Len(t, done, 2)
	for _, in := range done {
		assert.NotNil(t, in.CompletedAt)
	}
}

func TestTimeTrackingBucketsByDay(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)
	f.completed("u1", "walk", "Evening walk", 1, 35, 3, 8)
	f.completed("u1", "deep-work", "Deep work", 2, 20, 5, 6)

	r, err := f.engine.TimeTracking(ctx, "u1", 30)
	require.NoError(t, err)
	assert.InDelta(t, 80, r.TotalMinutes, 1e-9)
	assert.Equal(t, 2, r.ActiveDays)
	assert.InDelta(t, 40, r.AvgPerActiveDay, 1e-9)
	require.Len(t, r.ByDay, 2)
	// oldest day first
	assert.InDelta(t, 20, r.ByDay[0].Minutes, 1e-9)
	assert.Equal(t, 1, r.ByDay[0].Count)
	assert.InDelta(t, 60, r.ByDay[1].Minutes, 1e-9)
	assert.Equal(t, 2, r.ByDay[1].Count)
	assert.Less(t, r.ByDay[0].Day, r.ByDay[1].Day)
}

func TestTrendSeriesPerDayAverage(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 9)
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)
	f.completed("u1", "walk", "Evening walk", 3, 20, 3, 4)

	series, err := f.engine.TrendSeries(ctx, "u1", RankByRelief, 30)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.InDelta(t, 4, series[0].Value, 1e-9)
	assert.Equal(t, 1, series[0].Count)
	assert.InDelta(t, 8, series[1].Value, 1e-9)
	assert.Equal(t, 2, series[1].Count)

	_, err = f.engine.TrendSeries(ctx, "u1", "charisma", 30)
	assert.ErrorIs(t, err, instance.ErrValidation)
}

func TestAttributeDistribution(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)
	f.completed("u1", "deep-work", "Deep work", 2, 25, 5, 7.5)
	f.completed("u1", "walk", "Evening walk", 3, 20, 3, 3)

	dist, err := f.engine.AttributeDistribution(ctx, "u1", instance.KeyReliefActual, 30)
	require.NoError(t, err)
	assert.Equal(t, 3, dist.Count)
	assert.Equal(t, 0, dist.Missing)
	assert.InDelta(t, 3, dist.Min, 1e-9)
	assert.InDelta(t, 7.5, dist.Max, 1e-9)
	assert.InDelta(t, 17.5/3, dist.Mean, 1e-9)
	assert.Equal(t, map[string]int{"3": 1, "7": 2}, dist.Buckets)

	// a key none of the completions carry
	dist, err = f.engine.AttributeDistribution(ctx, "u1", instance.KeyStressLevel, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, dist.Count)
	assert.Equal(t, 3, dist.Missing)
	assert.Empty(t, dist.Buckets)

	_, err = f.engine.AttributeDistribution(ctx, "u1", "", 30)
	assert.ErrorIs(t, err, instance.ErrValidation)
}
