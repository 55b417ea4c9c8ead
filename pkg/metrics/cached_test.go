package metrics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/cache"
	"taskpulse/pkg/instance"
)

func newCachedFixture(t *testing.T) (*engineFixture, *CachedEngine, cache.Cache) {
	t.Helper()
	f := newEngineFixture(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := cache.NewMemoryCache(64, time.Minute)
	ce := NewCachedEngine(f.engine, mem, time.Minute, log)
	return f, ce, mem
}

func TestCachedDashboardServesStaleUntilTTL(t *testing.T) {
	f, ce, _ := newCachedFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)

	first, err := ce.DashboardMetrics(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalCompleted)

	// a write after the snapshot is invisible until the TTL lapses
	f.completed("u1", "walk", "Evening walk", 1, 20, 3, 8)
	stale, err := ce.DashboardMetrics(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.TotalCompleted)

	require.NoError(t, ce.Invalidate(ctx, "u1"))
	fresh, err := ce.DashboardMetrics(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalCompleted)
}

func TestCachedCompositeKeyedByWeights(t *testing.T) {
	f, ce, mem := newCachedFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)

	a, err := ce.CompositeScore(ctx, "u1", map[string]float64{SubAvgRelief: 1}, false)
	require.NoError(t, err)
	b, err := ce.CompositeScore(ctx, "u1", map[string]float64{SubCompletionRate: 1}, false)
	require.NoError(t, err)
	// different weight signatures must not collide on one cache entry
	assert.NotEqual(t, a.Components, b.Components)

	// the normalize flag is part of the key: each variant gets its own entry
	_, err = ce.CompositeScore(ctx, "u1", map[string]float64{SubAvgRelief: 1}, true)
	require.NoError(t, err)
	for _, key := range []string{
		"metrics:u1:composite:average_relief=1:false",
		"metrics:u1:composite:average_relief=1:true",
	} {
		ok, err := mem.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestCachedQueryFamilyKeys(t *testing.T) {
	f, ce, mem := newCachedFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)

	_, err := ce.InstanceSnapshots(ctx, "u1", 30, false)
	require.NoError(t, err)
	_, err = ce.InstanceSnapshots(ctx, "u1", 30, true)
	require.NoError(t, err)
	_, err = ce.TimeTracking(ctx, "u1", 30)
	require.NoError(t, err)
	_, err = ce.TrendSeries(ctx, "u1", RankByNetRelief, 30)
	require.NoError(t, err)
	_, err = ce.AttributeDistribution(ctx, "u1", instance.KeyReliefActual, 30)
	require.NoError(t, err)

	for _, key := range []string{
		"metrics:u1:snapshots:30:false",
		"metrics:u1:snapshots:30:true",
		"metrics:u1:timetracking:30",
		"metrics:u1:trend:net_relief:30",
		"metrics:u1:attrdist:relief_actual:30",
	} {
		ok, err := mem.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	// a later write is invisible until the entries are dropped
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)
	stale, err := ce.TimeTracking(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.ActiveDays)
	assert.InDelta(t, 25, stale.TotalMinutes, 1e-9)

	require.NoError(t, ce.Invalidate(ctx, "u1"))
	fresh, err := ce.TimeTracking(ctx, "u1", 30)
	require.NoError(t, err)
	assert.InDelta(t, 50, fresh.TotalMinutes, 1e-9)
}

func TestCachedInvalidateScopesToUser(t *testing.T) {
	f, ce, _ := newCachedFixture(t)
	ctx := context.Background()
	f.completed("u1", "deep-work", "Deep work", 1, 25, 5, 7)
	f.completed("u2", "walk", "Evening walk", 1, 20, 3, 8)

	_, err := ce.ReliefSummary(ctx, "u1")
	require.NoError(t, err)
	before, err := ce.ReliefSummary(ctx, "u2")
	require.NoError(t, err)

	require.NoError(t, ce.Invalidate(ctx, "u1"))

	// u2's entry survives; a new u2 write stays invisible (still cached)
	f.completed("u2", "walk", "Evening walk", 2, 20, 3, 8)
	after, err := ce.ReliefSummary(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, before.Count, after.Count)
}

func TestWeightSignatureDeterministic(t *testing.T) {
	a := weightSignature(map[string]float64{"x": 1, "y": 2})
	b := weightSignature(map[string]float64{"y": 2, "x": 1})
	assert.Equal(t, a, b)
	assert.Equal(t, "default", weightSignature(nil))
}
