package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"taskpulse/internal/cache"
	"taskpulse/pkg/instance"
)

// CachedEngine memoizes the engine's aggregate entry points per
// (user, parameter signature) with a short TTL. Invalidation is TTL-only:
// lifecycle writes do not purge entries, so callers see at most one TTL of
// staleness. Invalidate is available for callers that want fresher reads.
type CachedEngine struct {
	engine *Engine
	cache  cache.Cache
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedEngine wraps an Engine. ttl<=0 defaults to 60 seconds.
func NewCachedEngine(engine *Engine, c cache.Cache, ttl time.Duration, log *slog.Logger) *CachedEngine {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedEngine{engine: engine, cache: c, ttl: ttl, log: log}
}

// Invalidate drops every cached result for a user. Lifecycle code does not
// call this; it exists for callers that need a fresh read before the TTL
// lapses.
func (c *CachedEngine) Invalidate(ctx context.Context, userID string) error {
	return c.cache.DeletePrefix(ctx, "metrics:"+userID+":")
}

// cachedCall runs compute on a miss and stores the result; a hit decodes
// straight out of the cache. Cache failures degrade to a direct compute
// with a warning, never an error.
func cachedCall[T any](ctx context.Context, c *CachedEngine, key string, compute func() (T, error)) (T, error) {
	var cached T
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		c.log.Warn("cache read failed", "key", key, "error", err)
	}
	fresh, err := compute()
	if err != nil {
		return fresh, err
	}
	if err := c.cache.Set(ctx, key, fresh, c.ttl); err != nil {
		c.log.Warn("cache write failed", "key", key, "error", err)
	}
	return fresh, nil
}

func (c *CachedEngine) DashboardMetrics(ctx context.Context, userID string, days int) (*Dashboard, error) {
	key := fmt.Sprintf("metrics:%s:dashboard:%d", userID, days)
	return cachedCall(ctx, c, key, func() (*Dashboard, error) {
		return c.engine.DashboardMetrics(ctx, userID, days)
	})
}

func (c *CachedEngine) CompositeScore(ctx context.Context, userID string, weights map[string]float64, normalize bool) (CompositeResult, error) {
	key := fmt.Sprintf("metrics:%s:composite:%s:%t", userID, weightSignature(weights), normalize)
	return cachedCall(ctx, c, key, func() (CompositeResult, error) {
		return c.engine.CompositeScore(ctx, userID, weights, normalize)
	})
}

func (c *CachedEngine) ReliefSummary(ctx context.Context, userID string) (*ReliefReport, error) {
	key := fmt.Sprintf("metrics:%s:relief", userID)
	return cachedCall(ctx, c, key, func() (*ReliefReport, error) {
		return c.engine.ReliefSummary(ctx, userID)
	})
}

func (c *CachedEngine) SubScores(ctx context.Context, userID string, days int) (map[string]float64, error) {
	key := fmt.Sprintf("metrics:%s:subscores:%d", userID, days)
	return cachedCall(ctx, c, key, func() (map[string]float64, error) {
		return c.engine.SubScores(ctx, userID, days)
	})
}

func (c *CachedEngine) InstanceSnapshots(ctx context.Context, userID string, days int, completedOnly bool) ([]instance.Instance, error) {
	key := fmt.Sprintf("metrics:%s:snapshots:%d:%t", userID, days, completedOnly)
	return cachedCall(ctx, c, key, func() ([]instance.Instance, error) {
		return c.engine.InstanceSnapshots(ctx, userID, days, completedOnly)
	})
}

func (c *CachedEngine) TimeTracking(ctx context.Context, userID string, days int) (*TimeTrackingReport, error) {
	key := fmt.Sprintf("metrics:%s:timetracking:%d", userID, days)
	return cachedCall(ctx, c, key, func() (*TimeTrackingReport, error) {
		return c.engine.TimeTracking(ctx, userID, days)
	})
}

func (c *CachedEngine) TrendSeries(ctx context.Context, userID, metric string, days int) ([]TrendPoint, error) {
	key := fmt.Sprintf("metrics:%s:trend:%s:%d", userID, metric, days)
	return cachedCall(ctx, c, key, func() ([]TrendPoint, error) {
		return c.engine.TrendSeries(ctx, userID, metric, days)
	})
}

func (c *CachedEngine) AttributeDistribution(ctx context.Context, userID, key string, days int) (*AttributeDistribution, error) {
	cacheKey := fmt.Sprintf("metrics:%s:attrdist:%s:%d", userID, key, days)
	return cachedCall(ctx, c, cacheKey, func() (*AttributeDistribution, error) {
		return c.engine.AttributeDistribution(ctx, userID, key, days)
	})
}

// PerformanceRanking is keyed under a reserved "all" user segment since the
// ranking spans every user.
func (c *CachedEngine) PerformanceRanking(ctx context.Context, metric string, topN int) ([]TaskRank, error) {
	key := fmt.Sprintf("metrics:all:ranking:%s:%d", metric, topN)
	return cachedCall(ctx, c, key, func() ([]TaskRank, error) {
		return c.engine.PerformanceRanking(ctx, metric, topN)
	})
}

func (c *CachedEngine) Recommendations(ctx context.Context, f RecommendationFilters) ([]Recommendation, error) {
	key := fmt.Sprintf("metrics:%s:recommend:%s:%d", f.UserID, f.Type, f.Limit)
	return cachedCall(ctx, c, key, func() ([]Recommendation, error) {
		return c.engine.Recommendations(ctx, f)
	})
}

// AversionCheck is a point query over one fresh rating; it is never cached.
func (c *CachedEngine) AversionCheck(ctx context.Context, userID, taskID string, current, expectedRelief, actualRelief float64) (*AversionReport, error) {
	return c.engine.AversionCheck(ctx, userID, taskID, current, expectedRelief, actualRelief)
}

// weightSignature renders a weight map deterministically so equal maps hit
// the same cache entry.
func weightSignature(weights map[string]float64) string {
	if len(weights) == 0 {
		return "default"
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, weights[name]))
	}
	return strings.Join(parts, ",")
}
