// Package cache provides a small keyed cache abstraction with in-memory
// and Redis implementations. Values are JSON-encoded; callers pass a
// pointer to decode into on Get.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the shared contract for all backends.
type Cache interface {
	// Get decodes the cached value for key into value.
	Get(ctx context.Context, key string, value any) error
	// Set stores value under key. The memory backend applies its
	// construction-time TTL; the Redis backend honors the per-call ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes a single key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Flush removes everything.
	Flush(ctx context.Context) error
}
