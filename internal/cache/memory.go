package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process cache backed by an expiring LRU. The TTL is
// fixed at construction; Set's ttl argument is ignored.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a MemoryCache holding up to size entries that
// expire after ttl. size<=0 defaults to 1024.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *MemoryCache) Get(ctx context.Context, key string, value any) error {
	raw, ok := c.lru.Get(key)
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decode cached value: %w", err)
	}
	return nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	c.lru.Add(key, raw)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := c.lru.Get(key)
	return ok, nil
}

func (c *MemoryCache) Flush(ctx context.Context) error {
	c.lru.Purge()
	return nil
}
