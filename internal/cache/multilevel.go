package cache

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// l1TTL caps how long a value promoted from L2 lives in process memory,
// so other processes' invalidations are observed within that window.
const l1TTL = 30 * time.Second

// MultiLevelCache reads through an in-process tier before Redis. A nil L2
// makes it a plain memory cache. L2 failures degrade to L1 only.
type MultiLevelCache struct {
	l1 *MemoryCache
	l2 Cache
}

func NewMultiLevelCache(l1 *MemoryCache, l2 Cache) *MultiLevelCache {
	if l1 == nil {
		l1 = NewMemoryCache(0)
	}
	return &MultiLevelCache{l1: l1, l2: l2}
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, minTTL(ttl, l1TTL)); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			log.WithError(err).WithField("key", key).Warn("l2 cache set failed")
		}
	}
	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := c.l1.Get(ctx, key, dest); err == nil {
		return nil
	}
	if c.l2 == nil {
		return ErrCacheMiss
	}

	err := c.l2.Get(ctx, key, dest)
	switch {
	case err == nil:
		_ = c.l1.Set(ctx, key, dest, l1TTL)
		return nil
	case errors.Is(err, ErrCacheMiss):
		return ErrCacheMiss
	default:
		log.WithError(err).WithField("key", key).Debug("l2 cache get failed")
		return ErrCacheMiss
	}
}

func (c *MultiLevelCache) Delete(ctx context.Context, keys ...string) error {
	_ = c.l1.Delete(ctx, keys...)
	if c.l2 != nil {
		return c.l2.Delete(ctx, keys...)
	}
	return nil
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	_ = c.l1.DeletePattern(ctx, pattern)
	if c.l2 != nil {
		return c.l2.DeletePattern(ctx, pattern)
	}
	return nil
}

func (c *MultiLevelCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, _ := c.l1.Exists(ctx, key); ok {
		return true, nil
	}
	if c.l2 != nil {
		return c.l2.Exists(ctx, key)
	}
	return false, nil
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1": c.l1.Stats(),
	}
	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}
	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 != nil {
		return c.l2.Health(ctx)
	}
	return nil
}

func (c *MultiLevelCache) Close() error {
	_ = c.l1.Close()
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

func minTTL(ttl, ceiling time.Duration) time.Duration {
	if ttl <= 0 || ttl > ceiling {
		return ceiling
	}
	return ttl
}
