package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/congo-pay/pointledger/internal/point"
)

const defaultCacheKey = "point:policy"

// CachedSource is a read-through Redis cache in front of a Loader. It
// implements point.PolicySource. Concurrent misses share one load, and a
// Redis outage degrades to reading the loader directly.
type CachedSource struct {
	loader Loader
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedSource builds the cache. A nil rdb disables caching.
func NewCachedSource(loader Loader, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{loader: loader, rdb: rdb, key: defaultCacheKey, ttl: ttl, logger: logger}
}

func (c *CachedSource) EarnPolicy(ctx context.Context) (point.EarnPolicy, error) {
	p, err := c.Get(ctx)
	return p.Earn, err
}

func (c *CachedSource) ExpirationPolicy(ctx context.Context) (point.ExpirationPolicy, error) {
	p, err := c.Get(ctx)
	return p.Expiration, err
}

// Get returns the cached policies, loading and caching them on a miss.
func (c *CachedSource) Get(ctx context.Context) (Policies, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, c.key).Bytes()
		switch {
		case err == nil:
			var p Policies
			jerr := json.Unmarshal(raw, &p)
			if jerr == nil {
				return p, nil
			}
			c.logger.Warn("discarding unreadable policy cache entry", "key", c.key, "error", jerr)
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("policy cache read failed", "key", c.key, "error", err)
		}
	}

	v, err, _ := c.group.Do(c.key, func() (any, error) {
		p, err := c.loader.Load(ctx)
		if err != nil {
			return Policies{}, err
		}
		c.store(ctx, p)
		return p, nil
	})
	if err != nil {
		return Policies{}, fmt.Errorf("load policies: %w", err)
	}
	return v.(Policies), nil
}

// Invalidate drops the cached entry so the next read reloads it.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("invalidate policy cache: %w", err)
	}
	c.logger.Info("policy cache invalidated", "key", c.key)
	return nil
}

func (c *CachedSource) store(ctx context.Context, p Policies) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		c.logger.Warn("encode policy cache entry", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("policy cache write failed", "key", c.key, "error", err)
	}
}
