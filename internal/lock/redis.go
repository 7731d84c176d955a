package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix    = "lock:point:"
	defaultPollInterval = 50 * time.Millisecond
)

// RedisClient implements Client on Redis via redislock. Locks are not
// re-entrant, so a held lock always reports a hold count of one.
type RedisClient struct {
	rdb    *redis.Client
	locker *redislock.Client
	prefix string
	poll   time.Duration
}

// NewRedisClient builds a lock client over rdb.
func NewRedisClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{
		rdb:    rdb,
		locker: redislock.New(rdb),
		prefix: defaultKeyPrefix,
		poll:   defaultPollInterval,
	}
}

// Acquire polls for the key until wait elapses.
func (c *RedisClient) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lease, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	l, err := c.locker.Obtain(waitCtx, c.prefix+key, lease, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(c.poll),
	})
	switch {
	case err == nil:
		return &redisLease{key: key, lock: l}, nil
	case errors.Is(err, redislock.ErrNotObtained):
		return nil, ErrNotObtained
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// wait ran out mid round-trip
		return nil, ErrNotObtained
	default:
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}
}

// Inspect reads the key's remaining lease.
func (c *RedisClient) Inspect(ctx context.Context, key string) (Info, error) {
	ttl, err := c.rdb.PTTL(ctx, c.prefix+key).Result()
	if err != nil {
		return Info{}, fmt.Errorf("inspect %s: %w", key, err)
	}
	info := Info{Key: key, CheckedAt: time.Now().UTC()}
	// go-redis reports -2 for a missing key and -1 for a key without expiry.
	switch ttl {
	case -2:
		info.RemainingLease = -1
	case -1:
		info.Locked = true
		info.HoldCount = 1
		info.RemainingLease = -1
	default:
		info.Locked = true
		info.HoldCount = 1
		info.RemainingLease = ttl
	}
	return info, nil
}

// ForceRelease deletes the key regardless of who holds it.
func (c *RedisClient) ForceRelease(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Del(ctx, c.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("force release %s: %w", key, err)
	}
	return n > 0, nil
}

type redisLease struct {
	key  string
	lock *redislock.Lock
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	if err := l.lock.Release(ctx); err != nil {
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release %s: lease lost: %w", l.key, err)
		}
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
