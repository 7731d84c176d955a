package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPollInterval = 2 * time.Millisecond

// errMemoryDown simulates an unreachable lock service.
var errMemoryDown = errors.New("memory lock service down")

// MemoryClient is an in-process Client for tests and single-instance
// development. Leases expire by wall clock like their Redis counterparts.
type MemoryClient struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	down  bool
	now   func() time.Time
	polls int
}

type memoryHold struct {
	token   uuid.UUID
	expires time.Time
}

// NewMemoryClient builds an empty in-memory lock client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{held: make(map[string]memoryHold), now: time.Now}
}

// SetUnavailable makes every subsequent call fail as if the service were down.
func (c *MemoryClient) SetUnavailable(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// Attempts reports how many acquisition polls were made, for tests.
func (c *MemoryClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func (c *MemoryClient) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lease, error) {
	deadline := time.Now().Add(wait)
	for {
		l, err := c.tryAcquire(key, lease)
		if err == nil || !errors.Is(err, ErrNotObtained) {
			return l, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotObtained
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotObtained
		case <-time.After(memoryPollInterval):
		}
	}
}

func (c *MemoryClient) tryAcquire(key string, lease time.Duration) (Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.down {
		return nil, fmt.Errorf("obtain %s: %w", key, errMemoryDown)
	}
	now := c.now()
	if h, ok := c.held[key]; ok && now.Before(h.expires) {
		return nil, ErrNotObtained
	}
	token := uuid.New()
	c.held[key] = memoryHold{token: token, expires: now.Add(lease)}
	return &memoryLease{client: c, key: key, token: token}, nil
}

func (c *MemoryClient) Inspect(_ context.Context, key string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return Info{}, fmt.Errorf("inspect %s: %w", key, errMemoryDown)
	}
	now := c.now()
	info := Info{Key: key, RemainingLease: -1, CheckedAt: now.UTC()}
	if h, ok := c.held[key]; ok && now.Before(h.expires) {
		info.Locked = true
		info.HoldCount = 1
		info.RemainingLease = h.expires.Sub(now)
	}
	return info, nil
}

func (c *MemoryClient) ForceRelease(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return false, fmt.Errorf("force release %s: %w", key, errMemoryDown)
	}
	h, ok := c.held[key]
	delete(c.held, key)
	return ok && c.now().Before(h.expires), nil
}

type memoryLease struct {
	client *MemoryClient
	key    string
	token  uuid.UUID
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(context.Context) error {
	l.client.mu.Lock()
	defer l.client.mu.Unlock()
	h, ok := l.client.held[l.key]
	if !ok || h.token != l.token {
		return fmt.Errorf("release %s: lease lost", l.key)
	}
	delete(l.client.held, l.key)
	return nil
}
