package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/logging"
)

const releaseTimeout = 2 * time.Second

// Options tunes acquisition and monitoring.
type Options struct {
	// Wait bounds one acquisition attempt.
	Wait time.Duration
	// Lease is the auto-expiry safety net for crashed holders. It must exceed
	// the longest expected critical section.
	Lease time.Duration
	// RetryDelays[i] is slept before attempt i+1; the last value repeats.
	RetryDelays []time.Duration
	// MaxAttempts defaults to len(RetryDelays).
	MaxAttempts int
	// HoldWarnThreshold triggers a warning, never a failure.
	HoldWarnThreshold time.Duration
}

// DefaultOptions returns the production lock settings.
func DefaultOptions() Options {
	return Options{
		Wait:              3 * time.Second,
		Lease:             5 * time.Minute,
		RetryDelays:       []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond, time.Second},
		MaxAttempts:       4,
		HoldWarnThreshold: 3 * time.Second,
	}
}

// Controller wraps operations in a named lock with retry, backoff and
// hold-time monitoring.
type Controller struct {
	client  Client
	opts    Options
	metrics *Metrics
	logger  *slog.Logger
}

// NewController builds a controller. Zero option fields take their defaults.
func NewController(client Client, opts Options, metrics *Metrics, logger *slog.Logger) *Controller {
	def := DefaultOptions()
	if opts.Wait <= 0 {
		opts.Wait = def.Wait
	}
	if opts.Lease <= 0 {
		opts.Lease = def.Lease
	}
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = def.RetryDelays
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = len(opts.RetryDelays)
	}
	if opts.HoldWarnThreshold <= 0 {
		opts.HoldWarnThreshold = def.HoldWarnThreshold
	}
	return &Controller{client: client, opts: opts, metrics: metrics, logger: logger}
}

// WithMemberLock runs fn while holding the member's lock.
func (c *Controller) WithMemberLock(ctx context.Context, memberID uuid.UUID, fn func(ctx context.Context) error) error {
	return c.Run(ctx, MemberKey(memberID), fn)
}

// Run acquires key, runs fn and releases key whatever fn returns. fn never
// runs without the lock.
func (c *Controller) Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	started := time.Now()
	lease, err := c.acquire(ctx, key)
	c.metrics.observeAcquire(time.Since(started))
	if err != nil {
		return err
	}

	heldSince := time.Now()
	defer func() {
		held := time.Since(heldSince)
		c.metrics.observeHold(held)
		if held > c.opts.HoldWarnThreshold {
			c.metrics.exceeded()
			logging.With(ctx, c.logger).Warn("lock hold time exceeded threshold",
				"key", key,
				"hold_ms", held.Milliseconds(),
				"threshold_ms", c.opts.HoldWarnThreshold.Milliseconds(),
			)
		}

		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logging.With(ctx, c.logger).Warn("lock release failed", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}

func (c *Controller) acquire(ctx context.Context, key string) (Lease, error) {
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.delay(attempt)
			c.metrics.retried()
			c.logger.Info("retrying lock acquisition", "key", key, "attempt", attempt+1, "delay_ms", delay.Milliseconds())
			if err := sleep(ctx, delay); err != nil {
				c.metrics.failed()
				return nil, fmt.Errorf("%w: %s: %w", ErrAcquisitionFailed, key, err)
			}
		}

		lease, err := c.client.Acquire(ctx, key, c.opts.Wait, c.opts.Lease)
		if err == nil {
			c.metrics.acquired()
			c.logger.Debug("lock acquired", "key", key, "attempt", attempt+1)
			return lease, nil
		}
		if errors.Is(err, ErrNotObtained) {
			if ctx.Err() != nil {
				c.metrics.failed()
				return nil, fmt.Errorf("%w: %s: %w", ErrAcquisitionFailed, key, ctx.Err())
			}
			continue
		}

		c.metrics.failed()
		logging.With(ctx, c.logger).Error("lock service unreachable", "key", key, "error", err)
		return nil, &UnavailableError{Key: key, Err: err}
	}

	c.metrics.failed()
	c.logger.Error("lock acquisition exhausted retries", "key", key, "attempts", c.opts.MaxAttempts)
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrAcquisitionFailed, key, c.opts.MaxAttempts)
}

func (c *Controller) delay(attempt int) time.Duration {
	if attempt < len(c.opts.RetryDelays) {
		return c.opts.RetryDelays[attempt]
	}
	return c.opts.RetryDelays[len(c.opts.RetryDelays)-1]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
