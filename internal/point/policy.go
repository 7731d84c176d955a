package point

import (
	"context"
	"fmt"
	"time"
)

// EarnPolicy bounds accruals.
type EarnPolicy struct {
	MinAmount             Amount
	MaxAmount             Amount
	MaxBalance            Amount
	DefaultExpirationDays int
	MinExpirationDays     int
	MaxExpirationDays     int
}

// ExpirationPolicy governs lots minted by usage cancellation.
type ExpirationPolicy struct {
	DefaultDays int
}

// DefaultEarnPolicy mirrors the values seeded into point_policy.
func DefaultEarnPolicy() EarnPolicy {
	return EarnPolicy{
		MinAmount:             MustAmount(1),
		MaxAmount:             MustAmount(100_000),
		MaxBalance:            MustAmount(10_000_000),
		DefaultExpirationDays: 365,
		MinExpirationDays:     1,
		MaxExpirationDays:     1824,
	}
}

// DefaultExpirationPolicy returns the fallback for recreated lots.
func DefaultExpirationPolicy() ExpirationPolicy {
	return ExpirationPolicy{DefaultDays: 365}
}

// Validate checks that the policy is internally coherent.
func (p EarnPolicy) Validate() error {
	if p.MinAmount.IsZero() || p.MaxAmount.Less(p.MinAmount) {
		return fmt.Errorf("earn policy: amount range [%s, %s] invalid", p.MinAmount, p.MaxAmount)
	}
	if p.MinExpirationDays < 1 || p.MaxExpirationDays < p.MinExpirationDays {
		return fmt.Errorf("earn policy: expiration range [%d, %d] invalid", p.MinExpirationDays, p.MaxExpirationDays)
	}
	if p.DefaultExpirationDays < p.MinExpirationDays || p.DefaultExpirationDays > p.MaxExpirationDays {
		return fmt.Errorf("earn policy: default expiration %d outside [%d, %d]", p.DefaultExpirationDays, p.MinExpirationDays, p.MaxExpirationDays)
	}
	return nil
}

// Validate checks the recreate expiry.
func (p ExpirationPolicy) Validate() error {
	if p.DefaultDays < 1 {
		return fmt.Errorf("expiration policy: default days %d invalid", p.DefaultDays)
	}
	return nil
}

// ExpiresAt returns the expiry of a lot minted at now.
func (p ExpirationPolicy) ExpiresAt(now time.Time) time.Time {
	return now.AddDate(0, 0, p.DefaultDays)
}

// PolicySource supplies the current policies. Implementations usually cache.
type PolicySource interface {
	EarnPolicy(ctx context.Context) (EarnPolicy, error)
	ExpirationPolicy(ctx context.Context) (ExpirationPolicy, error)
}

// StaticPolicy is a PolicySource with fixed values.
type StaticPolicy struct {
	Earn       EarnPolicy
	Expiration ExpirationPolicy
}

// NewStaticPolicy returns the default policies.
func NewStaticPolicy() StaticPolicy {
	return StaticPolicy{Earn: DefaultEarnPolicy(), Expiration: DefaultExpirationPolicy()}
}

func (p StaticPolicy) EarnPolicy(context.Context) (EarnPolicy, error) { return p.Earn, nil }

func (p StaticPolicy) ExpirationPolicy(context.Context) (ExpirationPolicy, error) {
	return p.Expiration, nil
}
