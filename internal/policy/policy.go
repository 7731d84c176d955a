package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/congo-pay/pointledger/internal/point"
)

// Keys of the point_policy table.
const (
	KeyEarnMinAmount         = "EARN_MIN_AMOUNT"
	KeyEarnMaxAmount         = "EARN_MAX_AMOUNT"
	KeyBalanceMaxAmount      = "BALANCE_MAX_AMOUNT"
	KeyExpirationDefaultDays = "EXPIRATION_DEFAULT_DAYS"
	KeyExpirationMinDays     = "EXPIRATION_MIN_DAYS"
	KeyExpirationMaxDays     = "EXPIRATION_MAX_DAYS"
)

// Policies is the full set the point service reads.
type Policies struct {
	Earn       point.EarnPolicy       `json:"earn"`
	Expiration point.ExpirationPolicy `json:"expiration"`
}

// Defaults returns the built-in policies.
func Defaults() Policies {
	return Policies{Earn: point.DefaultEarnPolicy(), Expiration: point.DefaultExpirationPolicy()}
}

// Validate checks both policies.
func (p Policies) Validate() error {
	if err := p.Earn.Validate(); err != nil {
		return err
	}
	return p.Expiration.Validate()
}

// Loader reads policies from their backing store.
type Loader interface {
	Load(ctx context.Context) (Policies, error)
}

// FromValues overlays key/value rows on the defaults. Unknown keys are
// rejected so a typo cannot silently fall back to a default.
func FromValues(values map[string]int64) (Policies, error) {
	p := Defaults()
	for key, v := range values {
		var err error
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case KeyEarnMinAmount:
			p.Earn.MinAmount, err = point.NewAmount(v)
		case KeyEarnMaxAmount:
			p.Earn.MaxAmount, err = point.NewAmount(v)
		case KeyBalanceMaxAmount:
			p.Earn.MaxBalance, err = point.NewAmount(v)
		case KeyExpirationDefaultDays:
			p.Earn.DefaultExpirationDays = int(v)
			p.Expiration.DefaultDays = int(v)
		case KeyExpirationMinDays:
			p.Earn.MinExpirationDays = int(v)
		case KeyExpirationMaxDays:
			p.Earn.MaxExpirationDays = int(v)
		default:
			return Policies{}, fmt.Errorf("unknown policy key %q", key)
		}
		if err != nil {
			return Policies{}, fmt.Errorf("policy %s: %w", key, err)
		}
	}
	if err := p.Validate(); err != nil {
		return Policies{}, err
	}
	return p, nil
}

// Static always returns the same policies.
type Static Policies

func (s Static) Load(context.Context) (Policies, error) { return Policies(s), nil }

func (p Policies) values() map[string]int64 {
	return map[string]int64{
		KeyEarnMinAmount:         p.Earn.MinAmount.Int64(),
		KeyEarnMaxAmount:         p.Earn.MaxAmount.Int64(),
		KeyBalanceMaxAmount:      p.Earn.MaxBalance.Int64(),
		KeyExpirationDefaultDays: int64(p.Expiration.DefaultDays),
		KeyExpirationMinDays:     int64(p.Earn.MinExpirationDays),
		KeyExpirationMaxDays:     int64(p.Earn.MaxExpirationDays),
	}
}
