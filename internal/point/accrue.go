package point

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EarnRequest describes a new accrual lot.
type EarnRequest struct {
	MemberID       uuid.UUID
	Amount         Amount
	EarnType       EarnType
	ExpirationDays int
}

// Accrue validates req against policy and the member's current balance and
// returns the new lot with its EARN entry.
func Accrue(req EarnRequest, policy EarnPolicy, balance Amount, ids IDGenerator, now time.Time) (Changeset, error) {
	if req.MemberID == uuid.Nil {
		return Changeset{}, ErrInvalidMemberID
	}
	if req.Amount.IsZero() {
		return Changeset{}, fmt.Errorf("%w: earn amount must be positive", ErrInvalidAmount)
	}
	if req.EarnType != EarnTypeManual && req.EarnType != EarnTypeSystem {
		return Changeset{}, fmt.Errorf("%w: %q cannot be earned directly", ErrInvalidEarnType, req.EarnType)
	}
	if req.Amount.Less(policy.MinAmount) || req.Amount.Greater(policy.MaxAmount) {
		return Changeset{}, fmt.Errorf("%w: %s not in [%s, %s]", ErrEarnAmountOutOfRule, req.Amount, policy.MinAmount, policy.MaxAmount)
	}

	days := req.ExpirationDays
	if days == 0 {
		days = policy.DefaultExpirationDays
	}
	if days < policy.MinExpirationDays || days > policy.MaxExpirationDays {
		return Changeset{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidExpiration, days, policy.MinExpirationDays, policy.MaxExpirationDays)
	}

	next, err := balance.Add(req.Amount)
	if err != nil || next.Greater(policy.MaxBalance) {
		return Changeset{}, &MaxBalanceError{Current: balance, Earn: req.Amount, Max: policy.MaxBalance}
	}

	ledger := Ledger{
		ID:              ids.NewID(),
		MemberID:        req.MemberID,
		EarnedAmount:    req.Amount,
		AvailableAmount: req.Amount,
		UsedAmount:      Zero,
		EarnType:        req.EarnType,
		ExpiredAt:       now.AddDate(0, 0, days),
		EarnedAt:        now,
	}
	entry := NewEarnEntry(ids.NewID(), ledger.ID, req.Amount, now)

	return Changeset{Ledgers: []Ledger{ledger}, Entries: []Entry{entry}}, nil
}
