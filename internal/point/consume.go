package point

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortForConsumption orders ledgers in draw priority: manual lots first, then
// soonest expiry, then oldest accrual. The id breaks any remaining tie so the
// order is total.
func SortForConsumption(ledgers []Ledger) {
	sort.SliceStable(ledgers, func(i, j int) bool {
		a, b := ledgers[i], ledgers[j]
		if a.IsManual() != b.IsManual() {
			return a.IsManual()
		}
		if !a.ExpiredAt.Equal(b.ExpiredAt) {
			return a.ExpiredAt.Before(b.ExpiredAt)
		}
		if !a.EarnedAt.Equal(b.EarnedAt) {
			return a.EarnedAt.Before(b.EarnedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

// ValidateOrderID rejects blank order identifiers.
func ValidateOrderID(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return ErrInvalidOrderID
	}
	return nil
}

// Consume drains amount from the member's ledgers for orderID. Ledgers that
// are not available at now are ignored. Nothing is produced unless the whole
// amount can be covered; the returned changeset holds only touched ledgers and
// one USE entry per touched ledger.
func Consume(ledgers []Ledger, amount Amount, orderID string, ids IDGenerator, now time.Time) (Changeset, error) {
	if err := ValidateOrderID(orderID); err != nil {
		return Changeset{}, err
	}
	if amount.IsZero() {
		return Changeset{}, fmt.Errorf("%w: use amount must be positive", ErrInvalidAmount)
	}

	candidates := make([]Ledger, 0, len(ledgers))
	for _, l := range ledgers {
		if l.IsAvailable(now) {
			candidates = append(candidates, l)
		}
	}

	available, err := AvailableBalance(candidates, now)
	if err != nil {
		return Changeset{}, err
	}
	if available.Less(amount) {
		return Changeset{}, &InsufficientBalanceError{Requested: amount, Available: available}
	}

	SortForConsumption(candidates)

	var cs Changeset
	remaining := amount
	for _, l := range candidates {
		if remaining.IsZero() {
			break
		}
		take := remaining.Min(l.AvailableAmount)
		updated, err := l.use(take)
		if err != nil {
			return Changeset{}, err
		}
		if remaining, err = remaining.Sub(take); err != nil {
			return Changeset{}, err
		}
		cs.Ledgers = append(cs.Ledgers, updated)
		cs.Entries = append(cs.Entries, NewUseEntry(ids.NewID(), l.ID, take, orderID, now))
	}

	return cs, nil
}
