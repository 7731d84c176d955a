package point

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CancelAccrual voids an untouched lot. A lot that has ever been drawn from
// stays non-cancelable even after its usage was restored, so entries must hold
// the lot's full movement history.
func CancelAccrual(l Ledger, entries []Entry, ids IDGenerator, now time.Time) (Changeset, error) {
	if l.Canceled {
		return Changeset{}, fmt.Errorf("%w: %s", ErrLedgerAlreadyCanceled, l.ID)
	}
	if l.EarnedAmount != l.AvailableAmount {
		return Changeset{}, fmt.Errorf("%w: %s", ErrLedgerAlreadyUsed, l.ID)
	}
	for _, e := range entries {
		if e.LedgerID == l.ID && e.Type == EntryUse {
			return Changeset{}, fmt.Errorf("%w: %s", ErrLedgerAlreadyUsed, l.ID)
		}
	}

	canceled := l.cancel()
	entry := NewEarnCancelEntry(ids.NewID(), l.ID, l.EarnedAmount, now)
	return Changeset{Ledgers: []Ledger{canceled}, Entries: []Entry{entry}}, nil
}

// CancelOrder picks which ledgers a usage cancellation reinstates first.
type CancelOrder string

const (
	// CancelOrderConsumption walks ledgers in draw priority, so the lot drained
	// first is reinstated first.
	CancelOrderConsumption CancelOrder = "consumption"
	// CancelOrderLongestExpiry reinstates the lot with the latest expiry first.
	CancelOrderLongestExpiry CancelOrder = "longest_expiry"
)

// ParseCancelOrder normalises s. An empty string selects CancelOrderConsumption.
func ParseCancelOrder(s string) (CancelOrder, error) {
	switch o := CancelOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return CancelOrderConsumption, nil
	case CancelOrderConsumption, CancelOrderLongestExpiry:
		return o, nil
	default:
		return "", fmt.Errorf("unknown cancel order %q", s)
	}
}

func (o CancelOrder) sort(ledgers []Ledger) {
	if o != CancelOrderLongestExpiry {
		SortForConsumption(ledgers)
		return
	}
	sort.SliceStable(ledgers, func(i, j int) bool {
		a, b := ledgers[i], ledgers[j]
		if !a.ExpiredAt.Equal(b.ExpiredAt) {
			return a.ExpiredAt.After(b.ExpiredAt)
		}
		if !a.EarnedAt.Equal(b.EarnedAt) {
			return a.EarnedAt.After(b.EarnedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

// CancelableAmount is |sum(USE)| - sum(USE_CANCEL) over the entries of orderID.
func CancelableAmount(orderID string, entries []Entry) Amount {
	var used, canceled int64
	for _, e := range entries {
		if e.OrderID != orderID {
			continue
		}
		switch e.Type {
		case EntryUse:
			used += e.Abs().Int64()
		case EntryUseCancel:
			canceled += e.Abs().Int64()
		}
	}
	if canceled >= used {
		return Zero
	}
	return Amount{value: used - canceled}
}

// OutstandingByLedger returns, per originally drawn ledger, how much of
// orderID's usage has not yet been canceled. A seed entry on a recreated lot
// counts against the lot it replaced.
func OutstandingByLedger(orderID string, ledgers []Ledger, entries []Entry) map[uuid.UUID]Amount {
	byID := make(map[uuid.UUID]Ledger, len(ledgers))
	for _, l := range ledgers {
		byID[l.ID] = l
	}

	balance := make(map[uuid.UUID]int64)
	for _, e := range entries {
		if e.OrderID != orderID {
			continue
		}
		switch e.Type {
		case EntryUse:
			balance[e.LedgerID] += e.Abs().Int64()
		case EntryUseCancel:
			target := e.LedgerID
			if l, ok := byID[e.LedgerID]; ok && IsSeed(l, e) {
				target = l.SourceLedgerID.UUID
			}
			balance[target] -= e.Abs().Int64()
		}
	}

	out := make(map[uuid.UUID]Amount, len(balance))
	for id, v := range balance {
		if v > 0 {
			out[id] = Amount{value: v}
		}
	}
	return out
}

// UsageCancelRequest carries everything needed to reverse part of an order.
// Ledgers must contain every ledger that holds an entry of the order; Entries
// must contain every entry of the order.
type UsageCancelRequest struct {
	OrderID    string
	Amount     Amount
	Ledgers    []Ledger
	Entries    []Entry
	Expiration ExpirationPolicy
	Order      CancelOrder
}

// UsageCancelResult describes a usage cancellation.
type UsageCancelResult struct {
	Changeset
	Restored  []Ledger
	Recreated []Ledger
}

// CancelUsage reverses req.Amount of order req.OrderID. Portions drawn from a
// lot that is still live are restored in place; portions drawn from a lot that
// has since expired are minted as a new lot pointing back at the original.
func CancelUsage(req UsageCancelRequest, ids IDGenerator, now time.Time) (UsageCancelResult, error) {
	if err := ValidateOrderID(req.OrderID); err != nil {
		return UsageCancelResult{}, err
	}
	if req.Amount.IsZero() {
		return UsageCancelResult{}, fmt.Errorf("%w: cancel amount must be positive", ErrInvalidAmount)
	}

	hasUse := false
	for _, e := range req.Entries {
		if e.OrderID == req.OrderID && e.Type == EntryUse {
			hasUse = true
			break
		}
	}
	if !hasUse {
		return UsageCancelResult{}, fmt.Errorf("%w: %q", ErrOrderNotFound, req.OrderID)
	}

	cancelable := CancelableAmount(req.OrderID, req.Entries)
	if cancelable.IsZero() || req.Amount.Greater(cancelable) {
		return UsageCancelResult{}, &CancelAmountExceededError{OrderID: req.OrderID, Requested: req.Amount, Cancelable: cancelable}
	}

	outstanding := OutstandingByLedger(req.OrderID, req.Ledgers, req.Entries)
	candidates := make([]Ledger, 0, len(outstanding))
	for _, l := range req.Ledgers {
		if _, ok := outstanding[l.ID]; ok {
			candidates = append(candidates, l)
		}
	}
	req.Order.sort(candidates)

	var res UsageCancelResult
	remaining := req.Amount
	for _, l := range candidates {
		if remaining.IsZero() {
			break
		}
		portion := remaining.Min(outstanding[l.ID])

		if !l.Canceled && !l.IsExpired(now) {
			restored, err := l.restore(portion)
			if err != nil {
				return UsageCancelResult{}, err
			}
			res.Ledgers = append(res.Ledgers, restored)
			res.Entries = append(res.Entries, NewUseCancelEntry(ids.NewID(), l.ID, portion, req.OrderID, now))
			res.Restored = append(res.Restored, restored)
		} else {
			minted := Ledger{
				ID:              ids.NewID(),
				MemberID:        l.MemberID,
				EarnedAmount:    portion,
				AvailableAmount: portion,
				UsedAmount:      Zero,
				EarnType:        l.EarnType,
				SourceLedgerID:  uuid.NullUUID{UUID: l.ID, Valid: true},
				ExpiredAt:       req.Expiration.ExpiresAt(now),
				EarnedAt:        now,
			}
			res.Ledgers = append(res.Ledgers, minted)
			res.Entries = append(res.Entries, NewSeedEntry(ids.NewID(), minted.ID, portion, req.OrderID, now))
			res.Recreated = append(res.Recreated, minted)
		}

		var err error
		if remaining, err = remaining.Sub(portion); err != nil {
			return UsageCancelResult{}, err
		}
	}

	if !remaining.IsZero() {
		// outstanding and cancelable are computed from the same entries, so
		// this only happens when req.Ledgers is missing a participant.
		return UsageCancelResult{}, fmt.Errorf("cancel usage %q: %s left unallocated, ledger set incomplete", req.OrderID, remaining)
	}

	return res, nil
}
