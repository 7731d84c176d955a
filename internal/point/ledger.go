package point

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EarnType classifies how an accrual lot came to exist.
type EarnType string

const (
	// EarnTypeManual lots are granted by an operator and always drained first.
	EarnTypeManual EarnType = "MANUAL"
	// EarnTypeSystem lots are granted automatically (purchases, promotions).
	EarnTypeSystem EarnType = "SYSTEM"
	// EarnTypeUseCancel marks lots minted by a usage cancellation.
	EarnTypeUseCancel EarnType = "USE_CANCEL"
)

// ParseEarnType normalises s into a known EarnType.
func ParseEarnType(s string) (EarnType, error) {
	switch t := EarnType(strings.ToUpper(strings.TrimSpace(s))); t {
	case EarnTypeManual, EarnTypeSystem, EarnTypeUseCancel:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEarnType, s)
	}
}

// Ledger is one accrual lot. Values are immutable: every mutation returns a
// new Ledger and leaves the receiver untouched.
type Ledger struct {
	ID              uuid.UUID
	MemberID        uuid.UUID
	EarnedAmount    Amount
	AvailableAmount Amount
	UsedAmount      Amount
	EarnType        EarnType
	SourceLedgerID  uuid.NullUUID
	ExpiredAt       time.Time
	Canceled        bool
	EarnedAt        time.Time
}

// IsManual reports whether the lot was granted by an operator.
func (l Ledger) IsManual() bool { return l.EarnType == EarnTypeManual }

// IsExpired reports whether now is at or past the lot's expiry.
func (l Ledger) IsExpired(now time.Time) bool { return !now.Before(l.ExpiredAt) }

// IsAvailable reports whether the lot can be drawn from at now.
func (l Ledger) IsAvailable(now time.Time) bool {
	return !l.Canceled && !l.IsExpired(now) && !l.AvailableAmount.IsZero()
}

// IsRecreated reports whether the lot was minted to replace expired capacity.
func (l Ledger) IsRecreated() bool { return l.SourceLedgerID.Valid }

// use draws a from the lot.
func (l Ledger) use(a Amount) (Ledger, error) {
	available, err := l.AvailableAmount.Sub(a)
	if err != nil {
		return Ledger{}, fmt.Errorf("use ledger %s: %w", l.ID, err)
	}
	used, err := l.UsedAmount.Add(a)
	if err != nil {
		return Ledger{}, fmt.Errorf("use ledger %s: %w", l.ID, err)
	}
	l.AvailableAmount = available
	l.UsedAmount = used
	return l, nil
}

// restore puts a previously used portion back into the lot.
func (l Ledger) restore(a Amount) (Ledger, error) {
	used, err := l.UsedAmount.Sub(a)
	if err != nil {
		return Ledger{}, fmt.Errorf("restore ledger %s: %w", l.ID, err)
	}
	available, err := l.AvailableAmount.Add(a)
	if err != nil {
		return Ledger{}, fmt.Errorf("restore ledger %s: %w", l.ID, err)
	}
	l.AvailableAmount = available
	l.UsedAmount = used
	return l, nil
}

// cancel freezes the lot. EarnedAmount keeps its pre-cancel value.
func (l Ledger) cancel() Ledger {
	l.Canceled = true
	l.AvailableAmount = Zero
	return l
}

// AvailableBalance sums what can still be drawn from ledgers at now.
func AvailableBalance(ledgers []Ledger, now time.Time) (Amount, error) {
	total := Zero
	for _, l := range ledgers {
		if !l.IsAvailable(now) {
			continue
		}
		var err error
		if total, err = total.Add(l.AvailableAmount); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

// ApplyEntry folds e onto l and returns the updated lot. EARN entries and
// seeds are part of the lot's creation and leave it unchanged.
func ApplyEntry(l Ledger, e Entry) (Ledger, error) {
	if e.LedgerID != l.ID {
		return Ledger{}, fmt.Errorf("%w: entry %s does not belong to ledger %s", ErrInvalidEntry, e.ID, l.ID)
	}
	switch e.Type {
	case EntryEarn:
		return l, nil
	case EntryEarnCancel:
		if l.Canceled {
			return Ledger{}, fmt.Errorf("%w: %s", ErrLedgerAlreadyCanceled, l.ID)
		}
		return l.cancel(), nil
	case EntryUse:
		return l.use(e.Abs())
	case EntryUseCancel:
		if IsSeed(l, e) {
			return l, nil
		}
		return l.restore(e.Abs())
	default:
		return Ledger{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
}
