package point

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryType names a movement against a ledger.
type EntryType string

const (
	EntryEarn       EntryType = "EARN"
	EntryEarnCancel EntryType = "EARN_CANCEL"
	EntryUse        EntryType = "USE"
	EntryUseCancel  EntryType = "USE_CANCEL"
)

// ParseEntryType normalises s into a known EntryType.
func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(strings.ToUpper(strings.TrimSpace(s))); t {
	case EntryEarn, EntryEarnCancel, EntryUse, EntryUseCancel:
		return t, nil
	default:
		return "", fmt.Errorf("unknown entry type %q", s)
	}
}

// Credit reports whether entries of this type carry a positive amount.
func (t EntryType) Credit() bool { return t == EntryEarn || t == EntryUseCancel }

// Entry is one immutable movement record. Amount is signed: EARN and
// USE_CANCEL are positive, EARN_CANCEL and USE are negative. Build entries with
// the New*Entry constructors, which fix the sign from the type.
type Entry struct {
	ID        uuid.UUID
	LedgerID  uuid.UUID
	Type      EntryType
	Amount    int64
	OrderID   string
	// Seed marks the USE_CANCEL that minted a recreated ledger.
	Seed      bool
	CreatedAt time.Time
}

// NewEarnEntry records an accrual.
func NewEarnEntry(id, ledgerID uuid.UUID, amount Amount, at time.Time) Entry {
	return Entry{ID: id, LedgerID: ledgerID, Type: EntryEarn, Amount: amount.Int64(), CreatedAt: at}
}

// NewEarnCancelEntry records an accrual cancellation.
func NewEarnCancelEntry(id, ledgerID uuid.UUID, amount Amount, at time.Time) Entry {
	return Entry{ID: id, LedgerID: ledgerID, Type: EntryEarnCancel, Amount: -amount.Int64(), CreatedAt: at}
}

// NewUseEntry records a draw made for orderID.
func NewUseEntry(id, ledgerID uuid.UUID, amount Amount, orderID string, at time.Time) Entry {
	return Entry{ID: id, LedgerID: ledgerID, Type: EntryUse, Amount: -amount.Int64(), OrderID: orderID, CreatedAt: at}
}

// NewUseCancelEntry records the reversal of a draw made for orderID.
func NewUseCancelEntry(id, ledgerID uuid.UUID, amount Amount, orderID string, at time.Time) Entry {
	return Entry{ID: id, LedgerID: ledgerID, Type: EntryUseCancel, Amount: amount.Int64(), OrderID: orderID, CreatedAt: at}
}

// NewSeedEntry records the USE_CANCEL that opens a recreated ledger. It stands
// in for the lot's accrual and does not move its balance.
func NewSeedEntry(id, ledgerID uuid.UUID, amount Amount, orderID string, at time.Time) Entry {
	e := NewUseCancelEntry(id, ledgerID, amount, orderID, at)
	e.Seed = true
	return e
}

// Abs returns the magnitude of the movement.
func (e Entry) Abs() Amount {
	if e.Amount < 0 {
		return Amount{value: -e.Amount}
	}
	return Amount{value: e.Amount}
}

// Validate checks that a stored entry still honours the sign and order-id rules.
func (e Entry) Validate() error {
	if e.Amount < -MaxAmount || e.Amount > MaxAmount {
		return &AmountRangeError{Value: e.Amount}
	}
	if e.Amount == 0 || e.Type.Credit() != (e.Amount > 0) {
		return fmt.Errorf("%w: %s %d", ErrInvalidEntry, e.Type, e.Amount)
	}
	hasOrder := e.OrderID != ""
	needsOrder := e.Type == EntryUse || e.Type == EntryUseCancel
	if hasOrder != needsOrder {
		return fmt.Errorf("%w: %s with order id %q", ErrInvalidEntry, e.Type, e.OrderID)
	}
	if e.Seed && e.Type != EntryUseCancel {
		return fmt.Errorf("%w: seed %s", ErrInvalidEntry, e.Type)
	}
	return nil
}

// IsSeed reports whether e is the seed entry of the recreated ledger l.
func IsSeed(l Ledger, e Entry) bool {
	return e.Seed &&
		e.Type == EntryUseCancel &&
		l.IsRecreated() &&
		e.LedgerID == l.ID
}
