package point

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Changeset is the unit of atomic persistence: new or updated ledgers and the
// entries recording how they changed.
type Changeset struct {
	Ledgers []Ledger
	Entries []Entry
}

// IsEmpty reports whether there is nothing to write.
func (c Changeset) IsEmpty() bool { return len(c.Ledgers) == 0 && len(c.Entries) == 0 }

// Validate checks the sign and order-id rules of every entry.
func (c Changeset) Validate() error {
	for _, e := range c.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LedgerStore reads accrual lots.
type LedgerStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (Ledger, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Ledger, error)
	// FindAvailable returns the member's available lots at now in consumption order.
	FindAvailable(ctx context.Context, memberID uuid.UUID, now time.Time) ([]Ledger, error)
	FindByMember(ctx context.Context, memberID uuid.UUID) ([]Ledger, error)
}

// EntryStore reads movement records.
type EntryStore interface {
	FindByLedgerID(ctx context.Context, ledgerID uuid.UUID) ([]Entry, error)
	FindByLedgerIDs(ctx context.Context, ledgerIDs []uuid.UUID) ([]Entry, error)
	// Order ids are only unique per member; both lookups are member-scoped.
	FindByOrderID(ctx context.Context, memberID uuid.UUID, orderID string) ([]Entry, error)
	FindLedgerIDsByOrderID(ctx context.Context, memberID uuid.UUID, orderID string) ([]uuid.UUID, error)
}

// Repository persists ledgers and entries. Save writes a whole changeset or
// nothing.
type Repository interface {
	LedgerStore
	EntryStore
	Save(ctx context.Context, cs Changeset) error
}
