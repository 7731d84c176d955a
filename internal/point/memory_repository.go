package point

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a concurrency-safe in-memory Repository for tests and
// local development.
type MemoryRepository struct {
	mu      sync.RWMutex
	ledgers map[uuid.UUID]Ledger
	entries []Entry
	entryID map[uuid.UUID]struct{}
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		ledgers: make(map[uuid.UUID]Ledger),
		entryID: make(map[uuid.UUID]struct{}),
	}
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[id]
	if !ok {
		return Ledger{}, fmt.Errorf("%w: %s", ErrLedgerNotFound, id)
	}
	return l, nil
}

func (r *MemoryRepository) FindByIDs(_ context.Context, ids []uuid.UUID) ([]Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ledger, 0, len(ids))
	for _, id := range ids {
		if l, ok := r.ledgers[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindAvailable(_ context.Context, memberID uuid.UUID, now time.Time) ([]Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ledger
	for _, l := range r.ledgers {
		if l.MemberID == memberID && l.IsAvailable(now) {
			out = append(out, l)
		}
	}
	SortForConsumption(out)
	return out, nil
}

func (r *MemoryRepository) FindByMember(_ context.Context, memberID uuid.UUID) ([]Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ledger
	for _, l := range r.ledgers {
		if l.MemberID == memberID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (r *MemoryRepository) FindByLedgerID(ctx context.Context, ledgerID uuid.UUID) ([]Entry, error) {
	return r.FindByLedgerIDs(ctx, []uuid.UUID{ledgerID})
}

func (r *MemoryRepository) FindByLedgerIDs(_ context.Context, ledgerIDs []uuid.UUID) ([]Entry, error) {
	want := make(map[uuid.UUID]struct{}, len(ledgerIDs))
	for _, id := range ledgerIDs {
		want[id] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if _, ok := want[e.LedgerID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindByOrderID(_ context.Context, memberID uuid.UUID, orderID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.OrderID == orderID && r.ledgers[e.LedgerID].MemberID == memberID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindLedgerIDsByOrderID(_ context.Context, memberID uuid.UUID, orderID string) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, e := range r.entries {
		if e.OrderID != orderID || r.ledgers[e.LedgerID].MemberID != memberID {
			continue
		}
		if _, ok := seen[e.LedgerID]; ok {
			continue
		}
		seen[e.LedgerID] = struct{}{}
		out = append(out, e.LedgerID)
	}
	return out, nil
}

// Save applies cs atomically. Canceled ledgers reject further updates, the
// same guard the Postgres adapter enforces in its upsert.
func (r *MemoryRepository) Save(_ context.Context, cs Changeset) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range cs.Ledgers {
		if stored, ok := r.ledgers[l.ID]; ok && stored.Canceled {
			return fmt.Errorf("%w: %s", ErrLedgerAlreadyCanceled, l.ID)
		}
	}
	for _, e := range cs.Entries {
		if _, dup := r.entryID[e.ID]; dup {
			return fmt.Errorf("duplicate entry %s", e.ID)
		}
		if _, ok := r.ledgers[e.LedgerID]; ok {
			continue
		}
		if !containsLedger(cs.Ledgers, e.LedgerID) {
			return fmt.Errorf("%w: entry %s references %s", ErrLedgerNotFound, e.ID, e.LedgerID)
		}
	}

	for _, l := range cs.Ledgers {
		r.ledgers[l.ID] = l
	}
	for _, e := range cs.Entries {
		r.entries = append(r.entries, e)
		r.entryID[e.ID] = struct{}{}
	}
	return nil
}

// All returns copies of every stored ledger and entry.
func (r *MemoryRepository) All() ([]Ledger, []Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ledgers := make([]Ledger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		ledgers = append(ledgers, l)
	}
	sort.Slice(ledgers, func(i, j int) bool { return ledgers[i].ID.String() < ledgers[j].ID.String() })
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return ledgers, entries
}

func containsLedger(ledgers []Ledger, id uuid.UUID) bool {
	for _, l := range ledgers {
		if l.ID == id {
			return true
		}
	}
	return false
}
