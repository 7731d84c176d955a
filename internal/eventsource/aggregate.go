package eventsource

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/point"
)

// Aggregate is a member's point state rebuilt from the event log.
type Aggregate struct {
	MemberID uuid.UUID
	Version  int64

	ledgers map[uuid.UUID]point.Ledger
	entries []point.Entry
}

// NewAggregate returns the empty state of a member with no events.
func NewAggregate(memberID uuid.UUID) *Aggregate {
	return &Aggregate{MemberID: memberID, ledgers: make(map[uuid.UUID]point.Ledger)}
}

// Apply folds one committed event into the state. Events must arrive in
// version order without gaps. A failing event leaves the state untouched.
func (a *Aggregate) Apply(ev Event) error {
	if ev.MemberID != a.MemberID {
		return fmt.Errorf("apply event v%d: member %s does not own aggregate %s", ev.Version, ev.MemberID, a.MemberID)
	}
	if ev.Version != a.Version+1 {
		return fmt.Errorf("apply event: version %d follows %d", ev.Version, a.Version)
	}

	staged := make(map[uuid.UUID]point.Ledger, len(ev.Payload.Created)+len(ev.Payload.Entries))
	lookup := func(id uuid.UUID) (point.Ledger, bool) {
		if l, ok := staged[id]; ok {
			return l, true
		}
		l, ok := a.ledgers[id]
		return l, ok
	}

	for _, rec := range ev.Payload.Created {
		if _, exists := lookup(rec.ID); exists {
			return fmt.Errorf("apply event v%d: ledger %s already exists", ev.Version, rec.ID)
		}
		l, err := rec.ledger(a.MemberID)
		if err != nil {
			return fmt.Errorf("apply event v%d: %w", ev.Version, err)
		}
		staged[l.ID] = l
	}

	entries := make([]point.Entry, 0, len(ev.Payload.Entries))
	for _, rec := range ev.Payload.Entries {
		e, err := rec.entry()
		if err != nil {
			return fmt.Errorf("apply event v%d: %w", ev.Version, err)
		}
		l, ok := lookup(e.LedgerID)
		if !ok {
			return fmt.Errorf("apply event v%d: %w: %s", ev.Version, point.ErrLedgerNotFound, e.LedgerID)
		}
		updated, err := point.ApplyEntry(l, e)
		if err != nil {
			return fmt.Errorf("apply event v%d: %w", ev.Version, err)
		}
		staged[l.ID] = updated
		entries = append(entries, e)
	}

	for id, l := range staged {
		a.ledgers[id] = l
	}
	a.entries = append(a.entries, entries...)
	a.Version = ev.Version
	return nil
}

// Ledger returns one lot of the member.
func (a *Aggregate) Ledger(id uuid.UUID) (point.Ledger, bool) {
	l, ok := a.ledgers[id]
	return l, ok
}

// Ledgers returns every lot, oldest first.
func (a *Aggregate) Ledgers() []point.Ledger {
	out := make([]point.Ledger, 0, len(a.ledgers))
	for _, l := range a.ledgers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Available returns the drawable lots at now in consumption order.
func (a *Aggregate) Available(now time.Time) []point.Ledger {
	var out []point.Ledger
	for _, l := range a.ledgers {
		if l.IsAvailable(now) {
			out = append(out, l)
		}
	}
	point.SortForConsumption(out)
	return out
}

// Balance sums the drawable lots at now.
func (a *Aggregate) Balance(now time.Time) (point.Amount, error) {
	return point.AvailableBalance(a.Available(now), now)
}

// EntriesOf returns the movements of one lot in log order.
func (a *Aggregate) EntriesOf(ledgerID uuid.UUID) []point.Entry {
	var out []point.Entry
	for _, e := range a.entries {
		if e.LedgerID == ledgerID {
			out = append(out, e)
		}
	}
	return out
}

// Order returns the entries of orderID and every lot they touched.
func (a *Aggregate) Order(orderID string) ([]point.Ledger, []point.Entry) {
	var (
		ledgers []point.Ledger
		entries []point.Entry
		seen    = make(map[uuid.UUID]struct{})
	)
	for _, e := range a.entries {
		if e.OrderID != orderID {
			continue
		}
		entries = append(entries, e)
		if _, ok := seen[e.LedgerID]; ok {
			continue
		}
		seen[e.LedgerID] = struct{}{}
		ledgers = append(ledgers, a.ledgers[e.LedgerID])
	}
	return ledgers, entries
}

// Snapshot captures the state at the current version.
func (a *Aggregate) Snapshot(at time.Time) Snapshot {
	entries := make([]point.Entry, len(a.entries))
	copy(entries, a.entries)
	return Snapshot{
		MemberID: a.MemberID,
		Version:  a.Version,
		Ledgers:  a.Ledgers(),
		Entries:  entries,
		TakenAt:  at,
	}
}

// FromSnapshot restores an aggregate at the snapshot's version.
func FromSnapshot(s Snapshot) *Aggregate {
	a := NewAggregate(s.MemberID)
	a.Version = s.Version
	for _, l := range s.Ledgers {
		a.ledgers[l.ID] = l
	}
	a.entries = append(a.entries, s.Entries...)
	return a
}
