package eventsource

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/point"
)

// Type names a domain event in the log.
type Type string

const (
	TypeEarned       Type = "PointEarned"
	TypeEarnCanceled Type = "PointEarnCanceled"
	TypeUsed         Type = "PointUsed"
	TypeUseCanceled  Type = "PointUseCanceled"
)

// ParseType validates a stored event type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeEarned, TypeEarnCanceled, TypeUsed, TypeUseCanceled:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// Event is one entry of a member's log. Version is assigned by the store and
// starts at 1.
type Event struct {
	MemberID   uuid.UUID
	Version    int64
	Type       Type
	Payload    Payload
	OccurredAt time.Time
}

// Payload carries the lots an event created and the movements it recorded.
// Replaying the entries over the created lots reproduces the state the
// command computed.
type Payload struct {
	OrderID string         `json:"order_id,omitempty"`
	Created []LedgerRecord `json:"created,omitempty"`
	Entries []EntryRecord  `json:"entries"`
}

// LedgerRecord is a lot as it was at creation.
type LedgerRecord struct {
	ID             uuid.UUID  `json:"id"`
	EarnedAmount   int64      `json:"earned_amount"`
	EarnType       string     `json:"earn_type"`
	SourceLedgerID *uuid.UUID `json:"source_ledger_id,omitempty"`
	ExpiredAt      time.Time  `json:"expired_at"`
	EarnedAt       time.Time  `json:"earned_at"`
}

// EntryRecord is the serialised form of a point.Entry.
type EntryRecord struct {
	ID        uuid.UUID `json:"id"`
	LedgerID  uuid.UUID `json:"ledger_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	OrderID   string    `json:"order_id,omitempty"`
	Seed      bool      `json:"seed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newLedgerRecord(l point.Ledger) LedgerRecord {
	r := LedgerRecord{
		ID:           l.ID,
		EarnedAmount: l.EarnedAmount.Int64(),
		EarnType:     string(l.EarnType),
		ExpiredAt:    l.ExpiredAt,
		EarnedAt:     l.EarnedAt,
	}
	if l.SourceLedgerID.Valid {
		src := l.SourceLedgerID.UUID
		r.SourceLedgerID = &src
	}
	return r
}

func (r LedgerRecord) ledger(memberID uuid.UUID) (point.Ledger, error) {
	earned, err := point.NewAmount(r.EarnedAmount)
	if err != nil {
		return point.Ledger{}, fmt.Errorf("ledger %s: %w", r.ID, err)
	}
	earnType, err := point.ParseEarnType(r.EarnType)
	if err != nil {
		return point.Ledger{}, fmt.Errorf("ledger %s: %w", r.ID, err)
	}
	l := point.Ledger{
		ID:              r.ID,
		MemberID:        memberID,
		EarnedAmount:    earned,
		AvailableAmount: earned,
		UsedAmount:      point.Zero,
		EarnType:        earnType,
		ExpiredAt:       r.ExpiredAt.UTC(),
		EarnedAt:        r.EarnedAt.UTC(),
	}
	if r.SourceLedgerID != nil {
		l.SourceLedgerID = uuid.NullUUID{UUID: *r.SourceLedgerID, Valid: true}
	}
	return l, nil
}

func newEntryRecord(e point.Entry) EntryRecord {
	return EntryRecord{
		ID:        e.ID,
		LedgerID:  e.LedgerID,
		Type:      string(e.Type),
		Amount:    e.Amount,
		OrderID:   e.OrderID,
		Seed:      e.Seed,
		CreatedAt: e.CreatedAt,
	}
}

func (r EntryRecord) entry() (point.Entry, error) {
	t, err := point.ParseEntryType(r.Type)
	if err != nil {
		return point.Entry{}, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	e := point.Entry{
		ID:        r.ID,
		LedgerID:  r.LedgerID,
		Type:      t,
		Amount:    r.Amount,
		OrderID:   r.OrderID,
		Seed:      r.Seed,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if err := e.Validate(); err != nil {
		return point.Entry{}, err
	}
	return e, nil
}

// newEvent turns a domain changeset into an event. Lots in cs that the
// aggregate does not know yet are recorded as created.
func newEvent(agg *Aggregate, t Type, orderID string, cs point.Changeset, at time.Time) Event {
	p := Payload{OrderID: orderID, Entries: make([]EntryRecord, 0, len(cs.Entries))}
	for _, l := range cs.Ledgers {
		if _, known := agg.ledgers[l.ID]; !known {
			p.Created = append(p.Created, newLedgerRecord(l))
		}
	}
	for _, e := range cs.Entries {
		p.Entries = append(p.Entries, newEntryRecord(e))
	}
	return Event{MemberID: agg.MemberID, Type: t, Payload: p, OccurredAt: at}
}
