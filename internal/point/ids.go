package point

import "github.com/google/uuid"

// IDGenerator produces identifiers for new ledgers and entries.
type IDGenerator interface {
	NewID() uuid.UUID
}

// UUIDGenerator issues time-ordered UUIDv7 identifiers so that ledger ids sort
// by creation time, which keyset pagination relies on.
type UUIDGenerator struct{}

// NewID returns a fresh UUIDv7, falling back to a random UUID if the clock
// source fails.
func (UUIDGenerator) NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
