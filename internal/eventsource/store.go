package eventsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConcurrencyConflict means the log moved past the version a command was
// computed against. Callers reload and retry the whole operation.
var ErrConcurrencyConflict = errors.New("event store concurrency conflict")

// ConcurrencyConflictError reports the versions involved in a failed append.
type ConcurrencyConflictError struct {
	MemberID uuid.UUID
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("member %s: expected version %d, found %d", e.MemberID, e.Expected, e.Actual)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// IsConcurrency reports whether err is an optimistic concurrency failure.
func IsConcurrency(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }

// Store is an append-only per-member event log with one snapshot slot per
// member.
type Store interface {
	// Append writes events after expectedVersion and returns them with their
	// assigned versions. It fails with *ConcurrencyConflictError when the log
	// is not at expectedVersion.
	Append(ctx context.Context, memberID uuid.UUID, expectedVersion int64, events []Event) ([]Event, error)
	// Events returns the events with a version greater than after, in order.
	Events(ctx context.Context, memberID uuid.UUID, after int64) ([]Event, error)
	// CurrentVersion is 0 for a member with no events.
	CurrentVersion(ctx context.Context, memberID uuid.UUID) (int64, error)
	// LatestSnapshot reports false when the member has none.
	LatestSnapshot(ctx context.Context, memberID uuid.UUID) (Snapshot, bool, error)
	// SaveSnapshot replaces the member's snapshot.
	SaveSnapshot(ctx context.Context, s Snapshot) error
}
