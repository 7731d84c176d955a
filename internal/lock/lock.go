package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotObtained means the lock is held by someone else. Callers may retry.
	ErrNotObtained = errors.New("lock not obtained")
	// ErrAcquisitionFailed means the controller gave up on a lock.
	ErrAcquisitionFailed = errors.New("lock acquisition failed")
	// ErrUnavailable means the lock service itself could not be reached.
	ErrUnavailable = errors.New("lock service unavailable")
)

// UnavailableError is returned without retrying when the lock service fails.
// It matches both ErrAcquisitionFailed and ErrUnavailable.
type UnavailableError struct {
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("lock %s: service unavailable: %v", e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrAcquisitionFailed, ErrUnavailable, e.Err}
}

// Lease is a held lock.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Info is a point-in-time view of a lock.
type Info struct {
	Key            string
	Locked         bool
	HoldCount      int
	RemainingLease time.Duration
	CheckedAt      time.Time
}

// Client is the lock service contract. Acquire blocks for at most wait and
// returns ErrNotObtained if the key stays held; any other error means the
// service is unreachable. The lease expires on its own after lease.
type Client interface {
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lease, error)
	Inspect(ctx context.Context, key string) (Info, error)
	ForceRelease(ctx context.Context, key string) (bool, error)
}

// MemberKey names the lock that serialises a member's balance mutations.
func MemberKey(memberID uuid.UUID) string {
	return "member:" + memberID.String()
}
