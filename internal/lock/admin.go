package lock

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Admin exposes break-glass lock operations to operators.
type Admin struct {
	client Client
	logger *slog.Logger
}

// NewAdmin builds the admin facade.
func NewAdmin(client Client, logger *slog.Logger) *Admin {
	return &Admin{client: client, logger: logger}
}

// Inspect reports the state of a member's lock.
func (a *Admin) Inspect(ctx context.Context, memberID uuid.UUID) (Info, error) {
	return a.client.Inspect(ctx, MemberKey(memberID))
}

// ForceRelease drops a member's lock regardless of its holder. The running
// holder is not stopped and may still write, so this can break the
// per-member serialisation. It returns false if the lock was not held.
func (a *Admin) ForceRelease(ctx context.Context, memberID uuid.UUID) (bool, error) {
	key := MemberKey(memberID)
	info, err := a.client.Inspect(ctx, key)
	if err != nil {
		return false, err
	}
	if !info.Locked {
		a.logger.Info("force release skipped, lock not held", "key", key)
		return false, nil
	}

	a.logger.Warn("FORCE RELEASING LOCK", "key", key,
		"hold_count", info.HoldCount,
		"remaining_lease_ms", info.RemainingLease.Milliseconds(),
	)
	released, err := a.client.ForceRelease(ctx, key)
	if err != nil {
		a.logger.Error("force release failed", "key", key, "error", err)
		return false, err
	}
	a.logger.Warn("lock force released", "key", key, "released", released)
	return released, nil
}
