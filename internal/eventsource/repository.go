package eventsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultSnapshotInterval is the number of events between snapshots.
const DefaultSnapshotInterval = 100

// Repository loads aggregates from a Store and commits new events to them.
type Repository struct {
	store    Store
	interval int64
	logger   *slog.Logger
}

// NewRepository builds a repository snapshotting every interval events.
func NewRepository(store Store, interval int64, logger *slog.Logger) *Repository {
	return &Repository{store: store, interval: interval, logger: logger}
}

// Load rebuilds the member's aggregate from its latest snapshot plus the
// events after it, or from the whole log when there is no snapshot.
func (r *Repository) Load(ctx context.Context, memberID uuid.UUID) (*Aggregate, error) {
	snap, ok, err := r.store.LatestSnapshot(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", memberID, err)
	}

	agg := NewAggregate(memberID)
	if ok {
		agg = FromSnapshot(snap)
	}

	events, err := r.store.Events(ctx, memberID, agg.Version)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", memberID, err)
	}
	for _, ev := range events {
		if err := agg.Apply(ev); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("aggregate loaded",
		"member_id", memberID.String(),
		"from_snapshot", ok,
		"replayed", len(events),
		"version", agg.Version,
	)
	return agg, nil
}

// Commit appends events at the aggregate's version, folds them in and takes
// a snapshot when the append crossed an interval boundary. A failed snapshot
// is logged only; the log remains the source of truth.
func (r *Repository) Commit(ctx context.Context, agg *Aggregate, events ...Event) error {
	before := agg.Version
	stored, err := r.store.Append(ctx, agg.MemberID, before, events)
	if err != nil {
		if IsConcurrency(err) {
			r.logger.Warn("event append conflict", "member_id", agg.MemberID.String(), "error", err)
		}
		return err
	}
	for _, ev := range stored {
		if err := agg.Apply(ev); err != nil {
			return err
		}
	}

	if SnapshotDue(before, agg.Version, r.interval) {
		if err := r.store.SaveSnapshot(ctx, agg.Snapshot(time.Now().UTC())); err != nil {
			r.logger.Warn("snapshot save failed", "member_id", agg.MemberID.String(), "version", agg.Version, "error", err)
			return nil
		}
		r.logger.Info("snapshot saved", "member_id", agg.MemberID.String(), "version", agg.Version)
	}
	return nil
}
