package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore keeps the log in point_events and snapshots in point_snapshots.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append checks the version under a transaction-scoped advisory lock on the
// member. The (member_id, version) primary key still rejects a racing writer
// that slipped past the check.
func (s *PostgresStore) Append(ctx context.Context, memberID uuid.UUID, expectedVersion int64, events []Event) ([]Event, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, memberID.String()); err != nil {
		return nil, fmt.Errorf("lock event stream %s: %w", memberID, err)
	}

	var current int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM point_events WHERE member_id = $1`, memberID).Scan(&current); err != nil {
		return nil, fmt.Errorf("read version %s: %w", memberID, err)
	}
	if current != expectedVersion {
		return nil, &ConcurrencyConflictError{MemberID: memberID, Expected: expectedVersion, Actual: current}
	}

	const insertEvent = `INSERT INTO point_events (member_id, version, event_type, payload, occurred_at)
        VALUES ($1, $2, $3, $4, $5)`
	out := make([]Event, len(events))
	for i, ev := range events {
		ev.MemberID = memberID
		ev.Version = expectedVersion + int64(i) + 1
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
		}
		if _, err := tx.Exec(ctx, insertEvent, memberID, ev.Version, string(ev.Type), payload, ev.OccurredAt.UTC()); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return nil, &ConcurrencyConflictError{MemberID: memberID, Expected: expectedVersion, Actual: ev.Version}
			}
			return nil, fmt.Errorf("append event v%d: %w", ev.Version, err)
		}
		out[i] = ev
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Events(ctx context.Context, memberID uuid.UUID, after int64) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT member_id, version, event_type, payload, occurred_at
        FROM point_events
        WHERE member_id = $1 AND version > $2
        ORDER BY version ASC`, memberID, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			ev        Event
			eventType string
			payload   []byte
		)
		if err := row.Scan(&ev.MemberID, &ev.Version, &eventType, &payload, &ev.OccurredAt); err != nil {
			return Event{}, err
		}
		var err error
		if ev.Type, err = ParseType(eventType); err != nil {
			return Event{}, err
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return Event{}, fmt.Errorf("decode event v%d: %w", ev.Version, err)
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		return ev, nil
	})
}

func (s *PostgresStore) CurrentVersion(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var v int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM point_events WHERE member_id = $1`, memberID).Scan(&v)
	return v, err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, memberID uuid.UUID) (Snapshot, bool, error) {
	var (
		version int64
		state   []byte
		takenAt time.Time
	)
	err := s.db.QueryRow(ctx, `SELECT version, state, taken_at FROM point_snapshots WHERE member_id = $1`, memberID).
		Scan(&version, &state, &takenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err := decodeSnapshot(memberID, version, takenAt, state)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// SaveSnapshot upserts the member's snapshot, never moving it backwards.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	state, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.MemberID, err)
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO point_snapshots (member_id, version, state, taken_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (member_id) DO UPDATE SET
            version = EXCLUDED.version,
            state = EXCLUDED.state,
            taken_at = EXCLUDED.taken_at
        WHERE point_snapshots.version < EXCLUDED.version`,
		snap.MemberID, snap.Version, state, snap.TakenAt.UTC())
	return err
}
