package eventsource

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	logs      map[uuid.UUID][]Event
	snapshots map[uuid.UUID]Snapshot
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:      make(map[uuid.UUID][]Event),
		snapshots: make(map[uuid.UUID]Snapshot),
	}
}

func (s *MemoryStore) Append(_ context.Context, memberID uuid.UUID, expectedVersion int64, events []Event) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[memberID]
	current := int64(len(log))
	if current != expectedVersion {
		return nil, &ConcurrencyConflictError{MemberID: memberID, Expected: expectedVersion, Actual: current}
	}

	out := make([]Event, len(events))
	for i, ev := range events {
		ev.MemberID = memberID
		ev.Version = current + int64(i) + 1
		out[i] = ev
	}
	s.logs[memberID] = append(log, out...)
	return out, nil
}

func (s *MemoryStore) Events(_ context.Context, memberID uuid.UUID, after int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[memberID]
	if after < 0 {
		after = 0
	}
	if after >= int64(len(log)) {
		return nil, nil
	}
	out := make([]Event, len(log)-int(after))
	copy(out, log[after:])
	return out, nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context, memberID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.logs[memberID])), nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, memberID uuid.UUID) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[memberID]
	return snap, ok, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.MemberID] = snap
	return nil
}
