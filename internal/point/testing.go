package point

import (
	"time"

	"github.com/google/uuid"
)

// ForceExpire is a test helper that moves a stored ledger's expiry to at when
// using the in-memory repository.
func ForceExpire(r Repository, id uuid.UUID, at time.Time) {
	if mem, ok := r.(*MemoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if l, exists := mem.ledgers[id]; exists {
			l.ExpiredAt = at
			mem.ledgers[id] = l
		}
	}
}

// Tamper is a test helper that rewrites a stored ledger in place, bypassing
// entry bookkeeping, so drift can be simulated.
func Tamper(r Repository, id uuid.UUID, mutate func(*Ledger)) {
	if mem, ok := r.(*MemoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if l, exists := mem.ledgers[id]; exists {
			mutate(&l)
			mem.ledgers[id] = l
		}
	}
}
