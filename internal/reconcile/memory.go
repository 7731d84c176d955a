package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/point"
)

// MemoryReader reads rows from an in-memory point repository.
type MemoryReader struct {
	repo *point.MemoryRepository
}

// NewMemoryReader wraps repo.
func NewMemoryReader(repo *point.MemoryRepository) *MemoryReader {
	return &MemoryReader{repo: repo}
}

func (r *MemoryReader) ReadPage(_ context.Context, after uuid.UUID, limit int) ([]Row, error) {
	ledgers, entries := r.repo.All()
	byLedger := make(map[uuid.UUID][]point.Entry)
	for _, e := range entries {
		byLedger[e.LedgerID] = append(byLedger[e.LedgerID], e)
	}

	cursor := after.String()
	var out []Row
	for _, l := range ledgers {
		if after != uuid.Nil && l.ID.String() <= cursor {
			continue
		}
		out = append(out, RowFrom(l, byLedger[l.ID]))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MemoryWriter keeps the latest result per ledger.
type MemoryWriter struct {
	mu      sync.Mutex
	results map[uuid.UUID]Result
	// Fail, when set, makes Write reject any batch containing a result it
	// matches, without storing anything from that batch.
	Fail func(Result) error
}

// NewMemoryWriter builds an empty writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{results: make(map[uuid.UUID]Result)}
}

func (w *MemoryWriter) Write(_ context.Context, results []Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		for _, res := range results {
			if err := w.Fail(res); err != nil {
				return err
			}
		}
	}
	for _, res := range results {
		w.results[res.LedgerID] = res
	}
	return nil
}

// Results returns the stored results ordered by ledger id.
func (w *MemoryWriter) Results() []Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Result, 0, len(w.results))
	for _, res := range w.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LedgerID.String() < out[j].LedgerID.String() })
	return out
}
