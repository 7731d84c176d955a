package eventsource

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/point"
)

// Snapshot is a materialised aggregate tagged with the version it reflects.
// Only the latest snapshot per member is kept.
type Snapshot struct {
	MemberID uuid.UUID
	Version  int64
	Ledgers  []point.Ledger
	Entries  []point.Entry
	TakenAt  time.Time
}

// SnapshotDue reports whether an append moving the log from before to after
// crossed a multiple of interval. A non-positive interval disables snapshots.
func SnapshotDue(before, after, interval int64) bool {
	if interval <= 0 || after <= before {
		return false
	}
	return after/interval > before/interval
}

type ledgerState struct {
	LedgerRecord
	AvailableAmount int64 `json:"available_amount"`
	UsedAmount      int64 `json:"used_amount"`
	Canceled        bool  `json:"canceled"`
}

type snapshotDoc struct {
	Ledgers []ledgerState `json:"ledgers"`
	Entries []EntryRecord `json:"entries"`
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	doc := snapshotDoc{
		Ledgers: make([]ledgerState, 0, len(s.Ledgers)),
		Entries: make([]EntryRecord, 0, len(s.Entries)),
	}
	for _, l := range s.Ledgers {
		doc.Ledgers = append(doc.Ledgers, ledgerState{
			LedgerRecord:    newLedgerRecord(l),
			AvailableAmount: l.AvailableAmount.Int64(),
			UsedAmount:      l.UsedAmount.Int64(),
			Canceled:        l.Canceled,
		})
	}
	for _, e := range s.Entries {
		doc.Entries = append(doc.Entries, newEntryRecord(e))
	}
	return json.Marshal(doc)
}

func decodeSnapshot(memberID uuid.UUID, version int64, takenAt time.Time, raw []byte) (Snapshot, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s v%d: %w", memberID, version, err)
	}
	s := Snapshot{MemberID: memberID, Version: version, TakenAt: takenAt.UTC()}
	for _, st := range doc.Ledgers {
		l, err := st.ledger(memberID)
		if err != nil {
			return Snapshot{}, err
		}
		if l.AvailableAmount, err = point.NewAmount(st.AvailableAmount); err != nil {
			return Snapshot{}, fmt.Errorf("ledger %s available: %w", l.ID, err)
		}
		if l.UsedAmount, err = point.NewAmount(st.UsedAmount); err != nil {
			return Snapshot{}, fmt.Errorf("ledger %s used: %w", l.ID, err)
		}
		l.Canceled = st.Canceled
		s.Ledgers = append(s.Ledgers, l)
	}
	for _, rec := range doc.Entries {
		e, err := rec.entry()
		if err != nil {
			return Snapshot{}, err
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}
