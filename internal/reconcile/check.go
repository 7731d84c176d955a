package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/point"
)

// Row is a ledger's stored fields next to the sums of its entries by type.
// SeedSum is the part of UseCancelSum that minted a recreated ledger.
type Row struct {
	LedgerID        uuid.UUID
	MemberID        uuid.UUID
	EarnedAmount    int64
	AvailableAmount int64
	UsedAmount      int64
	Canceled        bool

	EarnSum       int64
	EarnCancelSum int64
	UseSum        int64
	UseCancelSum  int64
	SeedSum       int64
}

// RowFrom aggregates entries for l the way the Postgres reader does in SQL.
func RowFrom(l point.Ledger, entries []point.Entry) Row {
	r := Row{
		LedgerID:        l.ID,
		MemberID:        l.MemberID,
		EarnedAmount:    l.EarnedAmount.Int64(),
		AvailableAmount: l.AvailableAmount.Int64(),
		UsedAmount:      l.UsedAmount.Int64(),
		Canceled:        l.Canceled,
	}
	for _, e := range entries {
		if e.LedgerID != l.ID {
			continue
		}
		switch e.Type {
		case point.EntryEarn:
			r.EarnSum += e.Amount
		case point.EntryEarnCancel:
			r.EarnCancelSum += e.Amount
		case point.EntryUse:
			r.UseSum += e.Amount
		case point.EntryUseCancel:
			r.UseCancelSum += e.Amount
			if point.IsSeed(l, e) {
				r.SeedSum += e.Amount
			}
		}
	}
	return r
}

// ExpectedEarned is what the entries say the lot accrued.
func (r Row) ExpectedEarned() int64 { return r.EarnSum + r.EarnCancelSum + r.SeedSum }

// ExpectedUsed is |sum(USE)| minus the USE_CANCEL entries that reversed a draw.
func (r Row) ExpectedUsed() int64 {
	use := r.UseSum
	if use < 0 {
		use = -use
	}
	return use - (r.UseCancelSum - r.SeedSum)
}

// ExpectedAvailable is zero for a canceled lot and earned minus used otherwise.
func (r Row) ExpectedAvailable() int64 {
	if r.Canceled {
		return 0
	}
	return r.ExpectedEarned() - r.ExpectedUsed()
}

// Kind classifies a detected inconsistency.
type Kind string

const (
	KindAvailableMismatch Kind = "AVAILABLE_AMOUNT_MISMATCH"
	KindUsedMismatch      Kind = "USED_AMOUNT_MISMATCH"
	KindEarnedMismatch    Kind = "EARNED_AMOUNT_MISMATCH"
	KindMultiple          Kind = "MULTIPLE_MISMATCHES"
)

// Result is one inconsistent ledger.
type Result struct {
	LedgerID   uuid.UUID
	MemberID   uuid.UUID
	Kind       Kind
	Details    string
	DetectedAt time.Time
}

// Check compares the stored fields of r against its entries. It reports
// false for a consistent ledger and fails on a row that cannot be judged.
func Check(r Row, now time.Time) (Result, bool, error) {
	if r.LedgerID == uuid.Nil {
		return Result{}, false, fmt.Errorf("%w: missing ledger id", ErrInvalidRow)
	}
	if r.EarnedAmount < 0 || r.AvailableAmount < 0 || r.UsedAmount < 0 {
		return Result{}, false, fmt.Errorf("%w: ledger %s has a negative stored amount", ErrInvalidRow, r.LedgerID)
	}

	var (
		kinds   []Kind
		details []string
	)
	mismatch := func(k Kind, field string, stored, expected int64) {
		kinds = append(kinds, k)
		details = append(details, fmt.Sprintf("%s: stored=%d, expected=%d", field, stored, expected))
	}

	if expected := r.ExpectedAvailable(); r.AvailableAmount != expected {
		mismatch(KindAvailableMismatch, "available", r.AvailableAmount, expected)
	}
	if expected := r.ExpectedUsed(); r.UsedAmount != expected {
		mismatch(KindUsedMismatch, "used", r.UsedAmount, expected)
	}
	// A canceled lot keeps its pre-cancel earned amount.
	if !r.Canceled {
		if expected := r.ExpectedEarned(); r.EarnedAmount != expected {
			mismatch(KindEarnedMismatch, "earned", r.EarnedAmount, expected)
		}
	}

	if len(kinds) == 0 {
		return Result{}, false, nil
	}
	kind := kinds[0]
	if len(kinds) > 1 {
		kind = KindMultiple
	}
	return Result{
		LedgerID:   r.LedgerID,
		MemberID:   r.MemberID,
		Kind:       kind,
		Details:    strings.Join(details, "; "),
		DetectedAt: now,
	}, true, nil
}
