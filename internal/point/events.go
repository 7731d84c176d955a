package point

import (
	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/notification"
)

// Event describes the committed accrual.
func (r EarnResult) Event() notification.Event {
	return notification.Event{
		Kind:       notification.KindPointEarned,
		MemberID:   r.Ledger.MemberID.String(),
		LedgerID:   r.Ledger.ID.String(),
		Amount:     r.Ledger.EarnedAmount.Int64(),
		EarnType:   string(r.Ledger.EarnType),
		ExpiredAt:  r.Ledger.ExpiredAt,
		OccurredAt: r.Ledger.EarnedAt,
	}
}

// Event describes the committed accrual cancellation.
func (r CancelEarnResult) Event() notification.Event {
	return notification.Event{
		Kind:       notification.KindPointEarnCanceled,
		MemberID:   r.Ledger.MemberID.String(),
		LedgerID:   r.Ledger.ID.String(),
		Amount:     r.Canceled.Int64(),
		OccurredAt: r.OccurredAt,
	}
}

// Event describes the committed use.
func (r UseResult) Event(memberID uuid.UUID) notification.Event {
	return notification.Event{
		Kind:        notification.KindPointUsed,
		MemberID:    memberID.String(),
		OrderID:     r.OrderID,
		Amount:      r.Used.Int64(),
		LedgerCount: len(r.Ledgers),
		OccurredAt:  r.OccurredAt,
	}
}

// Event describes the committed usage cancellation.
func (r CancelUseResult) Event(memberID uuid.UUID) notification.Event {
	return notification.Event{
		Kind:             notification.KindPointUseCanceled,
		MemberID:         memberID.String(),
		OrderID:          r.OrderID,
		Amount:           r.Canceled.Int64(),
		LedgerCount:      len(r.Restored),
		RecreatedLedgers: len(r.Recreated),
		OccurredAt:       r.OccurredAt,
	}
}
