package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/pointledger/internal/logging"
)

const (
	// KindPointEarned is published after an accrual commits.
	KindPointEarned = "point_earned"
	// KindPointEarnCanceled is published after an accrual cancellation commits.
	KindPointEarnCanceled = "point_earn_canceled"
	// KindPointUsed is published after a use commits.
	KindPointUsed = "point_used"
	// KindPointUseCanceled is published after a usage cancellation commits.
	KindPointUseCanceled = "point_use_canceled"
)

// Event describes a committed balance mutation. Fields that do not apply to
// a kind are left zero.
type Event struct {
	Kind             string    `json:"kind"`
	MemberID         string    `json:"member_id"`
	LedgerID         string    `json:"ledger_id,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
	Amount           int64     `json:"amount"`
	EarnType         string    `json:"earn_type,omitempty"`
	ExpiredAt        time.Time `json:"expired_at,omitempty"`
	LedgerCount      int       `json:"ledger_count,omitempty"`
	RecreatedLedgers int       `json:"recreated_ledgers,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher delivers events to downstream systems such as balance caches.
// Delivery is fire-and-forget from the caller's perspective.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("point event",
		"kind", event.Kind,
		"member_id", event.MemberID,
		"amount", event.Amount,
		"order_id", event.OrderID,
		"ledger_id", event.LedgerID,
	)
	return nil
}

// Multi fans an event out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send publishes event on p and logs a failure at warn. Events are sent after
// the write has committed, so a delivery failure never undoes it.
func Send(ctx context.Context, p Publisher, logger *slog.Logger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logging.With(ctx, logger).Warn("publish point event", "kind", event.Kind, "member_id", event.MemberID, "error", err)
	}
}
