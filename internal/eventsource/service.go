package eventsource

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/clock"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/notification"
	"github.com/congo-pay/pointledger/internal/point"
)

// Deps aggregates the collaborators of a Service.
type Deps struct {
	Repo        *Repository
	Policy      point.PolicySource
	Locker      point.Locker
	Publisher   notification.Publisher
	Clock       clock.Clock
	IDs         point.IDGenerator
	CancelOrder point.CancelOrder
	Logger      *slog.Logger
}

// Service runs the point operations against event-sourced aggregates. The
// member lock serialises commands; the version check on append rejects any
// writer that bypassed it.
type Service struct {
	repo        *Repository
	policy      point.PolicySource
	locker      point.Locker
	publisher   notification.Publisher
	clock       clock.Clock
	ids         point.IDGenerator
	cancelOrder point.CancelOrder
	logger      *slog.Logger
}

// NewService builds an event-sourced point service.
func NewService(d Deps) *Service {
	s := &Service{
		repo:        d.Repo,
		policy:      d.Policy,
		locker:      d.Locker,
		publisher:   d.Publisher,
		clock:       d.Clock,
		ids:         d.IDs,
		cancelOrder: d.CancelOrder,
		logger:      d.Logger,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.ids == nil {
		s.ids = point.UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.cancelOrder == "" {
		s.cancelOrder = point.CancelOrderConsumption
	}
	return s
}

func (s *Service) Earn(ctx context.Context, in point.EarnInput) (point.EarnResult, error) {
	req, err := in.Request()
	if err != nil {
		return point.EarnResult{}, err
	}
	policy, err := s.policy.EarnPolicy(ctx)
	if err != nil {
		return point.EarnResult{}, fmt.Errorf("load earn policy: %w", err)
	}

	var res point.EarnResult
	err = s.mutate(ctx, in.MemberID, func(agg *Aggregate) (Event, error) {
		now := s.clock.Now()
		balance, err := agg.Balance(now)
		if err != nil {
			return Event{}, err
		}
		cs, err := point.Accrue(req, policy, balance, s.ids, now)
		if err != nil {
			return Event{}, err
		}
		next, err := balance.Add(req.Amount)
		if err != nil {
			return Event{}, err
		}
		res = point.EarnResult{Ledger: cs.Ledgers[0], Balance: next}
		return newEvent(agg, TypeEarned, "", cs, now), nil
	})
	if err != nil {
		return point.EarnResult{}, err
	}

	notification.Send(ctx, s.publisher, s.logger, res.Event())
	return res, nil
}

// CancelEarn voids an untouched lot. Lots are looked up in the member's own
// stream, so another member's lot reads as not found.
func (s *Service) CancelEarn(ctx context.Context, in point.CancelEarnInput) (point.CancelEarnResult, error) {
	if in.MemberID == uuid.Nil {
		return point.CancelEarnResult{}, point.ErrInvalidMemberID
	}

	var res point.CancelEarnResult
	err := s.mutate(ctx, in.MemberID, func(agg *Aggregate) (Event, error) {
		now := s.clock.Now()
		ledger, ok := agg.Ledger(in.LedgerID)
		if !ok {
			return Event{}, fmt.Errorf("%w: %s", point.ErrLedgerNotFound, in.LedgerID)
		}
		cs, err := point.CancelAccrual(ledger, agg.EntriesOf(ledger.ID), s.ids, now)
		if err != nil {
			return Event{}, err
		}
		balance, err := agg.Balance(now)
		if err != nil {
			return Event{}, err
		}
		if ledger.IsAvailable(now) {
			if balance, err = balance.Sub(ledger.AvailableAmount); err != nil {
				return Event{}, err
			}
		}
		res = point.CancelEarnResult{Ledger: cs.Ledgers[0], Canceled: ledger.EarnedAmount, Balance: balance, OccurredAt: now}
		return newEvent(agg, TypeEarnCanceled, "", cs, now), nil
	})
	if err != nil {
		return point.CancelEarnResult{}, err
	}

	notification.Send(ctx, s.publisher, s.logger, res.Event())
	return res, nil
}

func (s *Service) Use(ctx context.Context, in point.UseInput) (point.UseResult, error) {
	amount, err := in.Validate()
	if err != nil {
		return point.UseResult{}, err
	}

	var res point.UseResult
	err = s.mutate(ctx, in.MemberID, func(agg *Aggregate) (Event, error) {
		now := s.clock.Now()
		ledgers := agg.Available(now)
		balance, err := point.AvailableBalance(ledgers, now)
		if err != nil {
			return Event{}, err
		}
		cs, err := point.Consume(ledgers, amount, in.OrderID, s.ids, now)
		if err != nil {
			return Event{}, err
		}
		remaining, err := balance.Sub(amount)
		if err != nil {
			return Event{}, err
		}
		res = point.UseResult{OrderID: in.OrderID, Used: amount, Ledgers: cs.Ledgers, Balance: remaining, OccurredAt: now}
		return newEvent(agg, TypeUsed, in.OrderID, cs, now), nil
	})
	if err != nil {
		return point.UseResult{}, err
	}

	notification.Send(ctx, s.publisher, s.logger, res.Event(in.MemberID))
	return res, nil
}

func (s *Service) CancelUse(ctx context.Context, in point.CancelUseInput) (point.CancelUseResult, error) {
	amount, err := in.Validate()
	if err != nil {
		return point.CancelUseResult{}, err
	}
	expiration, err := s.policy.ExpirationPolicy(ctx)
	if err != nil {
		return point.CancelUseResult{}, fmt.Errorf("load expiration policy: %w", err)
	}

	var res point.CancelUseResult
	err = s.mutate(ctx, in.MemberID, func(agg *Aggregate) (Event, error) {
		now := s.clock.Now()
		ledgers, entries := agg.Order(in.OrderID)
		if len(ledgers) == 0 {
			return Event{}, fmt.Errorf("%w: %q", point.ErrOrderNotFound, in.OrderID)
		}
		out, err := point.CancelUsage(point.UsageCancelRequest{
			OrderID:    in.OrderID,
			Amount:     amount,
			Ledgers:    ledgers,
			Entries:    entries,
			Expiration: expiration,
			Order:      s.cancelOrder,
		}, s.ids, now)
		if err != nil {
			return Event{}, err
		}
		balance, err := agg.Balance(now)
		if err != nil {
			return Event{}, err
		}
		if balance, err = balance.Add(amount); err != nil {
			return Event{}, err
		}
		res = point.CancelUseResult{
			OrderID:    in.OrderID,
			Canceled:   amount,
			Restored:   out.Restored,
			Recreated:  out.Recreated,
			Balance:    balance,
			OccurredAt: now,
		}
		return newEvent(agg, TypeUseCanceled, in.OrderID, out.Changeset, now), nil
	})
	if err != nil {
		return point.CancelUseResult{}, err
	}

	if len(res.Recreated) > 0 {
		s.logger.Info("expired ledgers recreated on use cancel",
			"member_id", in.MemberID.String(),
			"order_id", in.OrderID,
			"recreated", len(res.Recreated),
		)
	}
	notification.Send(ctx, s.publisher, s.logger, res.Event(in.MemberID))
	return res, nil
}

func (s *Service) Balance(ctx context.Context, memberID uuid.UUID) (point.Balance, error) {
	if memberID == uuid.Nil {
		return point.Balance{}, point.ErrInvalidMemberID
	}
	agg, err := s.repo.Load(ctx, memberID)
	if err != nil {
		return point.Balance{}, err
	}
	now := s.clock.Now()
	available, err := agg.Balance(now)
	if err != nil {
		return point.Balance{}, err
	}
	return point.Balance{MemberID: memberID, Available: available, AsOf: now}, nil
}

func (s *Service) Ledgers(ctx context.Context, memberID uuid.UUID) ([]point.Ledger, error) {
	if memberID == uuid.Nil {
		return nil, point.ErrInvalidMemberID
	}
	agg, err := s.repo.Load(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return agg.Ledgers(), nil
}

// mutate loads the member's aggregate under the member lock, lets decide
// compute one event from it and commits that event at the loaded version.
func (s *Service) mutate(ctx context.Context, memberID uuid.UUID, decide func(agg *Aggregate) (Event, error)) error {
	return s.locker.WithMemberLock(ctx, memberID, func(ctx context.Context) error {
		agg, err := s.repo.Load(ctx, memberID)
		if err != nil {
			return err
		}
		ev, err := decide(agg)
		if err != nil {
			return err
		}
		return s.repo.Commit(ctx, agg, ev)
	})
}
