package point

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/clock"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/notification"
)

// Locker serialises mutations of one member. fn runs only while the member's
// lock is held, and the lock is released whatever fn returns.
type Locker interface {
	WithMemberLock(ctx context.Context, memberID uuid.UUID, fn func(ctx context.Context) error) error
}

// Deps aggregates the collaborators of a Service.
type Deps struct {
	Repo        Repository
	Policy      PolicySource
	Locker      Locker
	Publisher   notification.Publisher
	Clock       clock.Clock
	IDs         IDGenerator
	CancelOrder CancelOrder
	Logger      *slog.Logger
}

// Service runs the point operations against mutable ledger rows, with the
// entry log as audit trail.
type Service struct {
	repo        Repository
	policy      PolicySource
	locker      Locker
	publisher   notification.Publisher
	clock       clock.Clock
	ids         IDGenerator
	cancelOrder CancelOrder
	logger      *slog.Logger
}

// NewService builds a point service. Clock, IDs and Logger fall back to the
// system clock, UUIDv7 and a discarding logger.
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
		s.ids = UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.cancelOrder == "" {
		s.cancelOrder = CancelOrderConsumption
	}
	return s
}

// EarnInput captures an accrual request.
type EarnInput struct {
	MemberID       uuid.UUID
	Amount         int64
	EarnType       string
	ExpirationDays int
}

// EarnResult describes the lot created by an accrual.
type EarnResult struct {
	Ledger  Ledger
	Balance Amount
}

// CancelEarnInput identifies an accrual to void.
type CancelEarnInput struct {
	MemberID uuid.UUID
	LedgerID uuid.UUID
}

// CancelEarnResult describes a voided accrual.
type CancelEarnResult struct {
	Ledger     Ledger
	Canceled   Amount
	Balance    Amount
	OccurredAt time.Time
}

// UseInput captures a spend request.
type UseInput struct {
	MemberID uuid.UUID
	Amount   int64
	OrderID  string
}

// UseResult describes which lots a spend drew from.
type UseResult struct {
	OrderID    string
	Used       Amount
	Ledgers    []Ledger
	Balance    Amount
	OccurredAt time.Time
}

// CancelUseInput captures a usage cancellation.
type CancelUseInput struct {
	MemberID uuid.UUID
	OrderID  string
	Amount   int64
}

// CancelUseResult describes restored and recreated lots.
type CancelUseResult struct {
	OrderID    string
	Canceled   Amount
	Restored   []Ledger
	Recreated  []Ledger
	Balance    Amount
	OccurredAt time.Time
}

// Balance is a member's drawable total at a point in time.
type Balance struct {
	MemberID  uuid.UUID
	Available Amount
	AsOf      time.Time
}

// Earn creates a new accrual lot for the member.
func (s *Service) Earn(ctx context.Context, in EarnInput) (EarnResult, error) {
	req, err := in.Request()
	if err != nil {
		return EarnResult{}, err
	}
	policy, err := s.policy.EarnPolicy(ctx)
	if err != nil {
		return EarnResult{}, fmt.Errorf("load earn policy: %w", err)
	}

	var res EarnResult
	err = s.locker.WithMemberLock(ctx, in.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		balance, err := s.availableBalance(ctx, in.MemberID, now)
		if err != nil {
			return err
		}
		cs, err := Accrue(req, policy, balance, s.ids, now)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, cs); err != nil {
			return fmt.Errorf("save earn: %w", err)
		}
		next, err := balance.Add(req.Amount)
		if err != nil {
			return err
		}
		res = EarnResult{Ledger: cs.Ledgers[0], Balance: next}
		return nil
	})
	if err != nil {
		return EarnResult{}, err
	}

	notification.Send(ctx, s.publisher, s.logger, res.Event())
	return res, nil
}

// CancelEarn voids an accrual lot that was never drawn from.
func (s *Service) CancelEarn(ctx context.Context, in CancelEarnInput) (CancelEarnResult, error) {
	if in.MemberID == uuid.Nil {
		return CancelEarnResult{}, ErrInvalidMemberID
	}

	var res CancelEarnResult
	err := s.locker.WithMemberLock(ctx, in.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		ledger, err := s.repo.FindByID(ctx, in.LedgerID)
		if err != nil {
			return err
		}
		if ledger.MemberID != in.MemberID {
			return fmt.Errorf("%w: %s", ErrNotOwner, in.LedgerID)
		}
		entries, err := s.repo.FindByLedgerID(ctx, ledger.ID)
		if err != nil {
			return err
		}
		cs, err := CancelAccrual(ledger, entries, s.ids, now)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, cs); err != nil {
			return fmt.Errorf("save earn cancel: %w", err)
		}
		balance, err := s.availableBalance(ctx, in.MemberID, now)
		if err != nil {
			return err
		}
		res = CancelEarnResult{Ledger: cs.Ledgers[0], Canceled: ledger.EarnedAmount, Balance: balance, OccurredAt: now}
		return nil
	})
	if err != nil {
		return CancelEarnResult{}, err
	}

	notification.Send(ctx, s.publisher, s.logger, res.Event())
	return res, nil
}

// Use drains amount from the member's lots for an order.
func (s *Service) Use(ctx context.Context, in UseInput) (UseResult, error) {
	amount, err := in.Validate()
	if err != nil {
		return UseResult{}, err
	}

	var res UseResult
	err = s.locker.WithMemberLock(ctx, in.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		ledgers, err := s.repo.FindAvailable(ctx, in.MemberID, now)
		if err != nil {
			return err
		}
		balance, err := AvailableBalance(ledgers, now)
		if err != nil {
			return err
		}
		cs, err := Consume(ledgers, amount, in.OrderID, s.ids, now)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, cs); err != nil {
			return fmt.Errorf("save use: %w", err)
		}
		remaining, err := balance.Sub(amount)
		if err != nil {
			return err
		}
		res = UseResult{OrderID: in.OrderID, Used: amount, Ledgers: cs.Ledgers, Balance: remaining, OccurredAt: now}
		return nil
	})
	if err != nil {
		return UseResult{}, err
	}

	notification.Send(ctx, s.publisher, s.logger, res.Event(in.MemberID))
	return res, nil
}

// CancelUse reverses part or all of an order's usage.
func (s *Service) CancelUse(ctx context.Context, in CancelUseInput) (CancelUseResult, error) {
	amount, err := in.Validate()
	if err != nil {
		return CancelUseResult{}, err
	}
	expiration, err := s.policy.ExpirationPolicy(ctx)
	if err != nil {
		return CancelUseResult{}, fmt.Errorf("load expiration policy: %w", err)
	}

	var res CancelUseResult
	err = s.locker.WithMemberLock(ctx, in.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		ledgerIDs, err := s.repo.FindLedgerIDsByOrderID(ctx, in.MemberID, in.OrderID)
		if err != nil {
			return err
		}
		ledgers, err := s.repo.FindByIDs(ctx, ledgerIDs)
		if err != nil {
			return err
		}
		ledgers = ownedBy(ledgers, in.MemberID)
		if len(ledgers) == 0 {
			return fmt.Errorf("%w: %q", ErrOrderNotFound, in.OrderID)
		}
		entries, err := s.repo.FindByOrderID(ctx, in.MemberID, in.OrderID)
		if err != nil {
			return err
		}
		entries = onLedgers(entries, ledgers)

		out, err := CancelUsage(UsageCancelRequest{
			OrderID:    in.OrderID,
			Amount:     amount,
			Ledgers:    ledgers,
			Entries:    entries,
			Expiration: expiration,
			Order:      s.cancelOrder,
		}, s.ids, now)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, out.Changeset); err != nil {
			return fmt.Errorf("save use cancel: %w", err)
		}
		balance, err := s.availableBalance(ctx, in.MemberID, now)
		if err != nil {
			return err
		}
		res = CancelUseResult{
			OrderID:    in.OrderID,
			Canceled:   amount,
			Restored:   out.Restored,
			Recreated:  out.Recreated,
			Balance:    balance,
			OccurredAt: now,
		}
		return nil
	})
	if err != nil {
		return CancelUseResult{}, err
	}

	if len(res.Recreated) > 0 {
		logging.With(ctx, s.logger).Info("expired ledgers recreated on use cancel",
			"member_id", in.MemberID.String(),
			"order_id", in.OrderID,
			"recreated", len(res.Recreated),
		)
	}
	notification.Send(ctx, s.publisher, s.logger, res.Event(in.MemberID))
	return res, nil
}

// Balance returns the member's drawable total.
func (s *Service) Balance(ctx context.Context, memberID uuid.UUID) (Balance, error) {
	if memberID == uuid.Nil {
		return Balance{}, ErrInvalidMemberID
	}
	now := s.clock.Now()
	available, err := s.availableBalance(ctx, memberID, now)
	if err != nil {
		return Balance{}, err
	}
	return Balance{MemberID: memberID, Available: available, AsOf: now}, nil
}

// Ledgers lists every lot the member ever held.
func (s *Service) Ledgers(ctx context.Context, memberID uuid.UUID) ([]Ledger, error) {
	if memberID == uuid.Nil {
		return nil, ErrInvalidMemberID
	}
	return s.repo.FindByMember(ctx, memberID)
}

func (s *Service) availableBalance(ctx context.Context, memberID uuid.UUID, now time.Time) (Amount, error) {
	ledgers, err := s.repo.FindAvailable(ctx, memberID, now)
	if err != nil {
		return Amount{}, err
	}
	return AvailableBalance(ledgers, now)
}

// Request validates the input and converts it for Accrue. An empty earn type
// means SYSTEM and zero days means the policy default.
func (in EarnInput) Request() (EarnRequest, error) {
	amount, err := positiveAmount(in.MemberID, in.Amount)
	if err != nil {
		return EarnRequest{}, err
	}
	earnType := EarnTypeSystem
	if in.EarnType != "" {
		if earnType, err = ParseEarnType(in.EarnType); err != nil {
			return EarnRequest{}, err
		}
	}
	if in.ExpirationDays < 0 {
		return EarnRequest{}, fmt.Errorf("%w: %d", ErrInvalidExpiration, in.ExpirationDays)
	}
	return EarnRequest{MemberID: in.MemberID, Amount: amount, EarnType: earnType, ExpirationDays: in.ExpirationDays}, nil
}

// Validate checks the input and returns the amount to draw.
func (in UseInput) Validate() (Amount, error) {
	amount, err := positiveAmount(in.MemberID, in.Amount)
	if err != nil {
		return Amount{}, err
	}
	return amount, ValidateOrderID(in.OrderID)
}

// Validate checks the input and returns the amount to cancel.
func (in CancelUseInput) Validate() (Amount, error) {
	amount, err := positiveAmount(in.MemberID, in.Amount)
	if err != nil {
		return Amount{}, err
	}
	return amount, ValidateOrderID(in.OrderID)
}

func positiveAmount(memberID uuid.UUID, v int64) (Amount, error) {
	if memberID == uuid.Nil {
		return Amount{}, ErrInvalidMemberID
	}
	amount, err := NewAmount(v)
	if err != nil {
		return Amount{}, err
	}
	if amount.IsZero() {
		return Amount{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return amount, nil
}

// ownedBy drops ledgers of other members.
func ownedBy(ledgers []Ledger, memberID uuid.UUID) []Ledger {
	out := ledgers[:0:0]
	for _, l := range ledgers {
		if l.MemberID == memberID {
			out = append(out, l)
		}
	}
	return out
}

// onLedgers keeps the entries written against one of ledgers.
func onLedgers(entries []Entry, ledgers []Ledger) []Entry {
	ids := make(map[uuid.UUID]struct{}, len(ledgers))
	for _, l := range ledgers {
		ids[l.ID] = struct{}{}
	}
	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := ids[e.LedgerID]; ok {
			out = append(out, e)
		}
	}
	return out
}
