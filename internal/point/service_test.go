package point

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/pointledger/internal/clock"
	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/notification"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type serviceFixture struct {
	svc       *Service
	repo      *MemoryRepository
	clock     *clock.FakeClock
	locks     *lock.MemoryClient
	publisher *recordingPublisher
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	repo := NewMemoryRepository()
	fake := clock.NewFakeClock(testNow)
	locks := lock.NewMemoryClient()
	controller := lock.NewController(locks, lock.Options{
		Wait:        2 * time.Second,
		Lease:       time.Minute,
		RetryDelays: []time.Duration{0, 10 * time.Millisecond},
	}, nil, logging.Discard())
	pub := &recordingPublisher{}

	svc := NewService(Deps{
		Repo:      repo,
		Policy:    NewStaticPolicy(),
		Locker:    controller,
		Publisher: pub,
		Clock:     fake,
		Logger:    logging.Discard(),
	})
	return serviceFixture{svc: svc, repo: repo, clock: fake, locks: locks, publisher: pub}
}

func TestServiceReplayScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	a, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 1000})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	b, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), b.Balance.Int64())

	f.clock.Advance(time.Minute)
	used, err := f.svc.Use(ctx, UseInput{MemberID: member, Amount: 1200, OrderID: "X"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), used.Balance.Int64())

	lotA, err := f.repo.FindByID(ctx, a.Ledger.ID)
	require.NoError(t, err)
	assert.True(t, lotA.AvailableAmount.IsZero())
	assert.Equal(t, int64(1000), lotA.UsedAmount.Int64())
	lotB, err := f.repo.FindByID(ctx, b.Ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), lotB.AvailableAmount.Int64())
	assert.Equal(t, int64(200), lotB.UsedAmount.Int64())

	f.clock.Advance(time.Minute)
	ForceExpire(f.repo, a.Ledger.ID, f.clock.Now())

	canceled, err := f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "X", Amount: 1100})
	require.NoError(t, err)
	assert.Equal(t, int64(1400), canceled.Balance.Int64())

	require.Len(t, canceled.Restored, 1)
	assert.Equal(t, b.Ledger.ID, canceled.Restored[0].ID)
	assert.Equal(t, int64(400), canceled.Restored[0].AvailableAmount.Int64())

	require.Len(t, canceled.Recreated, 1)
	assert.Equal(t, int64(1000), canceled.Recreated[0].AvailableAmount.Int64())
	assert.Equal(t, a.Ledger.ID, canceled.Recreated[0].SourceLedgerID.UUID)

	available, err := f.repo.FindAvailable(ctx, member, f.clock.Now())
	require.NoError(t, err)
	assert.Len(t, available, 2)

	balance, err := f.svc.Balance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(1400), balance.Available.Int64())

	// Only 100 of the order remains cancelable.
	_, err = f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "X", Amount: 101})
	assert.ErrorIs(t, err, ErrCancelAmountExceeded)
	_, err = f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "X", Amount: 100})
	require.NoError(t, err)

	assert.Equal(t, []string{
		notification.KindPointEarned,
		notification.KindPointEarned,
		notification.KindPointUsed,
		notification.KindPointUseCanceled,
		notification.KindPointUseCanceled,
	}, f.publisher.kinds())
}

func TestServiceConcurrentEarnsAllLand(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	const workers, each = 25, 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: each})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := f.svc.Balance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*each), balance.Available.Int64())

	ledgers, err := f.svc.Ledgers(ctx, member)
	require.NoError(t, err)
	assert.Len(t, ledgers, workers)
}

func TestServiceConcurrentUsesNeverOverdraw(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	_, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 1000})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Use(ctx, UseInput{MemberID: member, Amount: 100, OrderID: uuid.NewString()})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, err := f.svc.Balance(ctx, member)
	require.NoError(t, err)
	assert.True(t, balance.Available.IsZero())
}

func TestServiceCancelEarn(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	earned, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 800, EarnType: "manual"})
	require.NoError(t, err)
	assert.Equal(t, EarnTypeManual, earned.Ledger.EarnType)

	_, err = f.svc.CancelEarn(ctx, CancelEarnInput{MemberID: uuid.New(), LedgerID: earned.Ledger.ID})
	assert.ErrorIs(t, err, ErrNotOwner)

	res, err := f.svc.CancelEarn(ctx, CancelEarnInput{MemberID: member, LedgerID: earned.Ledger.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(800), res.Canceled.Int64())
	assert.True(t, res.Balance.IsZero())
	assert.True(t, res.Ledger.Canceled)

	_, err = f.svc.CancelEarn(ctx, CancelEarnInput{MemberID: member, LedgerID: earned.Ledger.ID})
	assert.ErrorIs(t, err, ErrLedgerAlreadyCanceled)

	_, err = f.svc.CancelEarn(ctx, CancelEarnInput{MemberID: member, LedgerID: uuid.New()})
	assert.ErrorIs(t, err, ErrLedgerNotFound)
}

func TestServiceCancelEarnAfterRestoreStaysRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	earned, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 100})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.Use(ctx, UseInput{MemberID: member, Amount: 50, OrderID: "o-1"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "o-1", Amount: 50})
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, earned.Ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.EarnedAmount, stored.AvailableAmount)

	_, err = f.svc.CancelEarn(ctx, CancelEarnInput{MemberID: member, LedgerID: earned.Ledger.ID})
	assert.ErrorIs(t, err, ErrLedgerAlreadyUsed)
}

func TestServiceRejectsInvalidInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	_, err := f.svc.Earn(ctx, EarnInput{MemberID: uuid.Nil, Amount: 10})
	assert.ErrorIs(t, err, ErrInvalidMemberID)
	_, err = f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 10, EarnType: "bonus"})
	assert.ErrorIs(t, err, ErrInvalidEarnType)
	_, err = f.svc.Use(ctx, UseInput{MemberID: member, Amount: 10, OrderID: " "})
	assert.ErrorIs(t, err, ErrInvalidOrderID)
	_, err = f.svc.Use(ctx, UseInput{MemberID: member, Amount: 10, OrderID: "o"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "missing", Amount: 10})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestServiceCancelUseRejectsOtherMembersOrder(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := f.svc.Earn(ctx, EarnInput{MemberID: owner, Amount: 100})
	require.NoError(t, err)
	_, err = f.svc.Use(ctx, UseInput{MemberID: owner, Amount: 100, OrderID: "shared"})
	require.NoError(t, err)

	_, err = f.svc.CancelUse(ctx, CancelUseInput{MemberID: uuid.New(), OrderID: "shared", Amount: 10})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestServiceCancelUseScopesOrderToMember(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	for _, m := range []uuid.UUID{alice, bob} {
		_, err := f.svc.Earn(ctx, EarnInput{MemberID: m, Amount: 100})
		require.NoError(t, err)
		_, err = f.svc.Use(ctx, UseInput{MemberID: m, Amount: 40, OrderID: "ORDER-1"})
		require.NoError(t, err)
	}

	// Bob's 40 must not count towards what Alice can cancel.
	_, err := f.svc.CancelUse(ctx, CancelUseInput{MemberID: alice, OrderID: "ORDER-1", Amount: 41})
	var exceeded *CancelAmountExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(40), exceeded.Cancelable.Int64())

	res, err := f.svc.CancelUse(ctx, CancelUseInput{MemberID: alice, OrderID: "ORDER-1", Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Balance.Int64())
	require.Len(t, res.Restored, 1)
	assert.Equal(t, alice, res.Restored[0].MemberID)

	bobBalance, err := f.svc.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(60), bobBalance.Available.Int64())

	res, err = f.svc.CancelUse(ctx, CancelUseInput{MemberID: bob, OrderID: "ORDER-1", Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Balance.Int64())

	ids, err := f.repo.FindLedgerIDsByOrderID(ctx, alice, "ORDER-1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	entries, err := f.repo.FindByOrderID(ctx, bob, "ORDER-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestServiceRestoresRecreatedLedgerUnderFrozenClock(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	member := uuid.New()

	earned, err := f.svc.Earn(ctx, EarnInput{MemberID: member, Amount: 100})
	require.NoError(t, err)
	_, err = f.svc.Use(ctx, UseInput{MemberID: member, Amount: 100, OrderID: "X"})
	require.NoError(t, err)

	// Every following step happens at the same instant.
	f.clock.Set(earned.Ledger.ExpiredAt)
	canceled, err := f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "X", Amount: 100})
	require.NoError(t, err)
	require.Len(t, canceled.Recreated, 1)
	assert.Equal(t, int64(100), canceled.Balance.Int64())

	_, err = f.svc.Use(ctx, UseInput{MemberID: member, Amount: 50, OrderID: "Y"})
	require.NoError(t, err)
	res, err := f.svc.CancelUse(ctx, CancelUseInput{MemberID: member, OrderID: "Y", Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Balance.Int64())

	minted, err := f.repo.FindByID(ctx, canceled.Recreated[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), minted.AvailableAmount.Int64())
	assert.True(t, minted.UsedAmount.IsZero())

	entries, err := f.repo.FindByLedgerID(ctx, minted.ID)
	require.NoError(t, err)
	var seeds int
	for _, e := range entries {
		if IsSeed(minted, e) {
			seeds++
		}
	}
	assert.Equal(t, 1, seeds)
}

func TestServiceFailsWhenLockServiceDown(t *testing.T) {
	f := newServiceFixture(t)
	f.locks.SetUnavailable(true)

	_, err := f.svc.Earn(context.Background(), EarnInput{MemberID: uuid.New(), Amount: 10})
	assert.ErrorIs(t, err, lock.ErrUnavailable)
	assert.Empty(t, f.publisher.kinds())
}
