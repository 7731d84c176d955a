package eventsource

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/pointledger/internal/clock"
	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/point"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *MemoryStore
	repo  *Repository
	clock *clock.FakeClock
}

func newFixture(t *testing.T, interval int64) fixture {
	t.Helper()
	store := NewMemoryStore()
	repo := NewRepository(store, interval, logging.Discard())
	fake := clock.NewFakeClock(testNow)
	controller := lock.NewController(lock.NewMemoryClient(), lock.Options{Wait: 2 * time.Second}, nil, logging.Discard())
	svc := NewService(Deps{
		Repo:   repo,
		Policy: point.NewStaticPolicy(),
		Locker: controller,
		Clock:  fake,
		Logger: logging.Discard(),
	})
	return fixture{svc: svc, store: store, repo: repo, clock: fake}
}

func TestServiceReplayScenario(t *testing.T) {
	f := newFixture(t, DefaultSnapshotInterval)
	ctx := context.Background()
	member := uuid.New()

	a, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 1000})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	b, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), b.Balance.Int64())

	f.clock.Advance(time.Minute)
	used, err := f.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 1200, OrderID: "X"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), used.Balance.Int64())

	// Lot A expires: 365 days later every lot is expired, so jump just past A.
	f.clock.Set(a.Ledger.ExpiredAt)

	canceled, err := f.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "X", Amount: 1100})
	require.NoError(t, err)
	assert.Equal(t, int64(1400), canceled.Balance.Int64())
	require.Len(t, canceled.Restored, 1)
	assert.Equal(t, b.Ledger.ID, canceled.Restored[0].ID)
	assert.Equal(t, int64(400), canceled.Restored[0].AvailableAmount.Int64())
	require.Len(t, canceled.Recreated, 1)
	assert.Equal(t, a.Ledger.ID, canceled.Recreated[0].SourceLedgerID.UUID)

	balance, err := f.svc.Balance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(1400), balance.Available.Int64())

	version, err := f.store.CurrentVersion(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)

	ledgers, err := f.svc.Ledgers(ctx, member)
	require.NoError(t, err)
	assert.Len(t, ledgers, 3)
	for _, l := range ledgers {
		if !l.Canceled {
			assert.Equal(t, l.EarnedAmount.Int64(), l.AvailableAmount.Int64()+l.UsedAmount.Int64())
		}
	}
}

func TestServiceMatchesDirectModeErrors(t *testing.T) {
	f := newFixture(t, DefaultSnapshotInterval)
	ctx := context.Background()
	member := uuid.New()

	earned, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 100})
	require.NoError(t, err)

	_, err = f.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 101, OrderID: "o"})
	assert.ErrorIs(t, err, point.ErrInsufficientBalance)

	f.clock.Advance(time.Second)
	_, err = f.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 40, OrderID: "o"})
	require.NoError(t, err)

	_, err = f.svc.CancelEarn(ctx, point.CancelEarnInput{MemberID: member, LedgerID: earned.Ledger.ID})
	assert.ErrorIs(t, err, point.ErrLedgerAlreadyUsed)

	_, err = f.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "o", Amount: 41})
	assert.ErrorIs(t, err, point.ErrCancelAmountExceeded)

	_, err = f.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "nope", Amount: 1})
	assert.ErrorIs(t, err, point.ErrOrderNotFound)

	second, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 50})
	require.NoError(t, err)
	res, err := f.svc.CancelEarn(ctx, point.CancelEarnInput{MemberID: member, LedgerID: second.Ledger.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.Balance.Int64())

	_, err = f.svc.CancelEarn(ctx, point.CancelEarnInput{MemberID: member, LedgerID: second.Ledger.ID})
	assert.ErrorIs(t, err, point.ErrLedgerAlreadyCanceled)

	version, err := f.store.CurrentVersion(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version, "rejected commands append nothing")
}

func TestServiceRestoresRecreatedLedgerUnderFrozenClock(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	member := uuid.New()

	earned, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 100})
	require.NoError(t, err)
	_, err = f.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 100, OrderID: "X"})
	require.NoError(t, err)

	f.clock.Set(earned.Ledger.ExpiredAt)
	canceled, err := f.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "X", Amount: 100})
	require.NoError(t, err)
	require.Len(t, canceled.Recreated, 1)

	_, err = f.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 50, OrderID: "Y"})
	require.NoError(t, err)
	res, err := f.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "Y", Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Balance.Int64())

	// Reload through snapshot and replay.
	balance, err := f.svc.Balance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Available.Int64())
}

func TestServiceCancelUseScopesOrderToMember(t *testing.T) {
	f := newFixture(t, DefaultSnapshotInterval)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	for _, m := range []uuid.UUID{alice, bob} {
		_, err := f.svc.Earn(ctx, point.EarnInput{MemberID: m, Amount: 100})
		require.NoError(t, err)
		_, err = f.svc.Use(ctx, point.UseInput{MemberID: m, Amount: 40, OrderID: "ORDER-1"})
		require.NoError(t, err)
	}

	res, err := f.svc.CancelUse(ctx, point.CancelUseInput{MemberID: alice, OrderID: "ORDER-1", Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Balance.Int64())

	bobBalance, err := f.svc.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(60), bobBalance.Available.Int64())
}

func TestRepositorySnapshotsAtInterval(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	member := uuid.New()

	for i := 0; i < 7; i++ {
		f.clock.Advance(time.Second)
		_, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 10})
		require.NoError(t, err)
	}

	snap, ok, err := f.store.LatestSnapshot(ctx, member)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6), snap.Version)
	assert.Len(t, snap.Ledgers, 6)

	loaded, err := f.repo.Load(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Version)

	full := NewAggregate(member)
	events, err := f.store.Events(ctx, member, 0)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, full.Apply(ev))
	}
	assert.Equal(t, full.Ledgers(), loaded.Ledgers())

	balance, err := loaded.Balance(f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance.Int64())
}

func TestCommitRejectsStaleAggregate(t *testing.T) {
	f := newFixture(t, DefaultSnapshotInterval)
	ctx := context.Background()
	member := uuid.New()

	_, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 100})
	require.NoError(t, err)

	first, err := f.repo.Load(ctx, member)
	require.NoError(t, err)
	stale, err := f.repo.Load(ctx, member)
	require.NoError(t, err)

	use := func(agg *Aggregate, order string) Event {
		cs, err := point.Consume(agg.Available(testNow), point.MustAmount(60), order, point.UUIDGenerator{}, testNow)
		require.NoError(t, err)
		return newEvent(agg, TypeUsed, order, cs, testNow)
	}

	require.NoError(t, f.repo.Commit(ctx, first, use(first, "a")))

	err = f.repo.Commit(ctx, stale, use(stale, "b"))
	var conflict *ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)
	assert.True(t, IsConcurrency(err))

	reloaded, err := f.repo.Load(ctx, member)
	require.NoError(t, err)
	balance, err := reloaded.Balance(testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance.Int64())
}

func TestSnapshotDue(t *testing.T) {
	assert.True(t, SnapshotDue(99, 100, 100))
	assert.True(t, SnapshotDue(98, 101, 100))
	assert.False(t, SnapshotDue(100, 101, 100))
	assert.False(t, SnapshotDue(1, 50, 100))
	assert.False(t, SnapshotDue(1, 500, 0))
}

func TestSnapshotEncoding(t *testing.T) {
	f := newFixture(t, DefaultSnapshotInterval)
	ctx := context.Background()
	member := uuid.New()

	_, err := f.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 300, EarnType: "MANUAL"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 120, OrderID: "o"})
	require.NoError(t, err)

	agg, err := f.repo.Load(ctx, member)
	require.NoError(t, err)
	snap := agg.Snapshot(testNow)

	raw, err := encodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := decodeSnapshot(member, snap.Version, testNow, raw)
	require.NoError(t, err)

	restored := FromSnapshot(decoded)
	assert.Equal(t, agg.Ledgers(), restored.Ledgers())
	ledgers, entries := restored.Order("o")
	assert.Len(t, ledgers, 1)
	assert.Len(t, entries, 1)
}

func TestApplyRejectsOutOfOrderEvents(t *testing.T) {
	member := uuid.New()
	agg := NewAggregate(member)
	err := agg.Apply(Event{MemberID: member, Version: 2, Type: TypeEarned})
	assert.Error(t, err)

	err = agg.Apply(Event{MemberID: uuid.New(), Version: 1, Type: TypeEarned})
	assert.Error(t, err)
	assert.Zero(t, agg.Version)
}
