package point

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func lot(member uuid.UUID, earnType EarnType, amount int64, expiresIn time.Duration, earnedAgo time.Duration) Ledger {
	return Ledger{
		ID:              UUIDGenerator{}.NewID(),
		MemberID:        member,
		EarnedAmount:    MustAmount(amount),
		AvailableAmount: MustAmount(amount),
		UsedAmount:      Zero,
		EarnType:        earnType,
		ExpiredAt:       testNow.Add(expiresIn),
		EarnedAt:        testNow.Add(-earnedAgo),
	}
}

func TestAccrueValidatesPolicy(t *testing.T) {
	member := uuid.New()
	policy := DefaultEarnPolicy()
	ids := UUIDGenerator{}

	cs, err := Accrue(EarnRequest{MemberID: member, Amount: MustAmount(1000), EarnType: EarnTypeSystem}, policy, Zero, ids, testNow)
	require.NoError(t, err)
	require.Len(t, cs.Ledgers, 1)
	require.Len(t, cs.Entries, 1)
	l := cs.Ledgers[0]
	assert.Equal(t, testNow.AddDate(0, 0, 365), l.ExpiredAt)
	assert.Equal(t, EntryEarn, cs.Entries[0].Type)
	assert.Equal(t, int64(1000), cs.Entries[0].Amount)
	assert.Equal(t, l.ID, cs.Entries[0].LedgerID)

	_, err = Accrue(EarnRequest{MemberID: member, Amount: MustAmount(policy.MaxAmount.Int64() + 1), EarnType: EarnTypeSystem}, policy, Zero, ids, testNow)
	assert.ErrorIs(t, err, ErrEarnAmountOutOfRule)

	_, err = Accrue(EarnRequest{MemberID: member, Amount: MustAmount(10), EarnType: EarnTypeUseCancel}, policy, Zero, ids, testNow)
	assert.ErrorIs(t, err, ErrInvalidEarnType)

	_, err = Accrue(EarnRequest{MemberID: member, Amount: MustAmount(10), EarnType: EarnTypeManual, ExpirationDays: policy.MaxExpirationDays + 1}, policy, Zero, ids, testNow)
	assert.ErrorIs(t, err, ErrInvalidExpiration)

	_, err = Accrue(EarnRequest{MemberID: member, Amount: MustAmount(10), EarnType: EarnTypeManual}, policy, policy.MaxBalance, ids, testNow)
	var maxErr *MaxBalanceError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, policy.MaxBalance, maxErr.Current)
}

func TestSortForConsumption(t *testing.T) {
	member := uuid.New()
	systemSoon := lot(member, EarnTypeSystem, 100, 24*time.Hour, time.Hour)
	systemLate := lot(member, EarnTypeSystem, 100, 48*time.Hour, 2*time.Hour)
	manualLate := lot(member, EarnTypeManual, 100, 72*time.Hour, time.Hour)
	systemSoonOlder := lot(member, EarnTypeSystem, 100, 24*time.Hour, 3*time.Hour)

	ledgers := []Ledger{systemLate, systemSoon, manualLate, systemSoonOlder}
	SortForConsumption(ledgers)

	assert.Equal(t, []uuid.UUID{manualLate.ID, systemSoonOlder.ID, systemSoon.ID, systemLate.ID},
		[]uuid.UUID{ledgers[0].ID, ledgers[1].ID, ledgers[2].ID, ledgers[3].ID})
}

func TestConsumeDrainsInPriorityOrder(t *testing.T) {
	member := uuid.New()
	first := lot(member, EarnTypeManual, 300, 72*time.Hour, 0)
	second := lot(member, EarnTypeSystem, 500, 24*time.Hour, 0)
	untouched := lot(member, EarnTypeSystem, 500, 48*time.Hour, 0)

	cs, err := Consume([]Ledger{untouched, second, first}, MustAmount(600), "order-1", UUIDGenerator{}, testNow)
	require.NoError(t, err)
	require.Len(t, cs.Ledgers, 2)
	require.Len(t, cs.Entries, 2)

	assert.Equal(t, first.ID, cs.Ledgers[0].ID)
	assert.True(t, cs.Ledgers[0].AvailableAmount.IsZero())
	assert.Equal(t, int64(300), cs.Ledgers[0].UsedAmount.Int64())

	assert.Equal(t, second.ID, cs.Ledgers[1].ID)
	assert.Equal(t, int64(200), cs.Ledgers[1].AvailableAmount.Int64())
	assert.Equal(t, int64(300), cs.Ledgers[1].UsedAmount.Int64())

	var total int64
	for _, e := range cs.Entries {
		assert.Equal(t, EntryUse, e.Type)
		assert.Equal(t, "order-1", e.OrderID)
		total += e.Amount
	}
	assert.Equal(t, int64(-600), total)
}

func TestConsumeSkipsUnavailableLedgers(t *testing.T) {
	member := uuid.New()
	expired := lot(member, EarnTypeManual, 1000, 0, time.Hour)
	canceled := lot(member, EarnTypeManual, 1000, time.Hour, 0)
	canceled.Canceled = true
	live := lot(member, EarnTypeSystem, 100, time.Hour, 0)

	_, err := Consume([]Ledger{expired, canceled, live}, MustAmount(101), "o", UUIDGenerator{}, testNow)
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Available.Int64())
	assert.Equal(t, int64(101), insufficient.Requested.Int64())

	cs, err := Consume([]Ledger{expired, canceled, live}, MustAmount(100), "o", UUIDGenerator{}, testNow)
	require.NoError(t, err)
	require.Len(t, cs.Ledgers, 1)
	assert.Equal(t, live.ID, cs.Ledgers[0].ID)
}

func TestConsumeRejectsBadInput(t *testing.T) {
	member := uuid.New()
	ledgers := []Ledger{lot(member, EarnTypeSystem, 100, time.Hour, 0)}

	_, err := Consume(ledgers, MustAmount(10), "   ", UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrInvalidOrderID)

	_, err = Consume(ledgers, Zero, "o", UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCancelAccrual(t *testing.T) {
	member := uuid.New()
	l := lot(member, EarnTypeSystem, 500, time.Hour, 0)

	cs, err := CancelAccrual(l, nil, UUIDGenerator{}, testNow)
	require.NoError(t, err)
	require.Len(t, cs.Ledgers, 1)
	canceled := cs.Ledgers[0]
	assert.True(t, canceled.Canceled)
	assert.True(t, canceled.AvailableAmount.IsZero())
	assert.Equal(t, int64(500), canceled.EarnedAmount.Int64())
	require.Len(t, cs.Entries, 1)
	assert.Equal(t, EntryEarnCancel, cs.Entries[0].Type)
	assert.Equal(t, int64(-500), cs.Entries[0].Amount)

	_, err = CancelAccrual(canceled, nil, UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrLedgerAlreadyCanceled)

	used, err := l.use(MustAmount(1))
	require.NoError(t, err)
	_, err = CancelAccrual(used, nil, UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrLedgerAlreadyUsed)

	history := []Entry{NewUseEntry(uuid.New(), l.ID, MustAmount(1), "o", testNow)}
	_, err = CancelAccrual(l, history, UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrLedgerAlreadyUsed)
}

func TestCancelableAmount(t *testing.T) {
	ledger := uuid.New()
	entries := []Entry{
		NewUseEntry(uuid.New(), ledger, MustAmount(700), "o", testNow),
		NewUseEntry(uuid.New(), ledger, MustAmount(300), "o", testNow),
		NewUseCancelEntry(uuid.New(), ledger, MustAmount(400), "o", testNow),
		NewUseEntry(uuid.New(), ledger, MustAmount(999), "other", testNow),
	}
	assert.Equal(t, int64(600), CancelableAmount("o", entries).Int64())
	assert.True(t, CancelableAmount("missing", entries).IsZero())
}

func usedLot(t *testing.T, l Ledger, amount int64, orderID string) (Ledger, Entry) {
	t.Helper()
	used, err := l.use(MustAmount(amount))
	require.NoError(t, err)
	return used, NewUseEntry(uuid.New(), l.ID, MustAmount(amount), orderID, testNow)
}

func TestCancelUsageRestoresLiveLedgers(t *testing.T) {
	member := uuid.New()
	a, useA := usedLot(t, lot(member, EarnTypeSystem, 1000, time.Hour, 2*time.Hour), 1000, "X")
	b, useB := usedLot(t, lot(member, EarnTypeSystem, 500, time.Hour, time.Hour), 200, "X")

	res, err := CancelUsage(UsageCancelRequest{
		OrderID:    "X",
		Amount:     MustAmount(1100),
		Ledgers:    []Ledger{b, a},
		Entries:    []Entry{useA, useB},
		Expiration: DefaultExpirationPolicy(),
	}, UUIDGenerator{}, testNow)
	require.NoError(t, err)

	assert.Empty(t, res.Recreated)
	require.Len(t, res.Restored, 2)
	assert.Equal(t, a.ID, res.Restored[0].ID)
	assert.Equal(t, int64(1000), res.Restored[0].AvailableAmount.Int64())
	assert.Equal(t, b.ID, res.Restored[1].ID)
	assert.Equal(t, int64(400), res.Restored[1].AvailableAmount.Int64())
	assert.Equal(t, int64(100), res.Restored[1].UsedAmount.Int64())
}

func TestCancelUsageRecreatesExpiredLedgers(t *testing.T) {
	member := uuid.New()
	a, useA := usedLot(t, lot(member, EarnTypeManual, 1000, -time.Minute, 2*time.Hour), 1000, "X")

	res, err := CancelUsage(UsageCancelRequest{
		OrderID:    "X",
		Amount:     MustAmount(400),
		Ledgers:    []Ledger{a},
		Entries:    []Entry{useA},
		Expiration: ExpirationPolicy{DefaultDays: 30},
	}, UUIDGenerator{}, testNow)
	require.NoError(t, err)

	assert.Empty(t, res.Restored)
	require.Len(t, res.Recreated, 1)
	minted := res.Recreated[0]
	assert.NotEqual(t, a.ID, minted.ID)
	assert.Equal(t, a.ID, minted.SourceLedgerID.UUID)
	assert.True(t, minted.IsRecreated())
	assert.Equal(t, EarnTypeManual, minted.EarnType)
	assert.Equal(t, int64(400), minted.EarnedAmount.Int64())
	assert.Equal(t, int64(400), minted.AvailableAmount.Int64())
	assert.Equal(t, testNow.AddDate(0, 0, 30), minted.ExpiredAt)

	require.Len(t, res.Entries, 1)
	seed := res.Entries[0]
	assert.Equal(t, minted.ID, seed.LedgerID)
	assert.True(t, seed.Seed)
	assert.True(t, IsSeed(minted, seed))

	// The seed counts against the original lot, so only 600 remains.
	entries := append([]Entry{useA}, seed)
	assert.Equal(t, int64(600), CancelableAmount("X", entries).Int64())
	outstanding := OutstandingByLedger("X", []Ledger{a, minted}, entries)
	assert.Equal(t, map[uuid.UUID]Amount{a.ID: MustAmount(600)}, outstanding)
}

func TestRecreatedLedgerRestoresUseCancelAtSameInstant(t *testing.T) {
	member := uuid.New()
	a, useA := usedLot(t, lot(member, EarnTypeSystem, 100, -time.Minute, time.Hour), 100, "X")

	res, err := CancelUsage(UsageCancelRequest{
		OrderID:    "X",
		Amount:     MustAmount(100),
		Ledgers:    []Ledger{a},
		Entries:    []Entry{useA},
		Expiration: DefaultExpirationPolicy(),
	}, UUIDGenerator{}, testNow)
	require.NoError(t, err)
	require.Len(t, res.Recreated, 1)
	minted := res.Recreated[0]

	// Same timestamp as the seed: only the flag tells them apart.
	useY := NewUseEntry(uuid.New(), minted.ID, MustAmount(50), "Y", testNow)
	cancelY := NewUseCancelEntry(uuid.New(), minted.ID, MustAmount(50), "Y", testNow)
	require.True(t, cancelY.CreatedAt.Equal(minted.EarnedAt))
	assert.False(t, IsSeed(minted, cancelY))

	l := minted
	for _, e := range []Entry{res.Entries[0], useY, cancelY} {
		l, err = ApplyEntry(l, e)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(100), l.AvailableAmount.Int64())
	assert.Equal(t, int64(0), l.UsedAmount.Int64())

	entries := []Entry{res.Entries[0], useY, cancelY}
	assert.Empty(t, OutstandingByLedger("Y", []Ledger{minted}, entries))
	assert.True(t, CancelableAmount("Y", entries).IsZero())
}

func TestCancelUsageRejects(t *testing.T) {
	member := uuid.New()
	a, useA := usedLot(t, lot(member, EarnTypeSystem, 1000, time.Hour, 0), 300, "X")
	req := UsageCancelRequest{
		OrderID:    "X",
		Ledgers:    []Ledger{a},
		Entries:    []Entry{useA},
		Expiration: DefaultExpirationPolicy(),
	}

	req.Amount = MustAmount(301)
	_, err := CancelUsage(req, UUIDGenerator{}, testNow)
	var exceeded *CancelAmountExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(300), exceeded.Cancelable.Int64())

	req.Amount = MustAmount(10)
	req.OrderID = "Y"
	_, err = CancelUsage(req, UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	req.OrderID = "X"
	req.Amount = Zero
	_, err = CancelUsage(req, UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	req.Amount = MustAmount(300)
	req.Entries = append(req.Entries, NewUseCancelEntry(uuid.New(), a.ID, MustAmount(300), "X", testNow))
	_, err = CancelUsage(req, UUIDGenerator{}, testNow)
	assert.ErrorIs(t, err, ErrCancelAmountExceeded)
}

func TestCancelOrderLongestExpiry(t *testing.T) {
	member := uuid.New()
	soon, useSoon := usedLot(t, lot(member, EarnTypeSystem, 100, time.Hour, 0), 100, "X")
	late, useLate := usedLot(t, lot(member, EarnTypeSystem, 100, 24*time.Hour, 0), 100, "X")

	order, err := ParseCancelOrder(" LONGEST_EXPIRY ")
	require.NoError(t, err)

	res, err := CancelUsage(UsageCancelRequest{
		OrderID:    "X",
		Amount:     MustAmount(50),
		Ledgers:    []Ledger{soon, late},
		Entries:    []Entry{useSoon, useLate},
		Expiration: DefaultExpirationPolicy(),
		Order:      order,
	}, UUIDGenerator{}, testNow)
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.Equal(t, late.ID, res.Restored[0].ID)

	_, err = ParseCancelOrder("random")
	assert.Error(t, err)
}
