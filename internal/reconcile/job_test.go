package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/pointledger/internal/clock"
	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/point"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type dataset struct {
	repo  *point.MemoryRepository
	svc   *point.Service
	clock *clock.FakeClock
}

func newDataset(t *testing.T) dataset {
	t.Helper()
	repo := point.NewMemoryRepository()
	fake := clock.NewFakeClock(testNow)
	svc := point.NewService(point.Deps{
		Repo:   repo,
		Policy: point.NewStaticPolicy(),
		Locker: lock.NewController(lock.NewMemoryClient(), lock.Options{Wait: time.Second}, nil, logging.Discard()),
		Clock:  fake,
	})
	return dataset{repo: repo, svc: svc, clock: fake}
}

// seed builds a history touching every entry type, recreate included.
func (d dataset) seed(t *testing.T) (member uuid.UUID, ledgers []point.Ledger) {
	t.Helper()
	ctx := context.Background()
	member = uuid.New()

	a, err := d.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 1000})
	require.NoError(t, err)
	d.clock.Advance(time.Minute)
	_, err = d.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 500})
	require.NoError(t, err)
	d.clock.Advance(time.Minute)
	c, err := d.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 70, EarnType: "MANUAL"})
	require.NoError(t, err)
	d.clock.Advance(time.Minute)
	_, err = d.svc.CancelEarn(ctx, point.CancelEarnInput{MemberID: member, LedgerID: c.Ledger.ID})
	require.NoError(t, err)
	d.clock.Advance(time.Minute)
	_, err = d.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 1200, OrderID: "X"})
	require.NoError(t, err)
	d.clock.Advance(time.Minute)
	point.ForceExpire(d.repo, a.Ledger.ID, d.clock.Now())
	_, err = d.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "X", Amount: 1100})
	require.NoError(t, err)

	ledgers, err = d.svc.Ledgers(ctx, member)
	require.NoError(t, err)
	require.Len(t, ledgers, 4)
	return member, ledgers
}

func newTestJob(d dataset, w Writer, opts Options) *Job {
	return NewJob(NewMemoryReader(d.repo), w, opts, clock.NewFakeClock(testNow), nil, logging.Discard())
}

func TestRunConsistentDatasetWritesNothing(t *testing.T) {
	d := newDataset(t)
	d.seed(t)
	w := NewMemoryWriter()

	stats, err := newTestJob(d, w, Options{PageSize: 3, ChunkSize: 2, SkipLimit: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Read)
	assert.Zero(t, stats.Inconsistent)
	assert.Zero(t, stats.Written)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, 2, stats.Committed)
	assert.Empty(t, w.Results())
}

func TestRunAcceptsUseCancelAtSeedInstant(t *testing.T) {
	d := newDataset(t)
	ctx := context.Background()
	member := uuid.New()

	earned, err := d.svc.Earn(ctx, point.EarnInput{MemberID: member, Amount: 100})
	require.NoError(t, err)
	_, err = d.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 100, OrderID: "X"})
	require.NoError(t, err)
	d.clock.Set(earned.Ledger.ExpiredAt)
	_, err = d.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "X", Amount: 100})
	require.NoError(t, err)
	_, err = d.svc.Use(ctx, point.UseInput{MemberID: member, Amount: 50, OrderID: "Y"})
	require.NoError(t, err)
	_, err = d.svc.CancelUse(ctx, point.CancelUseInput{MemberID: member, OrderID: "Y", Amount: 50})
	require.NoError(t, err)

	w := NewMemoryWriter()
	stats, err := newTestJob(d, w, DefaultOptions()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Read)
	assert.Zero(t, stats.Inconsistent)
	assert.Empty(t, w.Results())
}

func TestRunFlagsTamperedLedgers(t *testing.T) {
	d := newDataset(t)
	_, ledgers := d.seed(t)

	var live []point.Ledger
	for _, l := range ledgers {
		if !l.Canceled && !l.IsRecreated() && l.AvailableAmount.Int64() > 0 {
			live = append(live, l)
		}
	}
	require.Len(t, live, 1)
	onlyAvailable := live[0]

	var recreated point.Ledger
	for _, l := range ledgers {
		if l.IsRecreated() {
			recreated = l
		}
	}
	require.True(t, recreated.IsRecreated())

	point.Tamper(d.repo, onlyAvailable.ID, func(l *point.Ledger) {
		l.AvailableAmount = point.MustAmount(l.AvailableAmount.Int64() + 5)
	})
	point.Tamper(d.repo, recreated.ID, func(l *point.Ledger) {
		l.UsedAmount = point.MustAmount(3)
		l.EarnedAmount = point.MustAmount(999)
	})

	w := NewMemoryWriter()
	stats, err := newTestJob(d, w, DefaultOptions()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inconsistent)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Committed)

	byID := map[uuid.UUID]Result{}
	for _, res := range w.Results() {
		byID[res.LedgerID] = res
	}

	res := byID[onlyAvailable.ID]
	assert.Equal(t, KindAvailableMismatch, res.Kind)
	assert.Equal(t, "available: stored=405, expected=400", res.Details)
	assert.Equal(t, testNow, res.DetectedAt)

	res = byID[recreated.ID]
	assert.Equal(t, KindMultiple, res.Kind)
	assert.Equal(t, "used: stored=3, expected=0; earned: stored=999, expected=1000", res.Details)
}

func TestRunIsIdempotent(t *testing.T) {
	d := newDataset(t)
	_, ledgers := d.seed(t)
	point.Tamper(d.repo, ledgers[0].ID, func(l *point.Ledger) { l.UsedAmount = point.MustAmount(1) })

	w := NewMemoryWriter()
	job := newTestJob(d, w, DefaultOptions())
	_, err := job.Run(context.Background())
	require.NoError(t, err)
	_, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, w.Results(), 1)
}

func TestRunFallsBackToItemWritesOnChunkFailure(t *testing.T) {
	d := newDataset(t)
	_, ledgers := d.seed(t)
	for _, l := range ledgers {
		point.Tamper(d.repo, l.ID, func(l *point.Ledger) { l.UsedAmount = point.MustAmount(l.UsedAmount.Int64() + 1) })
	}
	poisoned := ledgers[1].ID

	w := NewMemoryWriter()
	w.Fail = func(res Result) error {
		if res.LedgerID == poisoned {
			return errors.New("constraint violated")
		}
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	job := NewJob(NewMemoryReader(d.repo), w, Options{ChunkSize: 10, SkipLimit: 1}, clock.NewFakeClock(testNow), metrics, logging.Discard())
	stats, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Inconsistent)
	assert.Equal(t, 1, stats.RolledBack)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.Written)
	assert.Equal(t, 3, stats.Committed)
	assert.Len(t, w.Results(), 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.chunks.WithLabelValues("rollback")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.items.WithLabelValues("written")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.inconsistent))
}

type scriptedReader struct {
	pages [][]Row
	err   error
	calls int
}

func (r *scriptedReader) ReadPage(_ context.Context, _ uuid.UUID, _ int) ([]Row, error) {
	defer func() { r.calls++ }()
	if r.calls < len(r.pages) {
		return r.pages[r.calls], nil
	}
	return nil, r.err
}

func TestRunSkipsInvalidRowsUpToLimit(t *testing.T) {
	bad := func() Row { return Row{LedgerID: uuid.New(), AvailableAmount: -1} }
	good := Row{LedgerID: uuid.New(), EarnedAmount: 10, AvailableAmount: 10, EarnSum: 10}

	reader := &scriptedReader{pages: [][]Row{{bad(), good, bad()}}}
	stats, err := NewJob(reader, NewMemoryWriter(), Options{PageSize: 5, SkipLimit: 2}, nil, nil, logging.Discard()).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Read)
	assert.Equal(t, 2, stats.Skipped)

	reader = &scriptedReader{pages: [][]Row{{bad(), bad(), bad()}}}
	stats, err = NewJob(reader, NewMemoryWriter(), Options{PageSize: 5, SkipLimit: 2}, nil, nil, logging.Discard()).
		Run(context.Background())
	require.ErrorIs(t, err, ErrSkipLimitExceeded)
	assert.ErrorIs(t, err, ErrInvalidRow)
	assert.Equal(t, 3, stats.Skipped)
}

func TestRunAbortsOnReaderFailure(t *testing.T) {
	page := make([]Row, 2)
	for i := range page {
		page[i] = Row{LedgerID: uuid.New()}
	}
	boom := fmt.Errorf("connection reset")
	reader := &scriptedReader{pages: [][]Row{page}, err: boom}

	stats, err := NewJob(reader, NewMemoryWriter(), Options{PageSize: 2}, nil, nil, logging.Discard()).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, stats.Read)
	assert.Equal(t, 2, reader.calls)
}

func TestCheckCanceledLedgerKeepsEarned(t *testing.T) {
	row := Row{
		LedgerID:      uuid.New(),
		EarnedAmount:  500,
		Canceled:      true,
		EarnSum:       500,
		EarnCancelSum: -500,
	}
	_, inconsistent, err := Check(row, testNow)
	require.NoError(t, err)
	assert.False(t, inconsistent)

	row.AvailableAmount = 500
	res, inconsistent, err := Check(row, testNow)
	require.NoError(t, err)
	assert.True(t, inconsistent)
	assert.Equal(t, KindAvailableMismatch, res.Kind)
	assert.Equal(t, "available: stored=500, expected=0", res.Details)
}
