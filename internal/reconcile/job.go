package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/pointledger/internal/clock"
)

var (
	// ErrInvalidRow marks a row the checker cannot judge. Such rows are skipped.
	ErrInvalidRow = errors.New("invalid reconciliation row")
	// ErrSkipLimitExceeded aborts a run that skipped more rows than allowed.
	ErrSkipLimitExceeded = errors.New("reconciliation skip limit exceeded")
)

// Reader pages through ledgers in ascending id order, starting after the
// given id. uuid.Nil starts from the beginning.
type Reader interface {
	ReadPage(ctx context.Context, after uuid.UUID, limit int) ([]Row, error)
}

// Writer persists results atomically, upserting by ledger id.
type Writer interface {
	Write(ctx context.Context, results []Result) error
}

// Options sizes a run.
type Options struct {
	PageSize  int
	ChunkSize int
	SkipLimit int
}

// DefaultOptions returns the production sizing.
func DefaultOptions() Options {
	return Options{PageSize: 1000, ChunkSize: 1000, SkipLimit: 100}
}

// Stats counts what a run did. Written counts persisted inconsistent
// results; consistent ledgers are never written.
type Stats struct {
	Read         int
	Inconsistent int
	Written      int
	Skipped      int
	Committed    int
	RolledBack   int
	Duration     time.Duration
}

// Job recomputes every ledger from its entries and records mismatches. It
// takes no member locks; a ledger mutated mid-run is simply re-checked on
// the next run, and writes are idempotent.
type Job struct {
	reader  Reader
	writer  Writer
	opts    Options
	clock   clock.Clock
	metrics *Metrics
	logger  *slog.Logger
}

// NewJob builds a reconciliation job. Non-positive sizes take the defaults;
// a negative SkipLimit is treated as zero.
func NewJob(reader Reader, writer Writer, opts Options, clk clock.Clock, metrics *Metrics, logger *slog.Logger) *Job {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.SkipLimit < 0 {
		opts.SkipLimit = 0
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Job{reader: reader, writer: writer, opts: opts, clock: clk, metrics: metrics, logger: logger}
}

type run struct {
	*Job
	stats   Stats
	pending []Result
	inChunk int
}

// Run walks the whole dataset once. A reader failure aborts the run; per-row
// failures are skipped up to the skip limit.
func (j *Job) Run(ctx context.Context) (Stats, error) {
	started := time.Now()
	r := &run{Job: j}
	j.logger.Info("reconciliation started",
		"page_size", j.opts.PageSize,
		"chunk_size", j.opts.ChunkSize,
		"skip_limit", j.opts.SkipLimit,
	)

	err := r.walk(ctx)
	if err == nil {
		err = r.flush(ctx)
	}
	r.stats.Duration = time.Since(started)
	j.metrics.observeRun(r.stats)

	attrs := []any{
		"read", r.stats.Read,
		"written", r.stats.Written,
		"skipped", r.stats.Skipped,
		"commits", r.stats.Committed,
		"rollbacks", r.stats.RolledBack,
		"inconsistent", r.stats.Inconsistent,
		"duration_ms", r.stats.Duration.Milliseconds(),
	}
	if err != nil {
		j.logger.Error("reconciliation failed", append(attrs, "error", err)...)
		return r.stats, err
	}
	j.logger.Info("reconciliation completed", attrs...)
	return r.stats, nil
}

func (r *run) walk(ctx context.Context) error {
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := r.reader.ReadPage(ctx, after, r.opts.PageSize)
		if err != nil {
			return fmt.Errorf("read page after %s: %w", after, err)
		}

		now := r.clock.Now()
		for _, row := range rows {
			r.stats.Read++
			after = row.LedgerID
			if err := r.process(row, now); err != nil {
				return err
			}
			r.inChunk++
			if r.inChunk >= r.opts.ChunkSize {
				if err := r.flush(ctx); err != nil {
					return err
				}
			}
		}

		if len(rows) < r.opts.PageSize {
			return nil
		}
	}
}

func (r *run) process(row Row, now time.Time) error {
	res, inconsistent, err := Check(row, now)
	if err != nil {
		return r.skip(row.LedgerID, err)
	}
	if !inconsistent {
		return nil
	}
	r.stats.Inconsistent++
	r.logger.Warn("ledger inconsistency detected",
		"ledger_id", res.LedgerID.String(),
		"member_id", res.MemberID.String(),
		"type", string(res.Kind),
		"details", res.Details,
	)
	r.pending = append(r.pending, res)
	return nil
}

// flush ends the current chunk. A failed chunk write is rolled back and its
// results are retried one by one so a single bad item cannot sink the rest.
func (r *run) flush(ctx context.Context) error {
	if r.inChunk == 0 && len(r.pending) == 0 {
		return nil
	}
	pending := r.pending
	r.pending = nil
	r.inChunk = 0

	if len(pending) == 0 {
		r.stats.Committed++
		return nil
	}
	err := r.writer.Write(ctx, pending)
	if err == nil {
		r.stats.Written += len(pending)
		r.stats.Committed++
		return nil
	}

	r.stats.RolledBack++
	r.logger.Warn("chunk write failed, retrying items individually", "items", len(pending), "error", err)
	for _, res := range pending {
		if err := r.writer.Write(ctx, []Result{res}); err != nil {
			if serr := r.skip(res.LedgerID, err); serr != nil {
				return serr
			}
			continue
		}
		r.stats.Written++
		r.stats.Committed++
	}
	return nil
}

func (r *run) skip(ledgerID uuid.UUID, cause error) error {
	r.stats.Skipped++
	r.logger.Warn("reconciliation item skipped", "ledger_id", ledgerID.String(), "error", cause)
	if r.stats.Skipped > r.opts.SkipLimit {
		return fmt.Errorf("%w: %d > %d, last: %w", ErrSkipLimitExceeded, r.stats.Skipped, r.opts.SkipLimit, cause)
	}
	return nil
}
