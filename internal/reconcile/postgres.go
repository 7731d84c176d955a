package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReader aggregates point_entry per point_ledger row in SQL.
type PostgresReader struct {
	db *pgxpool.Pool
}

// NewPostgresReader constructs a keyset-paginated reader.
func NewPostgresReader(db *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{db: db}
}

// ReadPage returns up to limit rows with an id greater than after.
func (r *PostgresReader) ReadPage(ctx context.Context, after uuid.UUID, limit int) ([]Row, error) {
	const query = `
        SELECT l.id, l.member_id, l.earned_amount, l.available_amount, l.used_amount, l.canceled,
            COALESCE(SUM(CASE WHEN e.entry_type = 'EARN' THEN e.amount END), 0),
            COALESCE(SUM(CASE WHEN e.entry_type = 'EARN_CANCEL' THEN e.amount END), 0),
            COALESCE(SUM(CASE WHEN e.entry_type = 'USE' THEN e.amount END), 0),
            COALESCE(SUM(CASE WHEN e.entry_type = 'USE_CANCEL' THEN e.amount END), 0),
            COALESCE(SUM(CASE WHEN e.entry_type = 'USE_CANCEL'
                AND l.source_ledger_id IS NOT NULL
                AND e.seed THEN e.amount END), 0)
        FROM point_ledger l
        LEFT JOIN point_entry e ON e.ledger_id = l.id
        WHERE l.id > $1
        GROUP BY l.id
        ORDER BY l.id ASC
        LIMIT $2`

	rows, err := r.db.Query(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Row, error) {
		var out Row
		err := row.Scan(&out.LedgerID, &out.MemberID, &out.EarnedAmount, &out.AvailableAmount, &out.UsedAmount, &out.Canceled,
			&out.EarnSum, &out.EarnCancelSum, &out.UseSum, &out.UseCancelSum, &out.SeedSum)
		return out, err
	})
}

// PostgresWriter upserts results into consistency_check_result.
type PostgresWriter struct {
	db *pgxpool.Pool
}

// NewPostgresWriter constructs a result writer.
func NewPostgresWriter(db *pgxpool.Pool) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// Write stores every result in one transaction.
func (w *PostgresWriter) Write(ctx context.Context, results []Result) error {
	tx, err := w.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	const upsert = `
        INSERT INTO consistency_check_result (ledger_id, member_id, inconsistency_type, details, detected_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (ledger_id) DO UPDATE SET
            inconsistency_type = EXCLUDED.inconsistency_type,
            details = EXCLUDED.details,
            detected_at = EXCLUDED.detected_at`
	for _, res := range results {
		if _, err := tx.Exec(ctx, upsert, res.LedgerID, res.MemberID, string(res.Kind), res.Details, res.DetectedAt.UTC()); err != nil {
			return fmt.Errorf("upsert result %s: %w", res.LedgerID, err)
		}
	}
	return tx.Commit(ctx)
}
