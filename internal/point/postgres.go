package point

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerColumns = `id, member_id, earned_amount, available_amount, used_amount, earn_type,
        source_ledger_id, expired_at, canceled, earned_at`

const entryColumns = `id, ledger_id, entry_type, amount, COALESCE(order_id, ''), seed, created_at`

const prefixedEntryColumns = `e.id, e.ledger_id, e.entry_type, e.amount, COALESCE(e.order_id, ''), e.seed, e.created_at`

// PostgresRepository persists ledgers and entries in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByID loads a single ledger.
func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (Ledger, error) {
	row := r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM point_ledger WHERE id = $1`, id)
	l, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, fmt.Errorf("%w: %s", ErrLedgerNotFound, id)
		}
		return Ledger{}, err
	}
	return l, nil
}

// FindByIDs loads every ledger in ids that exists.
func (r *PostgresRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Ledger, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryLedgers(ctx, `SELECT `+ledgerColumns+` FROM point_ledger WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
}

// FindAvailable returns the member's drawable lots in consumption order.
func (r *PostgresRepository) FindAvailable(ctx context.Context, memberID uuid.UUID, now time.Time) ([]Ledger, error) {
	const query = `SELECT ` + ledgerColumns + `
        FROM point_ledger
        WHERE member_id = $1 AND canceled = false AND available_amount > 0 AND expired_at > $2
        ORDER BY (earn_type = 'MANUAL') DESC, expired_at ASC, earned_at ASC, id ASC`
	return r.queryLedgers(ctx, query, memberID, now.UTC())
}

// FindByMember returns every lot the member ever held, oldest first.
func (r *PostgresRepository) FindByMember(ctx context.Context, memberID uuid.UUID) ([]Ledger, error) {
	return r.queryLedgers(ctx, `SELECT `+ledgerColumns+` FROM point_ledger WHERE member_id = $1 ORDER BY earned_at ASC, id ASC`, memberID)
}

// FindByLedgerID returns the ledger's entries in creation order.
func (r *PostgresRepository) FindByLedgerID(ctx context.Context, ledgerID uuid.UUID) ([]Entry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM point_entry WHERE ledger_id = $1 ORDER BY created_at ASC, id ASC`, ledgerID)
}

// FindByLedgerIDs returns the entries of all ledgers in ids.
func (r *PostgresRepository) FindByLedgerIDs(ctx context.Context, ledgerIDs []uuid.UUID) ([]Entry, error) {
	if len(ledgerIDs) == 0 {
		return nil, nil
	}
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM point_entry WHERE ledger_id = ANY($1::uuid[]) ORDER BY created_at ASC, id ASC`, uuidStrings(ledgerIDs))
}

// FindByOrderID returns the member's USE and USE_CANCEL entries of an order.
func (r *PostgresRepository) FindByOrderID(ctx context.Context, memberID uuid.UUID, orderID string) ([]Entry, error) {
	const query = `SELECT ` + prefixedEntryColumns + `
        FROM point_entry e
        JOIN point_ledger l ON l.id = e.ledger_id
        WHERE e.order_id = $1 AND l.member_id = $2
        ORDER BY e.created_at ASC, e.id ASC`
	return r.queryEntries(ctx, query, orderID, memberID)
}

// FindLedgerIDsByOrderID returns the member's ledgers that took part in an order.
func (r *PostgresRepository) FindLedgerIDsByOrderID(ctx context.Context, memberID uuid.UUID, orderID string) ([]uuid.UUID, error) {
	const query = `SELECT DISTINCT e.ledger_id
        FROM point_entry e
        JOIN point_ledger l ON l.id = e.ledger_id
        WHERE e.order_id = $1 AND l.member_id = $2`
	rows, err := r.db.Query(ctx, query, orderID, memberID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
}

// Save writes the changeset in one transaction. Canceled ledgers are frozen:
// the upsert leaves them untouched and the whole changeset is rolled back.
func (r *PostgresRepository) Save(ctx context.Context, cs Changeset) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	if cs.IsEmpty() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	const upsertLedger = `
        INSERT INTO point_ledger (` + ledgerColumns + `, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
        ON CONFLICT (id) DO UPDATE SET
            available_amount = EXCLUDED.available_amount,
            used_amount = EXCLUDED.used_amount,
            canceled = EXCLUDED.canceled,
            updated_at = now()
        WHERE point_ledger.canceled = false`

	for _, l := range cs.Ledgers {
		tag, err := tx.Exec(ctx, upsertLedger,
			l.ID, l.MemberID, l.EarnedAmount.Int64(), l.AvailableAmount.Int64(), l.UsedAmount.Int64(),
			string(l.EarnType), l.SourceLedgerID, l.ExpiredAt.UTC(), l.Canceled, l.EarnedAt.UTC())
		if err != nil {
			return fmt.Errorf("save ledger %s: %w", l.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrLedgerAlreadyCanceled, l.ID)
		}
	}

	const insertEntry = `INSERT INTO point_entry (id, ledger_id, entry_type, amount, order_id, seed, created_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`
	for _, e := range cs.Entries {
		if _, err := tx.Exec(ctx, insertEntry, e.ID, e.LedgerID, string(e.Type), e.Amount, e.OrderID, e.Seed, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("save entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) queryLedgers(ctx context.Context, query string, args ...any) ([]Ledger, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Ledger, error) {
		return scanLedger(row)
	})
}

func (r *PostgresRepository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		return scanEntry(row)
	})
}

func scanLedger(row pgx.Row) (Ledger, error) {
	var (
		l                       Ledger
		earned, available, used int64
		earnType                string
	)
	if err := row.Scan(&l.ID, &l.MemberID, &earned, &available, &used, &earnType,
		&l.SourceLedgerID, &l.ExpiredAt, &l.Canceled, &l.EarnedAt); err != nil {
		return Ledger{}, err
	}

	var err error
	if l.EarnedAmount, err = NewAmount(earned); err != nil {
		return Ledger{}, fmt.Errorf("ledger %s earned: %w", l.ID, err)
	}
	if l.AvailableAmount, err = NewAmount(available); err != nil {
		return Ledger{}, fmt.Errorf("ledger %s available: %w", l.ID, err)
	}
	if l.UsedAmount, err = NewAmount(used); err != nil {
		return Ledger{}, fmt.Errorf("ledger %s used: %w", l.ID, err)
	}
	if l.EarnType, err = ParseEarnType(earnType); err != nil {
		return Ledger{}, fmt.Errorf("ledger %s: %w", l.ID, err)
	}
	l.ExpiredAt = l.ExpiredAt.UTC()
	l.EarnedAt = l.EarnedAt.UTC()
	return l, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		entryType string
	)
	if err := row.Scan(&e.ID, &e.LedgerID, &entryType, &e.Amount, &e.OrderID, &e.Seed, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	var err error
	if e.Type, err = ParseEntryType(entryType); err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
