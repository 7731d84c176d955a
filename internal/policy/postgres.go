package policy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLoader reads key/value rows from point_policy over a base set of
// policies, usually the defaults or the policy file.
type PostgresLoader struct {
	db   *pgxpool.Pool
	base Loader
}

// NewPostgresLoader builds a loader. A nil base means the defaults.
func NewPostgresLoader(db *pgxpool.Pool, base Loader) *PostgresLoader {
	if base == nil {
		base = Static(Defaults())
	}
	return &PostgresLoader{db: db, base: base}
}

func (l *PostgresLoader) Load(ctx context.Context) (Policies, error) {
	base, err := l.base.Load(ctx)
	if err != nil {
		return Policies{}, err
	}

	rows, err := l.db.Query(ctx, `SELECT policy_key, policy_value FROM point_policy`)
	if err != nil {
		return Policies{}, fmt.Errorf("query point_policy: %w", err)
	}
	type kv struct {
		key   string
		value int64
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (kv, error) {
		var p kv
		err := row.Scan(&p.key, &p.value)
		return p, err
	})
	if err != nil {
		return Policies{}, fmt.Errorf("scan point_policy: %w", err)
	}

	values := base.values()
	for _, p := range pairs {
		values[p.key] = p.value
	}
	return FromValues(values)
}
