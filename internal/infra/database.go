package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/pointledger/internal/logging"
)

const (
	defaultPoolMaxConns        = 20
	defaultPoolHealthCheck     = 30 * time.Second
	defaultPoolConnectDeadline = 5 * time.Second
)

// NewPostgresPool configures and returns a PostgreSQL connection pool. The
// connection is tagged with the service name so point transactions can be
// told apart in pg_stat_activity. Settings given in the URL win.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := postgresConfig(url)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultPoolConnectDeadline)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

func postgresConfig(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = logging.ServiceName
	}
	if !strings.Contains(url, "pool_max_conns") {
		cfg.MaxConns = defaultPoolMaxConns
	}
	cfg.HealthCheckPeriod = defaultPoolHealthCheck
	return cfg, nil
}
