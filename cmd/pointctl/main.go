// Command pointctl runs operator tasks against the point ledger: schema
// migrations, reconciliation, lock break-glass and policy cache control.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/congo-pay/pointledger/internal/config"
	"github.com/congo-pay/pointledger/internal/infra"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/server"
)

var rootCmd = &cobra.Command{
	Use:           "pointctl",
	Short:         "Operate the member point ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "pointctl: %v\n", err)
		os.Exit(1)
	}
}

// env holds the connections a subcommand needs.
type env struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *pgxpool.Pool
	cache      *redis.Client
	components *server.Components
}

func (e *env) close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("close redis", "error", err)
		}
	}
	if e.db != nil {
		e.db.Close()
	}
}

// connect loads configuration and opens Postgres, plus Redis when withCache
// is set. The caller must close the result.
func connect(ctx context.Context, withCache bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := &env{cfg: cfg, logger: logging.NewWriter(os.Stderr, cfg.LogLevel)}

	if e.db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if withCache {
		if e.cache, err = infra.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			e.close()
			return nil, err
		}
	}
	if e.components, err = server.Build(cfg, e.db, e.cache, nil, e.logger); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}
