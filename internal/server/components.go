package server

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/pointledger/internal/clock"
	"github.com/congo-pay/pointledger/internal/config"
	"github.com/congo-pay/pointledger/internal/eventsource"
	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/notification"
	"github.com/congo-pay/pointledger/internal/point"
	"github.com/congo-pay/pointledger/internal/policy"
	"github.com/congo-pay/pointledger/internal/reconcile"
)

// Components is the wired point stack shared by the API and the CLI.
type Components struct {
	Points     point.API
	Locks      *lock.Controller
	LockAdmin  *lock.Admin
	Policies   *policy.CachedSource
	Publisher  notification.Publisher
	Reconciler *reconcile.Job
}

// Build wires every component from configuration. reg may be nil, in which
// case metrics are collected but not exported.
func Build(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, reg prometheus.Registerer, logger *slog.Logger) (*Components, error) {
	cancelOrder, err := point.ParseCancelOrder(cfg.CancelOrder)
	if err != nil {
		return nil, fmt.Errorf("CANCEL_ORDER: %w", err)
	}

	var base policy.Loader = policy.Static(policy.Defaults())
	if cfg.Policy.File != "" {
		if _, err := policy.LoadFile(cfg.Policy.File); err != nil {
			return nil, err
		}
		base = policy.FileLoader{Path: cfg.Policy.File}
	}
	var loader policy.Loader = base
	if db != nil {
		loader = policy.NewPostgresLoader(db, base)
	}
	policies := policy.NewCachedSource(loader, cache, cfg.Policy.CacheTTL, logger)

	var lockClient lock.Client
	if cache != nil {
		lockClient = lock.NewRedisClient(cache)
	} else {
		logger.Warn("redis not configured, member locks are process local")
		lockClient = lock.NewMemoryClient()
	}
	opts := lock.Options{
		Wait:              cfg.Lock.Wait,
		Lease:             cfg.Lock.Lease,
		RetryDelays:       cfg.Lock.RetryDelays,
		HoldWarnThreshold: cfg.Lock.HoldWarn,
	}
	controller := lock.NewController(lockClient, opts, lock.NewMetrics(reg), logger)

	publishers := notification.Multi{notification.NewLoggerPublisher(logger)}
	if cache != nil {
		publishers = append(publishers, notification.NewRedisPublisher(cache, cfg.EventChannel))
	}

	c := &Components{
		Locks:     controller,
		LockAdmin: lock.NewAdmin(lockClient, logger),
		Policies:  policies,
		Publisher: publishers,
	}

	switch {
	case db == nil:
		logger.Warn("database not configured, using in-memory point storage")
		repo := point.NewMemoryRepository()
		c.Points = point.NewService(point.Deps{
			Repo: repo, Policy: policies, Locker: controller, Publisher: publishers,
			CancelOrder: cancelOrder, Logger: logger,
		})
		c.Reconciler = reconcile.NewJob(reconcile.NewMemoryReader(repo), reconcile.NewMemoryWriter(),
			reconcileOptions(cfg), clock.System{}, reconcile.NewMetrics(reg), logger)
		return c, nil
	case cfg.EventSourced():
		store := eventsource.NewPostgresStore(db)
		c.Points = eventsource.NewService(eventsource.Deps{
			Repo:   eventsource.NewRepository(store, int64(cfg.Persistence.SnapshotInterval), logger),
			Policy: policies, Locker: controller, Publisher: publishers,
			CancelOrder: cancelOrder, Logger: logger,
		})
	default:
		c.Points = point.NewService(point.Deps{
			Repo: point.NewPostgresRepository(db), Policy: policies, Locker: controller, Publisher: publishers,
			CancelOrder: cancelOrder, Logger: logger,
		})
	}

	// Reconciliation checks the ledger tables, which the event-sourced mode
	// does not write.
	if !cfg.EventSourced() {
		c.Reconciler = reconcile.NewJob(reconcile.NewPostgresReader(db), reconcile.NewPostgresWriter(db),
			reconcileOptions(cfg), clock.System{}, reconcile.NewMetrics(reg), logger)
	}
	return c, nil
}

func reconcileOptions(cfg config.Config) reconcile.Options {
	return reconcile.Options{
		PageSize:  cfg.Reconcile.PageSize,
		ChunkSize: cfg.Reconcile.ChunkSize,
		SkipLimit: cfg.Reconcile.SkipLimit,
	}
}
