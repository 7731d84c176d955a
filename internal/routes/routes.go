package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/pointledger/internal/config"
	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/middleware"
	"github.com/congo-pay/pointledger/internal/point"
	"github.com/congo-pay/pointledger/internal/policy"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Points   point.API
	Locks    *lock.Admin
	Policies *policy.CachedSource
	Gatherer prometheus.Gatherer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Points == nil {
		return fmt.Errorf("point service is required")
	}
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":      "ok",
			"persistence": d.Cfg.Persistence.Mode,
			"request_id":  middleware.RequestIDFrom(c),
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	var mutate []fiber.Handler
	if d.Cache != nil {
		mutate = append(mutate, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterPointRoutes(api, point.NewHandler(d.Points), mutate...)

	if d.Cfg.Admin.KeyHash == "" {
		d.Logger.Info("admin routes disabled, ADMIN_KEY_HASH not set")
		return nil
	}
	admin := api.Group("/admin",
		middleware.AdminRateLimit(d.Cache, d.Cfg.Admin.RateLimit),
		middleware.AdminKey(d.Cfg.Admin.KeyHash, d.Logger),
	)
	if d.Locks != nil {
		RegisterLockRoutes(admin, lock.NewHandler(d.Locks))
	}
	if d.Policies != nil {
		RegisterPolicyRoutes(admin, d.Policies)
	}
	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
