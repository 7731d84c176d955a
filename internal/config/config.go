package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "PointLedger"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultLockWait         = 3 * time.Second
	defaultLockLease        = 5 * time.Minute
	defaultLockHoldWarn     = 3 * time.Second
	defaultLockRetryDelays  = "0s,200ms,500ms,1s"
	defaultSnapshotInterval = 100
	defaultPolicyCacheTTL   = 10 * time.Minute
	defaultEventChannel     = "point-events"
	defaultReconcilePage    = 1000
	defaultReconcileChunk   = 1000
	defaultReconcileSkip    = 100
	defaultAdminRateLimit   = 10

	// PersistenceDirect mutates ledger rows in place.
	PersistenceDirect = "direct"
	// PersistenceEventSourced appends to the per-member event log.
	PersistenceEventSourced = "eventsourced"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	Lock        LockConfig
	Persistence PersistenceConfig
	Policy      PolicyConfig
	Reconcile   ReconcileConfig
	Admin       AdminConfig

	// CancelOrder selects which ledgers a usage cancellation reinstates first.
	CancelOrder  string
	EventChannel string
}

// LockConfig tunes the per-member lock controller.
type LockConfig struct {
	Wait        time.Duration
	Lease       time.Duration
	RetryDelays []time.Duration
	HoldWarn    time.Duration
}

// PersistenceConfig picks the persistence strategy.
type PersistenceConfig struct {
	Mode             string
	SnapshotInterval int
}

// PolicyConfig locates the optional policy file and sizes its cache.
type PolicyConfig struct {
	File     string
	CacheTTL time.Duration
}

// ReconcileConfig sizes the reconciliation job.
type ReconcileConfig struct {
	PageSize  int
	ChunkSize int
	SkipLimit int
}

// AdminConfig guards the lock admin routes. An empty KeyHash disables them.
type AdminConfig struct {
	KeyHash   string
	RateLimit int
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		CancelOrder:    strings.ToLower(getEnv("CANCEL_ORDER", "consumption")),
		EventChannel:   getEnv("EVENT_CHANNEL", defaultEventChannel),
		Persistence:    PersistenceConfig{Mode: strings.ToLower(getEnv("PERSISTENCE_MODE", PersistenceDirect))},
		Policy:         PolicyConfig{File: os.Getenv("POLICY_FILE")},
		Admin:          AdminConfig{KeyHash: os.Getenv("ADMIN_KEY_HASH")},
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.Lock.Wait, err = getDuration("LOCK_WAIT", defaultLockWait); err != nil {
		return Config{}, err
	}
	if cfg.Lock.Lease, err = getDuration("LOCK_LEASE", defaultLockLease); err != nil {
		return Config{}, err
	}
	if cfg.Lock.HoldWarn, err = getDuration("LOCK_HOLD_WARN", defaultLockHoldWarn); err != nil {
		return Config{}, err
	}
	if cfg.Lock.RetryDelays, err = parseDurations("LOCK_RETRY_DELAYS", getEnv("LOCK_RETRY_DELAYS", defaultLockRetryDelays)); err != nil {
		return Config{}, err
	}
	if cfg.Policy.CacheTTL, err = getDuration("POLICY_CACHE_TTL", defaultPolicyCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.Persistence.SnapshotInterval, err = getInt("SNAPSHOT_INTERVAL", defaultSnapshotInterval); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile.PageSize, err = getInt("RECONCILE_PAGE_SIZE", defaultReconcilePage); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile.ChunkSize, err = getInt("RECONCILE_CHUNK_SIZE", defaultReconcileChunk); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile.SkipLimit, err = getInt("RECONCILE_SKIP_LIMIT", defaultReconcileSkip); err != nil {
		return Config{}, err
	}
	if cfg.Admin.RateLimit, err = getInt("ADMIN_RATE_LIMIT", defaultAdminRateLimit); err != nil {
		return Config{}, err
	}

	switch cfg.Persistence.Mode {
	case PersistenceDirect, PersistenceEventSourced:
	default:
		return Config{}, fmt.Errorf("invalid PERSISTENCE_MODE %q", cfg.Persistence.Mode)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// EventSourced reports whether the event log is the source of truth.
func (c Config) EventSourced() bool {
	return c.Persistence.Mode == PersistenceEventSourced
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration reads key+"_SECONDS" as whole seconds, else key as a Go duration.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func parseDurations(key, raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid %s: no delays", key)
	}
	return out, nil
}
