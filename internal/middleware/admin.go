package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKey admits requests whose X-Admin-Key header matches the bcrypt hash.
func AdminKey(hash string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Get(adminKeyHeader))
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing admin key")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			logger.Warn("admin key rejected", slog.String("path", c.Path()), slog.String("ip", c.IP()))
			return fiber.NewError(http.StatusUnauthorized, "invalid admin key")
		}
		return c.Next()
	}
}

// AdminRateLimit caps admin calls per client IP per minute using a Redis
// counter. It fails open when Redis is absent or erroring.
func AdminRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := "rl:admin:" + c.IP()
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many admin requests, try again later")
		}
		return c.Next()
	}
}
