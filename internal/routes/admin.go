package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/policy"
)

// RegisterLockRoutes wires lock inspection and force-release.
func RegisterLockRoutes(r fiber.Router, h *lock.Handler) {
	r.Get("/locks/:memberId", h.Inspect)
	r.Delete("/locks/:memberId", h.ForceRelease)
}

// RegisterPolicyRoutes exposes the effective policies and a cache reset.
func RegisterPolicyRoutes(r fiber.Router, policies *policy.CachedSource) {
	r.Get("/policies", func(c *fiber.Ctx) error {
		p, err := policies.Get(c.UserContext())
		if err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(p)
	})
	r.Post("/policies/invalidate", func(c *fiber.Ctx) error {
		if err := policies.Invalidate(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})
}
