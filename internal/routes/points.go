package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pointledger/internal/point"
)

// RegisterPointRoutes wires the member point endpoints. mutate runs in front
// of every state-changing route.
func RegisterPointRoutes(r fiber.Router, h *point.Handler, mutate ...fiber.Handler) {
	group := r.Group("/members/:memberId/points")
	group.Get("/balance", h.Balance)
	group.Get("/ledgers", h.Ledgers)

	group.Post("/earn", chain(mutate, h.Earn)...)
	group.Post("/earn/:ledgerId/cancel", chain(mutate, h.CancelEarn)...)
	group.Post("/use", chain(mutate, h.Use)...)
	group.Post("/use/cancel", chain(mutate, h.CancelUse)...)
}

func chain(before []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(before)+1)
	out = append(out, before...)
	return append(out, h)
}
