package lock

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handler exposes the lock admin operations over HTTP.
type Handler struct {
	admin *Admin
}

// NewHandler builds a lock admin HTTP handler.
func NewHandler(admin *Admin) *Handler {
	return &Handler{admin: admin}
}

type infoResponse struct {
	Key              string    `json:"key"`
	Locked           bool      `json:"locked"`
	HoldCount        int       `json:"holdCount"`
	RemainingLeaseMs int64     `json:"remainingLeaseMs"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// Inspect reports the state of a member's lock.
func (h *Handler) Inspect(c *fiber.Ctx) error {
	memberID, err := uuid.Parse(c.Params("memberId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid member id")
	}
	info, err := h.admin.Inspect(c.UserContext(), memberID)
	if err != nil {
		return err
	}
	remaining := int64(-1)
	if info.RemainingLease >= 0 {
		remaining = info.RemainingLease.Milliseconds()
	}
	return c.Status(http.StatusOK).JSON(infoResponse{
		Key:              info.Key,
		Locked:           info.Locked,
		HoldCount:        info.HoldCount,
		RemainingLeaseMs: remaining,
		CheckedAt:        info.CheckedAt,
	})
}

// ForceRelease drops a member's lock.
func (h *Handler) ForceRelease(c *fiber.Ctx) error {
	memberID, err := uuid.Parse(c.Params("memberId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid member id")
	}
	released, err := h.admin.ForceRelease(c.UserContext(), memberID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"key":      MemberKey(memberID),
		"released": released,
	})
}
