package point

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// API is the point operation set served over HTTP. Both the direct Service
// and the event-sourced service implement it.
type API interface {
	Earn(ctx context.Context, in EarnInput) (EarnResult, error)
	CancelEarn(ctx context.Context, in CancelEarnInput) (CancelEarnResult, error)
	Use(ctx context.Context, in UseInput) (UseResult, error)
	CancelUse(ctx context.Context, in CancelUseInput) (CancelUseResult, error)
	Balance(ctx context.Context, memberID uuid.UUID) (Balance, error)
	Ledgers(ctx context.Context, memberID uuid.UUID) ([]Ledger, error)
}

// Handler exposes point HTTP endpoints. Domain errors are returned unchanged
// for the application error handler to map onto status codes.
type Handler struct {
	service API
}

// NewHandler builds a point HTTP handler.
func NewHandler(service API) *Handler {
	return &Handler{service: service}
}

type earnRequest struct {
	Amount         int64  `json:"amount"`
	EarnType       string `json:"earnType"`
	ExpirationDays int    `json:"expirationDays"`
}

type useRequest struct {
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
}

type ledgerResponse struct {
	ID              string    `json:"id"`
	MemberID        string    `json:"memberId"`
	EarnedAmount    int64     `json:"earnedAmount"`
	AvailableAmount int64     `json:"availableAmount"`
	UsedAmount      int64     `json:"usedAmount"`
	EarnType        string    `json:"earnType"`
	SourceLedgerID  string    `json:"sourceLedgerId,omitempty"`
	ExpiredAt       time.Time `json:"expiredAt"`
	Canceled        bool      `json:"canceled"`
	EarnedAt        time.Time `json:"earnedAt"`
}

func newLedgerResponse(l Ledger) ledgerResponse {
	resp := ledgerResponse{
		ID:              l.ID.String(),
		MemberID:        l.MemberID.String(),
		EarnedAmount:    l.EarnedAmount.Int64(),
		AvailableAmount: l.AvailableAmount.Int64(),
		UsedAmount:      l.UsedAmount.Int64(),
		EarnType:        string(l.EarnType),
		ExpiredAt:       l.ExpiredAt,
		Canceled:        l.Canceled,
		EarnedAt:        l.EarnedAt,
	}
	if l.SourceLedgerID.Valid {
		resp.SourceLedgerID = l.SourceLedgerID.UUID.String()
	}
	return resp
}

func newLedgerResponses(ledgers []Ledger) []ledgerResponse {
	out := make([]ledgerResponse, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, newLedgerResponse(l))
	}
	return out
}

// Earn creates an accrual lot.
func (h *Handler) Earn(c *fiber.Ctx) error {
	memberID, err := memberParam(c)
	if err != nil {
		return err
	}
	var req earnRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Earn(c.UserContext(), EarnInput{
		MemberID:       memberID,
		Amount:         req.Amount,
		EarnType:       req.EarnType,
		ExpirationDays: req.ExpirationDays,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"ledger":  newLedgerResponse(res.Ledger),
		"balance": res.Balance.Int64(),
	})
}

// CancelEarn voids an untouched accrual lot.
func (h *Handler) CancelEarn(c *fiber.Ctx) error {
	memberID, err := memberParam(c)
	if err != nil {
		return err
	}
	ledgerID, err := uuid.Parse(c.Params("ledgerId"))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerNotFound, c.Params("ledgerId"))
	}
	res, err := h.service.CancelEarn(c.UserContext(), CancelEarnInput{MemberID: memberID, LedgerID: ledgerID})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ledger":   newLedgerResponse(res.Ledger),
		"canceled": res.Canceled.Int64(),
		"balance":  res.Balance.Int64(),
	})
}

// Use spends points for an order.
func (h *Handler) Use(c *fiber.Ctx) error {
	memberID, err := memberParam(c)
	if err != nil {
		return err
	}
	var req useRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Use(c.UserContext(), UseInput{MemberID: memberID, Amount: req.Amount, OrderID: req.OrderID})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"orderId": res.OrderID,
		"used":    res.Used.Int64(),
		"ledgers": newLedgerResponses(res.Ledgers),
		"balance": res.Balance.Int64(),
	})
}

// CancelUse returns points spent on an order.
func (h *Handler) CancelUse(c *fiber.Ctx) error {
	memberID, err := memberParam(c)
	if err != nil {
		return err
	}
	var req useRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.CancelUse(c.UserContext(), CancelUseInput{MemberID: memberID, OrderID: req.OrderID, Amount: req.Amount})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"orderId":   res.OrderID,
		"canceled":  res.Canceled.Int64(),
		"restored":  newLedgerResponses(res.Restored),
		"recreated": newLedgerResponses(res.Recreated),
		"balance":   res.Balance.Int64(),
	})
}

// Balance returns the member's drawable total.
func (h *Handler) Balance(c *fiber.Ctx) error {
	memberID, err := memberParam(c)
	if err != nil {
		return err
	}
	b, err := h.service.Balance(c.UserContext(), memberID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"memberId":  b.MemberID.String(),
		"available": b.Available.Int64(),
		"asOf":      b.AsOf,
	})
}

// Ledgers lists every lot of the member.
func (h *Handler) Ledgers(c *fiber.Ctx) error {
	memberID, err := memberParam(c)
	if err != nil {
		return err
	}
	ledgers, err := h.service.Ledgers(c.UserContext(), memberID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"ledgers": newLedgerResponses(ledgers)})
}

func memberParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("memberId"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidMemberID, c.Params("memberId"))
	}
	return id, nil
}
