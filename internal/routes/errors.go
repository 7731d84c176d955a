package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pointledger/internal/eventsource"
	"github.com/congo-pay/pointledger/internal/lock"
	"github.com/congo-pay/pointledger/internal/middleware"
	"github.com/congo-pay/pointledger/internal/point"
)

// StatusOf maps an error onto the HTTP status the API reports for it.
func StatusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case point.IsValidation(err):
		return http.StatusBadRequest
	case point.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, point.ErrInsufficientBalance),
		errors.Is(err, point.ErrMaxBalanceExceeded),
		errors.Is(err, point.ErrCancelAmountExceeded):
		return http.StatusUnprocessableEntity
	case point.IsBusinessRule(err), eventsource.IsConcurrency(err):
		return http.StatusConflict
	case errors.Is(err, lock.ErrAcquisitionFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeOf(err error) string {
	switch {
	case point.IsValidation(err):
		return "VALIDATION"
	case errors.Is(err, point.ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, point.ErrMaxBalanceExceeded):
		return "MAX_BALANCE_EXCEEDED"
	case errors.Is(err, point.ErrCancelAmountExceeded):
		return "CANCEL_AMOUNT_EXCEEDED"
	case errors.Is(err, point.ErrLedgerAlreadyCanceled):
		return "LEDGER_ALREADY_CANCELED"
	case errors.Is(err, point.ErrLedgerAlreadyUsed):
		return "LEDGER_ALREADY_USED"
	case errors.Is(err, point.ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, point.ErrLedgerNotFound):
		return "LEDGER_NOT_FOUND"
	case errors.Is(err, point.ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case eventsource.IsConcurrency(err):
		return "CONCURRENCY_CONFLICT"
	case errors.Is(err, lock.ErrUnavailable):
		return "LOCK_SERVICE_UNAVAILABLE"
	case errors.Is(err, lock.ErrAcquisitionFailed):
		return "LOCK_ACQUISITION_FAILED"
	default:
		return ""
	}
}

// ErrorHandler renders errors as {"error", "code", "request_id"} JSON. Server
// errors hide their message from the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusOf(err)
		body := fiber.Map{"error": err.Error()}
		if code := codeOf(err); code != "" {
			body["code"] = code
		}
		if reqID := middleware.RequestIDFrom(c); reqID != "" {
			body["request_id"] = reqID
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.Int("status", status), slog.Any("error", err))
			if status == http.StatusInternalServerError {
				body["error"] = "internal error"
			}
		}
		return c.Status(status).JSON(body)
	}
}
