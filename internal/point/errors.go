package point

import (
	"errors"
	"fmt"
)

// Validation errors. The request is rejected before anything is loaded or written.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidOrderID      = errors.New("order id is required")
	ErrInvalidEarnType     = errors.New("invalid earn type")
	ErrInvalidExpiration   = errors.New("expiration days outside policy range")
	ErrInvalidEntry        = errors.New("entry amount sign does not match entry type")
	ErrInvalidMemberID     = errors.New("member id is required")
	ErrEarnAmountOutOfRule = errors.New("earn amount outside policy range")
)

// Business-rule errors. Surfaced to the caller as distinct conditions and never retried.
var (
	ErrInsufficientBalance   = errors.New("insufficient point balance")
	ErrMaxBalanceExceeded    = errors.New("max balance exceeded")
	ErrLedgerNotFound        = errors.New("ledger not found")
	ErrLedgerAlreadyCanceled = errors.New("ledger already canceled")
	ErrLedgerAlreadyUsed     = errors.New("ledger already used")
	ErrOrderNotFound         = errors.New("order not found")
	ErrCancelAmountExceeded  = errors.New("cancel amount exceeds cancelable amount")
	ErrNotOwner              = errors.New("ledger belongs to another member")
)

// AmountRangeError reports arithmetic or input outside [0, MaxAmount].
type AmountRangeError struct {
	Value int64
}

func (e *AmountRangeError) Error() string {
	return fmt.Sprintf("amount %d outside [0, %d]", e.Value, MaxAmount)
}

func (e *AmountRangeError) Unwrap() error { return ErrInvalidAmount }

// InsufficientBalanceError carries the shortfall of a use request.
type InsufficientBalanceError struct {
	Requested Amount
	Available Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient point balance: requested %s, available %s", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// CancelAmountExceededError carries how much of an order can still be canceled.
type CancelAmountExceededError struct {
	OrderID    string
	Requested  Amount
	Cancelable Amount
}

func (e *CancelAmountExceededError) Error() string {
	return fmt.Sprintf("cancel amount %s exceeds cancelable %s for order %q", e.Requested, e.Cancelable, e.OrderID)
}

func (e *CancelAmountExceededError) Unwrap() error { return ErrCancelAmountExceeded }

// MaxBalanceError reports an accrual that would push the member over the cap.
type MaxBalanceError struct {
	Current Amount
	Earn    Amount
	Max     Amount
}

func (e *MaxBalanceError) Error() string {
	return fmt.Sprintf("balance %s + %s exceeds max %s", e.Current, e.Earn, e.Max)
}

func (e *MaxBalanceError) Unwrap() error { return ErrMaxBalanceExceeded }

// IsValidation reports whether err was caused by malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidOrderID) ||
		errors.Is(err, ErrInvalidEarnType) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrInvalidMemberID) ||
		errors.Is(err, ErrEarnAmountOutOfRule)
}

// IsNotFound reports whether err names a ledger or order that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLedgerNotFound) || errors.Is(err, ErrOrderNotFound)
}

// IsBusinessRule reports whether err is a rule violation the caller must not retry.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrMaxBalanceExceeded) ||
		errors.Is(err, ErrLedgerAlreadyCanceled) ||
		errors.Is(err, ErrLedgerAlreadyUsed) ||
		errors.Is(err, ErrCancelAmountExceeded) ||
		errors.Is(err, ErrNotOwner) ||
		IsNotFound(err)
}
