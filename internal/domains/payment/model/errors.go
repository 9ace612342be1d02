package model

import (
	"errors"
	"fmt"
)

// =====================================================
// STABLE ERROR CODES
// =====================================================
// Codes surfaced over the RPC boundary. The handler layer maps them onto
// HTTP statuses; they never change once published.
const (
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeInvalidArgument       = "INVALID_ARGUMENT"
	ErrCodeFailedPrecondition    = "FAILED_PRECONDITION"
	ErrCodeDeadlineExceeded      = "DEADLINE_EXCEEDED"
	ErrCodeAlreadyExists         = "ALREADY_EXISTS"
	ErrCodeAborted               = "ABORTED"
	ErrCodeInternal              = "INTERNAL"
	ErrCodeMissingIdempotencyKey = "MISSING_IDEMPOTENCY_KEY"
)

// =====================================================
// PREDEFINED ERRORS
// =====================================================
var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidTransition    = errors.New("invalid payment state transition")
	ErrInvalidOrderState    = errors.New("order is not in a payable state")
	ErrAmountMismatch       = errors.New("line item sum does not match converted total")
	ErrInvalidAmount        = errors.New("payment amount must be positive")
	ErrProviderCancelFailed = errors.New("provider refused to cancel the session")
	ErrInProgress           = errors.New("another request with this idempotency key is in flight")
	ErrCurrencyConversion   = errors.New("currency conversion unavailable")
	ErrUnsupportedProvider  = errors.New("unsupported payment provider")
	ErrRefundAlreadyExists  = errors.New("session already has a refund record")
	ErrRefundNotFound       = errors.New("refund not found")
	ErrSessionNotRefundable = errors.New("session is not in a refundable state")

	// ErrAlreadyInStatus signals an idempotent no-op transition request.
	// It is not surfaced to callers; use cases convert it into an OK result.
	ErrAlreadyInStatus = errors.New("payment already in requested status")
)

// =====================================================
// PAYMENT ERROR WRAPPER
// =====================================================

// PaymentError carries a stable code alongside the underlying domain error.
type PaymentError struct {
	Code    string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new payment error with a stable code.
func NewPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// =====================================================
// ERROR CONSTRUCTORS
// =====================================================

func NewPaymentNotFoundError(ref string) *PaymentError {
	return NewPaymentError(ErrCodeNotFound,
		fmt.Sprintf("payment not found: %s", ref), ErrPaymentNotFound)
}

func NewOrderNotFoundError(ref string) *PaymentError {
	return NewPaymentError(ErrCodeNotFound,
		fmt.Sprintf("order not found: %s", ref), ErrOrderNotFound)
}

func NewInvalidTransitionError(from, to PaymentStatus) *PaymentError {
	return NewPaymentError(ErrCodeFailedPrecondition,
		fmt.Sprintf("transition %s -> %s is not allowed", from, to), ErrInvalidTransition)
}

func NewInvalidSessionTransitionError(from, to SessionStatus) *PaymentError {
	return NewPaymentError(ErrCodeFailedPrecondition,
		fmt.Sprintf("session transition %s -> %s is not allowed", from, to), ErrInvalidTransition)
}

func NewInvalidOrderStateError(status string) *PaymentError {
	return NewPaymentError(ErrCodeFailedPrecondition,
		fmt.Sprintf("order status %q does not accept payment", status), ErrInvalidOrderState)
}

func NewAmountMismatchError(itemSum, total int64) *PaymentError {
	return NewPaymentError(ErrCodeAborted,
		fmt.Sprintf("line item sum %d differs from converted total %d by more than %d minor unit",
			itemSum, total, AmountToleranceMinor), ErrAmountMismatch)
}

func NewInvalidAmountError(amount int64) *PaymentError {
	return NewPaymentError(ErrCodeInvalidArgument,
		fmt.Sprintf("amount must be a positive number of minor units, got %d", amount), ErrInvalidAmount)
}

func NewProviderCancelFailedError(provider Provider, providerOrderID string) *PaymentError {
	return NewPaymentError(ErrCodeAborted,
		fmt.Sprintf("%s refused to cancel order %s", provider, providerOrderID), ErrProviderCancelFailed)
}

func NewInProgressError(key string) *PaymentError {
	return NewPaymentError(ErrCodeAlreadyExists,
		fmt.Sprintf("request with idempotency key %s is already in flight, retry later", key), ErrInProgress)
}

func NewCurrencyConversionError(base, target string, err error) *PaymentError {
	return NewPaymentError(ErrCodeInternal,
		fmt.Sprintf("no exchange rate available for %s -> %s", base, target), errors.Join(ErrCurrencyConversion, err))
}

func NewDeadlineExceededError(operation string, err error) *PaymentError {
	return NewPaymentError(ErrCodeDeadlineExceeded,
		fmt.Sprintf("%s did not complete within the deadline", operation), err)
}

func NewUnsupportedProviderError(provider string) *PaymentError {
	return NewPaymentError(ErrCodeInvalidArgument,
		fmt.Sprintf("unsupported provider: %s", provider), ErrUnsupportedProvider)
}

func NewMissingIdempotencyKeyError() *PaymentError {
	return NewPaymentError(ErrCodeMissingIdempotencyKey,
		"idempotency-key header is required", nil)
}
