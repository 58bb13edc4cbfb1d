package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the checkout engine. Use errors.Is to inspect them.
var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidTransition   = errors.New("invalid reservation transition")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrNotFound            = errors.New("not found")

	// ErrDuplicateOrder is returned by stores when an order with the same
	// idempotency key was committed first.
	ErrDuplicateOrder = errors.New("order with idempotency key already exists")

	// ErrLedgerInvariant means a ledger operation would break
	// 0 <= reserved <= stock. Always a logic error upstream.
	ErrLedgerInvariant = errors.New("stock ledger invariant violated")

	// ErrCheckoutInProgress is returned when another checkout for the same
	// shopper holds the distributed lock.
	ErrCheckoutInProgress = fmt.Errorf("checkout already in progress: %w", ErrConcurrencyConflict)
)

// InsufficientStockError names the SKU that could not be reserved or deducted
// and how much of it was actually available.
type InsufficientStockError struct {
	SKUID     uuid.UUID `json:"sku_id"`
	SKUCode   string    `json:"sku_code"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d", e.SKUCode, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// TransitionError reports an attempt to move a reservation out of a state
// that does not allow it.
type TransitionError struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	From          ReservationStatus `json:"from"`
	To            ReservationStatus `json:"to"`
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %s cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NotFoundError represents resource not found errors
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// SystemError represents system-level errors (database, cache, external services)
type SystemError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"` // Don't expose internal error details in JSON
	Component string    `json:"component"`
}

func (e *SystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s in %s: %s (caused by: %v)", e.Code, e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s in %s: %s", e.Code, e.Component, e.Message)
}

func (e *SystemError) Unwrap() error {
	return e.Cause
}

// ValidationError represents validation errors with detailed field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

func NewSystemError(code ErrorCode, component, message string, cause error) *SystemError {
	return &SystemError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Component: component,
	}
}

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// GetErrorCode extracts the API error code for any error produced by the engine.
func GetErrorCode(err error) ErrorCode {
	var (
		stockErr      *InsufficientStockError
		validationErr *ValidationError
		systemErr     *SystemError
	)
	switch {
	case errors.As(err, &stockErr):
		return ErrorCodeInsufficientStock
	case errors.As(err, &validationErr):
		return ErrorCodeValidationError
	case errors.Is(err, ErrEmptyCart):
		return ErrorCodeEmptyCart
	case errors.Is(err, ErrInvalidTransition):
		return ErrorCodeInvalidTransition
	case errors.Is(err, ErrConcurrencyConflict):
		return ErrorCodeConcurrencyConflict
	case errors.Is(err, ErrNotFound):
		return ErrorCodeNotFound
	case errors.As(err, &systemErr):
		return systemErr.Code
	default:
		return ErrorCodeInternalError
	}
}
