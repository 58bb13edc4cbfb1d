package models

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField        ErrorCode = "INVALID_FIELD"
	ErrorCodeValidationError     ErrorCode = "VALIDATION_ERROR"
	ErrorCodeInsufficientStock   ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeEmptyCart           ErrorCode = "EMPTY_CART"
	ErrorCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrorCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrorCodeCacheError          ErrorCode = "CACHE_ERROR"
	ErrorCodeLockError           ErrorCode = "LOCK_ERROR"
	ErrorCodeEventingError       ErrorCode = "EVENTING_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeInternalError   = "internal-error"
)

// GenericCheckoutFailure is the only detail shoppers see for failures other
// than insufficient stock.
const GenericCheckoutFailure = "Could not complete checkout, please try again"

// API Request Models

// ReserveRequest carries optional session metadata for the reservation audit trail.
type ReserveRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// PlaceOrderRequest is the body of an order submission.
type PlaceOrderRequest struct {
	Shipping       ShippingInfo `json:"shipping" validate:"required"`
	PaymentMethod  string       `json:"payment_method" validate:"required,oneof=card cash_on_delivery bank_transfer"`
	IdempotencyKey *string      `json:"idempotency_key,omitempty" validate:"omitempty,min=8,max=128"`
}

// API Response Models

// ReservationLine is one reserved cart line.
type ReservationLine struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	SKUID         uuid.UUID `json:"sku_id"`
	SKUCode       string    `json:"sku_code"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReserveResult is what the checkout reservation protocol returns. The whole
// cart expires at CartExpiresAt, the earliest of the line expiries.
type ReserveResult struct {
	CartID        uuid.UUID         `json:"cart_id"`
	Reservations  []ReservationLine `json:"reservations"`
	CartExpiresAt time.Time         `json:"cart_expires_at"`
}

// OrderResponse is the API view of an order snapshot.
type OrderResponse struct {
	Order   *Order `json:"order"`
	Created bool   `json:"created"`
}

// ReleaseAllResponse reports how many holds were released for a cart.
type ReleaseAllResponse struct {
	CartID   uuid.UUID `json:"cart_id"`
	Released int       `json:"released"`
}

// AvailabilityResponse represents the response for SKU availability
type AvailabilityResponse struct {
	SKUID             uuid.UUID       `json:"sku_id"`
	SKUCode           string          `json:"sku_code"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	ReservedQuantity  int             `json:"reserved_quantity"`
	AvailableQuantity int             `json:"available_quantity"`
	CacheHit          bool            `json:"cache_hit"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// NewAvailabilityResponse builds the read model for a SKU.
func NewAvailabilityResponse(sku *SKU, cacheHit bool) *AvailabilityResponse {
	return &AvailabilityResponse{
		SKUID:             sku.ID,
		SKUCode:           sku.Code,
		Price:             sku.Price,
		StockQuantity:     sku.StockQuantity,
		ReservedQuantity:  sku.ReservedQuantity,
		AvailableQuantity: sku.AvailableQuantity(),
		CacheHit:          cacheHit,
		LastUpdated:       sku.UpdatedAt,
	}
}

type ProblemDetails struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Instance string      `json:"instance,omitempty"`
	Field    string      `json:"field,omitempty"`
	Code     string      `json:"code,omitempty"`
	Errors   interface{} `json:"errors,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   getProblemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: http.StatusBadRequest,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a multi-field validation error problem
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: http.StatusBadRequest,
		Detail: "Multiple validation errors occurred",
		Errors: violations,
	}
}

// NewInsufficientStockProblem is the one actionable checkout failure.
func NewInsufficientStockProblem(err *InsufficientStockError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  "Insufficient Stock",
		Status: http.StatusConflict,
		Detail: fmt.Sprintf("Only %d left of %s", err.Available, err.SKUCode),
		Code:   string(ErrorCodeInsufficientStock),
		Errors: err,
	}
}

// NewCheckoutFailureProblem hides internal detail behind a generic message.
func NewCheckoutFailureProblem(status int, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   getProblemType(status),
		Title:  "Checkout Failed",
		Status: status,
		Detail: GenericCheckoutFailure,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: http.StatusNotFound,
		Detail: resource + " not found",
		Code:   string(ErrorCodeNotFound),
	}
}

// Helper function to get problem type URI based on status code
func getProblemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	default:
		return ProblemTypeInternalError
	}
}
