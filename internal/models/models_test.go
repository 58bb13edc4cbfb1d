package models

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationStatus_Transitions(t *testing.T) {
	all := []ReservationStatus{
		ReservationStatusActive,
		ReservationStatusConverted,
		ReservationStatusExpired,
		ReservationStatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := from == ReservationStatusActive && to != ReservationStatusActive
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, ReservationStatusActive.IsTerminal())
	assert.True(t, ReservationStatusActive.HoldsStock())
	assert.False(t, ReservationStatusExpired.HoldsStock())
	assert.False(t, ReservationStatus("PENDING").IsValid())
}

func TestStockReservation_IsExpiredAt(t *testing.T) {
	expires := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r := &StockReservation{ExpiresAt: expires}

	assert.False(t, r.IsExpiredAt(expires.Add(-time.Nanosecond)))
	assert.True(t, r.IsExpiredAt(expires))
	assert.True(t, r.IsExpiredAt(expires.Add(time.Second)))
}

func TestStockReservation_CloneCopiesPointers(t *testing.T) {
	orderID := uuid.New()
	session := "abc"
	r := &StockReservation{ID: uuid.New(), OrderID: &orderID, SessionID: &session}

	c := r.Clone()
	*c.OrderID = uuid.New()
	*c.SessionID = "changed"

	assert.Equal(t, orderID, *r.OrderID)
	assert.Equal(t, "abc", *r.SessionID)
}

func TestGetErrorCode(t *testing.T) {
	stockErr := &InsufficientStockError{SKUCode: "A", Requested: 2, Available: 1}

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"insufficient stock", fmt.Errorf("reserve: %w", stockErr), ErrorCodeInsufficientStock},
		{"validation", NewValidationError("user_id", "required", ""), ErrorCodeValidationError},
		{"empty cart", ErrEmptyCart, ErrorCodeEmptyCart},
		{"transition", &TransitionError{From: ReservationStatusExpired, To: ReservationStatusConverted}, ErrorCodeInvalidTransition},
		{"conflict", ErrConcurrencyConflict, ErrorCodeConcurrencyConflict},
		{"checkout in progress", ErrCheckoutInProgress, ErrorCodeConcurrencyConflict},
		{"not found", NewNotFoundError("sku", "x"), ErrorCodeNotFound},
		{"system", NewSystemError(ErrorCodeDatabaseError, "postgres", "down", nil), ErrorCodeDatabaseError},
		{"unknown", assert.AnError, ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCode(tt.err))
		})
	}
}

func TestInsufficientStockProblem(t *testing.T) {
	problem := NewInsufficientStockProblem(&InsufficientStockError{SKUCode: "MUG-01", Requested: 3, Available: 1})

	assert.Equal(t, http.StatusConflict, problem.Status)
	assert.Equal(t, "Only 1 left of MUG-01", problem.Detail)
	assert.Equal(t, string(ErrorCodeInsufficientStock), problem.Code)
}

func TestCheckoutFailureProblem_HidesDetail(t *testing.T) {
	problem := NewCheckoutFailureProblem(http.StatusInternalServerError, ErrorCodeInternalError)

	assert.Equal(t, GenericCheckoutFailure, problem.Detail)
	assert.Equal(t, ProblemTypeInternalError, problem.Type)
}

func TestCart_Helpers(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	cart := &Cart{Items: []CartItem{
		{SKUID: a, Quantity: 1},
		{SKUID: b, Quantity: 2},
		{SKUID: a, Quantity: 3},
	}}

	assert.False(t, cart.IsEmpty())
	assert.Equal(t, []uuid.UUID{a, b}, cart.SKUIDs())
	assert.Equal(t, map[uuid.UUID]int{a: 4, b: 2}, cart.QuantityBySKU())

	var nilCart *Cart
	assert.True(t, nilCart.IsEmpty())
	assert.True(t, (&Cart{}).IsEmpty())
}

func TestOrder_SnapshotAndSubtotal(t *testing.T) {
	sku := newTestSKU(10, 0)
	sku.Attributes = Attributes{"size": "M"}
	orderID := uuid.New()

	order := &Order{ID: orderID, Items: []OrderItem{
		NewOrderItem(orderID, sku, 2),
		NewOrderItem(orderID, &SKU{ID: uuid.New(), Price: decimal.RequireFromString("5.50")}, 1),
	}}
	order.RecalculateSubtotal()

	assert.True(t, decimal.RequireFromString("39.98").Equal(order.Items[0].LineTotal))
	assert.True(t, decimal.RequireFromString("45.48").Equal(order.Subtotal))

	// Later catalog edits do not leak into the snapshot.
	sku.Attributes["size"] = "L"
	sku.Price = decimal.NewFromInt(100)
	assert.Equal(t, "M", order.Items[0].Attributes["size"])
	assert.True(t, decimal.RequireFromString("19.99").Equal(order.Items[0].UnitPrice))
}

func TestAttributes_ScanAndValue(t *testing.T) {
	attrs := Attributes{"color": "red"}
	v, err := attrs.Value()
	require.NoError(t, err)

	var scanned Attributes
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, attrs, scanned)

	var empty Attributes
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)
	assert.Error(t, empty.Scan(42))
}

func TestReservationEvent_CarriesCountersAndKey(t *testing.T) {
	sku := newTestSKU(10, 0)
	r, err := sku.ReserveStock(2, uuid.New(), ReservationMetadata{}, time.Minute, time.Now())
	require.NoError(t, err)
	sku.Version = 7

	event := NewReservationEvent(EventTypeReservationCreated, sku, r, time.Now())

	assert.Equal(t, sku.ID.String(), event.Key())
	assert.Equal(t, 2, event.ReservedQuantity)
	assert.Equal(t, int64(7), event.Version)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"reservation.created"`)
}
