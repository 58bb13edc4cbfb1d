package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// CheckoutReserver holds stock for a shopper's whole cart.
type CheckoutReserver interface {
	Reserve(ctx context.Context, userID string, meta models.ReservationMetadata) (*models.ReserveResult, error)
}

// OrderCreator converts a cart and its holds into an order.
type OrderCreator interface {
	CreateOrder(ctx context.Context, userID string, req *models.PlaceOrderRequest) (*models.Order, bool, error)
}

// ReservationReleaser exposes the synchronous release operations of the sweeper.
type ReservationReleaser interface {
	ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (bool, error)
	ReleaseAllForCart(ctx context.Context, cartID uuid.UUID) (int, error)
}

// AvailabilityReader serves SKU availability for the read API
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, skuID uuid.UUID) (*models.AvailabilityResponse, error)
}
