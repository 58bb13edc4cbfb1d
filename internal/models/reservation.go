package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the state of a stock reservation
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConverted ReservationStatus = "CONVERTED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// DefaultReservationTTL is how long a checkout hold lives when no TTL is configured.
const DefaultReservationTTL = 15 * time.Minute

// IsTerminal reports whether no further transitions are allowed.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusConverted, ReservationStatusExpired, ReservationStatusCancelled:
		return true
	default:
		return false
	}
}

// HoldsStock reports whether a reservation in this state counts towards
// the SKU's reserved quantity. Only ACTIVE does.
func (s ReservationStatus) HoldsStock() bool {
	return s == ReservationStatusActive
}

// IsValid reports whether s is one of the known states.
func (s ReservationStatus) IsValid() bool {
	return s == ReservationStatusActive || s.IsTerminal()
}

// CanTransitionTo is the whole state machine: ACTIVE may move to any
// terminal state, terminal states never move.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	return s == ReservationStatusActive && next.IsTerminal()
}

// ReservationMetadata carries optional audit information about the shopper
// session that created a reservation.
type ReservationMetadata struct {
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// StockReservation is a time-boxed hold on a quantity of one SKU, scoped to a cart.
type StockReservation struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	SKUID     uuid.UUID         `db:"sku_id" json:"sku_id"`
	CartID    uuid.UUID         `db:"cart_id" json:"cart_id"`
	Quantity  int               `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	ExpiresAt time.Time         `db:"expires_at" json:"expires_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
	SessionID *string           `db:"session_id" json:"session_id,omitempty"`
	IPAddress *string           `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string           `db:"user_agent" json:"user_agent,omitempty"`
	OrderID   *uuid.UUID        `db:"order_id" json:"order_id,omitempty"`
}

// IsExpiredAt reports whether the hold has passed its expiry at the given instant.
func (r *StockReservation) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// transition moves the reservation to next, or fails with a TransitionError.
// Ledger side effects are applied by the SKU methods that call it.
func (r *StockReservation) transition(next ReservationStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: next}
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// Clone returns a deep copy, safe to hand out of a store.
func (r *StockReservation) Clone() *StockReservation {
	c := *r
	if r.OrderID != nil {
		id := *r.OrderID
		c.OrderID = &id
	}
	c.SessionID = cloneString(r.SessionID)
	c.IPAddress = cloneString(r.IPAddress)
	c.UserAgent = cloneString(r.UserAgent)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
