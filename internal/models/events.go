package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types written to the outbox and published to Kafka
const (
	EventTypeReservationCreated   = "reservation.created"
	EventTypeReservationConverted = "reservation.converted"
	EventTypeReservationExpired   = "reservation.expired"
	EventTypeReservationCancelled = "reservation.cancelled"
	EventTypeOrderCreated         = "order.created"
)

// ReservationEvent describes a ledger change on one SKU. The SKU id is the
// Kafka key so every change to a SKU lands on the same partition.
type ReservationEvent struct {
	EventID          string            `json:"event_id"`
	EventType        string            `json:"event_type"`
	SKUID            uuid.UUID         `json:"sku_id"`
	ReservationID    *uuid.UUID        `json:"reservation_id,omitempty"`
	CartID           uuid.UUID         `json:"cart_id"`
	OrderID          *uuid.UUID        `json:"order_id,omitempty"`
	Quantity         int               `json:"quantity"`
	Status           ReservationStatus `json:"status,omitempty"`
	StockQuantity    int               `json:"stock_quantity"`
	ReservedQuantity int               `json:"reserved_quantity"`
	Version          int64             `json:"version"`
	Timestamp        time.Time         `json:"timestamp"`
}

// NewReservationEvent builds the event for a reservation transition, capturing
// the SKU counters as they are after the change.
func NewReservationEvent(eventType string, sku *SKU, r *StockReservation, now time.Time) *ReservationEvent {
	id := r.ID
	return &ReservationEvent{
		EventID:          uuid.New().String(),
		EventType:        eventType,
		SKUID:            sku.ID,
		ReservationID:    &id,
		CartID:           r.CartID,
		OrderID:          r.OrderID,
		Quantity:         r.Quantity,
		Status:           r.Status,
		StockQuantity:    sku.StockQuantity,
		ReservedQuantity: sku.ReservedQuantity,
		Version:          sku.Version,
		Timestamp:        now,
	}
}

// Key returns the partition key for the event.
func (e *ReservationEvent) Key() string {
	return e.SKUID.String()
}

// OrderCreatedEvent is emitted once per order.
type OrderCreatedEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	OrderID   uuid.UUID `json:"order_id"`
	UserID    string    `json:"user_id"`
	CartID    uuid.UUID `json:"cart_id"`
	Subtotal  string    `json:"subtotal"`
	ItemCount int       `json:"item_count"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboxEvent represents the outbox pattern table for reliable event publishing
type OutboxEvent struct {
	ID              int64     `db:"id" json:"id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Key             string    `db:"key" json:"key"`
	Payload         string    `db:"payload" json:"payload"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	Published       bool      `db:"published" json:"published"`
	PublishAttempts int       `db:"publish_attempts" json:"publish_attempts"`
	LastError       *string   `db:"last_error" json:"last_error,omitempty"`
}
