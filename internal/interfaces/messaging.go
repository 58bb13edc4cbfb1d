package interfaces

import (
	"context"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// MessagePublisher defines the contract for publishing events
type MessagePublisher interface {
	PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	Close() error
}

// EventHandler handles reservation events consumed from Kafka
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.ReservationEvent) error
}
