package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox events to the checkout events topic
type Publisher struct {
	writer messageWriter
}

var _ interfaces.MessagePublisher = (*Publisher)(nil)

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, topic string, maxAttempts int) *Publisher {
	// Hash balancer: events with the same key (SKU or order id) land on the
	// same partition, which keeps them ordered.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  maxAttempts,
		WriteTimeout: 10 * time.Second,
	}

	return &Publisher{writer: writer}
}

func newPublisherWithWriter(w messageWriter) *Publisher {
	return &Publisher{writer: w}
}

// PublishOutboxEvent publishes a single outbox row. The payload is already
// JSON, so it is written as-is.
func (p *Publisher) PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	message := kafka.Message{
		Key:   []byte(event.Key),
		Value: []byte(event.Payload),
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.EventType)},
			{Key: "outbox-id", Value: []byte(fmt.Sprint(event.ID))},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		log.Error().Err(err).
			Int64("outbox_id", event.ID).
			Str("event_type", event.EventType).
			Str("key", event.Key).
			Msg("Failed to publish event")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	log.Debug().
		Int64("outbox_id", event.ID).
		Str("event_type", event.EventType).
		Str("key", event.Key).
		Msg("Published event")

	return nil
}

// Close closes the Kafka writer
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}
