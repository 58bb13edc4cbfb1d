package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

// ErrInvalidEvent marks messages that can never be processed; they are
// committed and skipped instead of retried.
var ErrInvalidEvent = errors.New("invalid event")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads reservation events from the checkout events topic
type Consumer struct {
	reader     messageReader
	maxRetries int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, consumerGroup, topic string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka reader error: "+msg, args...)
		}),
	})

	return &Consumer{reader: reader, maxRetries: 3}
}

func newConsumerWithReader(r messageReader, maxRetries int) *Consumer {
	return &Consumer{reader: r, maxRetries: maxRetries}
}

// ConsumeEvents feeds reservation events to handler until ctx is done.
// Messages are committed only after the handler succeeds.
func (c *Consumer) ConsumeEvents(ctx context.Context, handler interfaces.EventHandler) error {
	log.Info().Msg("Starting to consume reservation events")

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Stopping event consumption")
				return nil
			}
			log.Error().Err(err).Msg("Failed to fetch event message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handleMessage(ctx, handler, message); err != nil {
			if !errors.Is(err, ErrInvalidEvent) {
				// Not committed; redelivered after a restart or rebalance.
				log.Error().Err(err).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to handle event after retries")
				continue
			}
			log.Warn().Err(err).
				Int("partition", message.Partition).
				Int64("offset", message.Offset).
				Msg("Skipping invalid event")
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			log.Error().Err(err).Int64("offset", message.Offset).Msg("Failed to commit event message")
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, handler interfaces.EventHandler, message kafka.Message) (err error) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(message.Headers))
	ctx, span := observability.Tracer().Start(ctx, "kafka.consume")
	defer func() { observability.EndSpan(span, err) }()

	eventType := headerValue(message.Headers, "event-type")
	span.SetAttributes(
		attribute.String("messaging.kafka.topic", message.Topic),
		attribute.Int("messaging.kafka.partition", message.Partition),
		attribute.String("event.type", eventType),
	)

	// order.created and anything else outside the reservation stream is not ours.
	if eventType != "" && !strings.HasPrefix(eventType, "reservation.") {
		return nil
	}

	var event models.ReservationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.SKUID == uuid.Nil {
		return fmt.Errorf("%w: missing sku_id", ErrInvalidEvent)
	}

	return c.processEventWithRetry(ctx, handler, &event)
}

// processEventWithRetry processes an event with exponential backoff retry logic
func (c *Consumer) processEventWithRetry(ctx context.Context, handler interfaces.EventHandler, event *models.ReservationEvent) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = handler.HandleEvent(ctx, event); err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidEvent) {
			return err
		}

		if attempt < c.maxRetries {
			// 100ms, 200ms, 400ms
			backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Event processing failed, retrying after backoff")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("event processing failed after %d attempts: %w", c.maxRetries+1, err)
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// headerCarrier lets the otel propagator read trace context from Kafka headers.
type headerCarrier []kafka.Header

func (h headerCarrier) Get(key string) string {
	return headerValue(h, key)
}

func (h headerCarrier) Set(string, string) {}

func (h headerCarrier) Keys() []string {
	keys := make([]string, len(h))
	for i, header := range h {
		keys[i] = header.Key
	}
	return keys
}
