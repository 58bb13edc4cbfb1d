package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_PublishOutboxEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(w)
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishOutboxEvent(context.Background(), &models.OutboxEvent{
		ID:        42,
		EventType: models.EventTypeReservationCreated,
		Key:       "sku-1",
		Payload:   `{"sku_id":"sku-1"}`,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "sku-1", string(msg.Key))
	assert.JSONEq(t, `{"sku_id":"sku-1"}`, string(msg.Value))
	assert.Equal(t, createdAt, msg.Time)
	assert.Equal(t, models.EventTypeReservationCreated, headerValue(msg.Headers, "event-type"))
	assert.Equal(t, "42", headerValue(msg.Headers, "outbox-id"))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	p := newPublisherWithWriter(&fakeWriter{err: assert.AnError})

	err := p.PublishOutboxEvent(context.Background(), &models.OutboxEvent{ID: 1, Key: "k"})
	assert.ErrorIs(t, err, assert.AnError)
}
