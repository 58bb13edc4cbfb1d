package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

// RelayConfig controls the outbox relay loop
type RelayConfig struct {
	LockKey      int64
	BatchSize    int
	PollInterval time.Duration
}

// OutboxRelay moves committed outbox rows to Kafka. Only the relay holding
// the advisory lock publishes, so events leave in commit order.
type OutboxRelay struct {
	store     interfaces.OutboxStore
	publisher interfaces.MessagePublisher
	metrics   *observability.Metrics
	cfg       RelayConfig
}

func NewOutboxRelay(store interfaces.OutboxStore, publisher interfaces.MessagePublisher, metrics *observability.Metrics, cfg RelayConfig) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run polls the outbox until ctx is done
func (r *OutboxRelay) Run(ctx context.Context) error {
	log.Info().
		Int64("lock_key", r.cfg.LockKey).
		Int("batch_size", r.cfg.BatchSize).
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("Starting outbox relay")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping outbox relay")
			return nil
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process outbox batch")
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events went out. It
// stops at the first failure so a later event never overtakes an earlier one.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	published := 0

	acquired, err := r.store.WithOutboxLock(ctx, r.cfg.LockKey, func(ctx context.Context) error {
		events, err := r.store.FetchOutboxBatchOrdered(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch outbox batch: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		var successfulIDs []int64
		for i := range events {
			event := &events[i]
			if err := r.publisher.PublishOutboxEvent(ctx, event); err != nil {
				r.metrics.OutboxFailed()
				if incErr := r.store.IncrementPublishAttempts(ctx, event.ID, err.Error()); incErr != nil {
					log.Error().Err(incErr).Int64("outbox_id", event.ID).Msg("Failed to increment publish attempts")
				}
				break
			}
			successfulIDs = append(successfulIDs, event.ID)
		}

		if len(successfulIDs) == 0 {
			return nil
		}
		if err := r.store.MarkOutboxPublished(ctx, successfulIDs); err != nil {
			return fmt.Errorf("failed to mark events as published: %w", err)
		}

		published = len(successfulIDs)
		r.metrics.OutboxPublished(published)
		log.Info().
			Int("published_count", published).
			Int("total_count", len(events)).
			Msg("Outbox batch processed")
		return nil
	})
	if err != nil {
		return published, err
	}
	if !acquired {
		log.Debug().Msg("Outbox lock held by another relay, skipping batch")
	}
	return published, nil
}
