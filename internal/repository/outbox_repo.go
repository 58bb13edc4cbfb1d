package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// OutboxRepository handles outbox operations with advisory locking
type OutboxRepository struct {
	db *sqlx.DB
}

var _ interfaces.OutboxStore = (*OutboxRepository)(nil)

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// WithOutboxLock runs fn while holding a session-level advisory lock.
//
// Session locks belong to a connection, so the lock and unlock must run on
// the same one; going through the pool would release a lock on a connection
// that never took it.
func (r *OutboxRepository) WithOutboxLock(ctx context.Context, lockKey int64, fn func(ctx context.Context) error) (bool, error) {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&acquired); err != nil {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		log.Debug().Int64("lock_key", lockKey).Msg("Advisory lock already held by another relay")
		return false, nil
	}

	defer func() {
		var released bool
		// The caller's context may already be done; the lock must still go.
		if err := conn.QueryRowxContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey).Scan(&released); err != nil {
			log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to release advisory lock")
		} else if !released {
			log.Warn().Int64("lock_key", lockKey).Msg("Advisory lock was not held when trying to release")
		}
	}()

	return true, fn(ctx)
}

// FetchOutboxBatchOrdered fetches unpublished events in insertion order.
// Only the advisory lock holder calls it, so no row locks are needed.
func (r *OutboxRepository) FetchOutboxBatchOrdered(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `
		SELECT id, event_type, key, payload, created_at, published, publish_attempts, last_error
		FROM outbox
		WHERE published = false
		ORDER BY id ASC
		LIMIT $1
	`

	var events []models.OutboxEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		log.Error().Err(err).Msg("Failed to query outbox events")
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}

	log.Debug().Int("count", len(events)).Msg("Fetched outbox events for processing")
	return events, nil
}

// MarkOutboxPublished marks events as successfully published
func (r *OutboxRepository) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE outbox
		SET published = true,
		    published_at = NOW()
		WHERE id = ANY($1)
	`

	result, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		log.Error().Err(err).Interface("ids", ids).Msg("Failed to mark outbox events as published")
		return fmt.Errorf("failed to mark outbox events as published: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	log.Info().
		Int("count", len(ids)).
		Int64("rows_affected", rowsAffected).
		Msg("Marked outbox events as published")

	return nil
}

// IncrementPublishAttempts increments the publish attempts counter and records error
func (r *OutboxRepository) IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE outbox
		SET publish_attempts = publish_attempts + 1,
		    last_error = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, lastError)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("Failed to increment publish attempts")
		return fmt.Errorf("failed to increment publish attempts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		log.Warn().Int64("id", id).Msg("No outbox event found to increment attempts")
	}

	return nil
}

// insertOutboxEvent writes an event in the caller's transaction, so it
// commits or rolls back together with the ledger change it describes.
func insertOutboxEvent(ctx context.Context, tx *sqlx.Tx, eventType, key string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO outbox (event_type, key, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	if _, err := tx.ExecContext(ctx, query, eventType, key, string(payloadJSON)); err != nil {
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("key", key).
			Msg("Failed to insert outbox event")
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}
