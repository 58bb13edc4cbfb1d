package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// PostgreSQL error codes the store reacts to
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

const defaultRetryBackoff = 20 * time.Millisecond

// PostgresStore is the CheckoutStore backed by PostgreSQL.
//
// Transactions run at READ COMMITTED; correctness comes from the row locks
// taken by StoreTx.LockSKUs. A closure that loses a deadlock or a
// serialization race is re-run from scratch up to maxRetries times.
type PostgresStore struct {
	db           *sqlx.DB
	maxRetries   int
	retryBackoff time.Duration
}

var _ interfaces.CheckoutStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new store. maxRetries < 0 is treated as 0.
func NewPostgresStore(db *sqlx.DB, maxRetries int) *PostgresStore {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PostgresStore{
		db:           db,
		maxRetries:   maxRetries,
		retryBackoff: defaultRetryBackoff,
	}
}

// Open connects to PostgreSQL and applies the pool limits.
func Open(ctx context.Context, databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxIdleTime(30 * time.Second)
	return db, nil
}

// InTx runs fn in a transaction, retrying on deadlock and serialization failures.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.StoreTx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= s.maxRetries {
			return err
		}

		backoff := s.retryBackoff * time.Duration(1<<attempt)
		log.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Transaction lost a lock race, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.StoreTx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// isRetryable reports whether the whole transaction can simply be run again.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pgSerializationFailure || pqErr.Code == pgDeadlockDetected
}

// translate maps constraint violations onto domain errors and leaves
// everything else untouched so retry classification still sees *pq.Error.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pgCheckViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, models.ErrLedgerInvariant)
	case pgUniqueViolation:
		if pqErr.Constraint == orderIdempotencyConstraint {
			return models.ErrDuplicateOrder
		}
	}
	return err
}

// sortedUnique returns the ids de-duplicated and in the byte order PostgreSQL
// uses for uuid, which is the order rows get locked in.
func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func uuidStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// pgTx implements interfaces.StoreTx on top of one *sqlx.Tx
type pgTx struct {
	tx *sqlx.Tx
}

var _ interfaces.StoreTx = (*pgTx)(nil)

func (t *pgTx) AppendOutbox(ctx context.Context, eventType, key string, payload any) error {
	return insertOutboxEvent(ctx, t.tx, eventType, key, payload)
}

// Non-transactional reads

func (s *PostgresStore) GetSKU(ctx context.Context, skuID uuid.UUID) (*models.SKU, error) {
	var sku models.SKU
	err := s.db.GetContext(ctx, &sku, selectSKU+` WHERE id = $1`, skuID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("sku_id", skuID.String()).Msg("Failed to get sku")
		return nil, fmt.Errorf("failed to get sku: %w", err)
	}
	return &sku, nil
}

func (s *PostgresStore) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	return getReservation(ctx, s.db, reservationID, false)
}

func (s *PostgresStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return getOrderByIdempotencyKey(ctx, s.db, key)
}

func (s *PostgresStore) ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM stock_reservations
			  WHERE status = $1 AND expires_at <= $2
			  ORDER BY expires_at ASC
			  LIMIT $3`

	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, query, models.ReservationStatusActive, now, limit); err != nil {
		log.Error().Err(err).Msg("Failed to list expired reservations")
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	return ids, nil
}
