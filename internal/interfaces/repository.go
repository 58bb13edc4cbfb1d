package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// CheckoutStore is the persistent transaction boundary of the checkout engine.
//
// InTx runs fn inside one database transaction. The transaction commits only
// if fn returns nil; any error, panic or context cancellation rolls it back.
// Implementations may run fn more than once when the database reports a
// serialization failure or deadlock, so fn must not have side effects outside
// the transaction.
type CheckoutStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error

	// Non-transactional reads. A missing row yields (nil, nil).
	GetSKU(ctx context.Context, skuID uuid.UUID) (*models.SKU, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// StoreTx is the set of operations available inside a transaction.
//
// Locking protocol: SKU rows are the single point of mutual exclusion. Any
// code that mutates ledger counters or reservation status must first call
// LockSKUs for every SKU involved, and only then read reservations with
// the ForUpdate variants.
type StoreTx interface {
	// LockSKUs row-locks the given SKUs in ascending id order and returns them
	// keyed by id. A missing SKU fails with *models.NotFoundError.
	LockSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[uuid.UUID]*models.SKU, error)
	// SaveSKU persists the ledger counters and bumps the row version.
	SaveSKU(ctx context.Context, sku *models.SKU) error

	// GetCartByUser loads the shopper's cart with SKU snapshots; (nil, nil) if none.
	GetCartByUser(ctx context.Context, userID string) (*models.Cart, error)
	// ClearCart removes all lines, failing with models.ErrConcurrencyConflict
	// when cart.Version is stale.
	ClearCart(ctx context.Context, cart *models.Cart) error

	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error)
	GetReservationForUpdate(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error)
	ListActiveReservationsForCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*models.StockReservation, error)
	CreateReservation(ctx context.Context, reservation *models.StockReservation) error
	UpdateReservation(ctx context.Context, reservation *models.StockReservation) error

	// CreateOrder inserts the order and its items. A clash on the idempotency
	// key fails with models.ErrDuplicateOrder.
	CreateOrder(ctx context.Context, order *models.Order) error

	// AppendOutbox records an event to be published after commit.
	AppendOutbox(ctx context.Context, eventType, key string, payload any) error
}

// OutboxStore is used by the relay that moves committed outbox rows to Kafka.
type OutboxStore interface {
	// WithOutboxLock runs fn while holding the relay leader lock. It reports
	// false without calling fn when another relay holds the lock.
	WithOutboxLock(ctx context.Context, lockKey int64, fn func(ctx context.Context) error) (bool, error)
	FetchOutboxBatchOrdered(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []int64) error
	IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error
}

// AvailabilityCache is the read-side cache of SKU counters
type AvailabilityCache interface {
	GetSKU(ctx context.Context, skuID uuid.UUID) (*models.SKU, error)
	SetSKU(ctx context.Context, sku *models.SKU) error
	DeleteSKU(ctx context.Context, skuID uuid.UUID) error
	Close() error
}

// Locker serializes logically scoped critical sections across processes.
type Locker interface {
	ExecuteWithLock(ctx context.Context, key, holder string, ttl time.Duration, action func(ctx context.Context) error) error
}
