package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

var skuColumns = []string{
	"id", "product_id", "code", "product_name", "attributes", "price",
	"stock_quantity", "reserved_quantity", "version", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewPostgresStore(sqlx.NewDb(db, "postgres"), 2)
	store.retryBackoff = time.Millisecond
	return store, mock
}

func TestSortedUnique(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	c := uuid.MustParse("10000000-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{a, b, c}, sortedUnique([]uuid.UUID{c, a, b, a, c}))
	assert.Empty(t, sortedUnique(nil))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"check violation", &pq.Error{Code: pgCheckViolation, Constraint: "skus_reserved_within_stock"}, models.ErrLedgerInvariant},
		{"idempotency key", &pq.Error{Code: pgUniqueViolation, Constraint: orderIdempotencyConstraint}, models.ErrDuplicateOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translate(tt.err), tt.want)
		})
	}

	other := &pq.Error{Code: pgUniqueViolation, Constraint: "carts_user_id_key"}
	assert.Same(t, other, translate(other))

	plain := errors.New("boom")
	assert.Equal(t, plain, translate(plain))
}

func TestLockSKUs_LocksInIDOrder(t *testing.T) {
	store, mock := newMockStore(t)
	shirt, mug := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM skus WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows(skuColumns).
			AddRow(shirt.String(), uuid.New().String(), "SHIRT-M", "Shirt", []byte(`{"size":"M"}`), "19.99", int64(10), int64(2), int64(3), time.Now()).
			AddRow(mug.String(), uuid.New().String(), "MUG", "Mug", []byte(`{}`), "8.50", int64(5), int64(0), int64(1), time.Now()))
	mock.ExpectCommit()

	var locked map[uuid.UUID]*models.SKU
	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		var err error
		locked, err = tx.LockSKUs(ctx, []uuid.UUID{mug, shirt, mug})
		return err
	})
	require.NoError(t, err)
	require.Len(t, locked, 2)
	assert.Equal(t, 8, locked[shirt].AvailableQuantity())
	assert.Equal(t, "M", locked[shirt].Attributes["size"])
	assert.True(t, decimal.RequireFromString("8.50").Equal(locked[mug].Price))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockSKUs_MissingSKU(t *testing.T) {
	store, mock := newMockStore(t)
	missing := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows(skuColumns))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		_, err := tx.LockSKUs(ctx, []uuid.UUID{missing})
		return err
	})
	var notFound *models.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "sku", notFound.Resource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSKU_StaleVersionConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	sku := &models.SKU{ID: uuid.New(), Code: "SHIRT", StockQuantity: 10, ReservedQuantity: 2, Version: 4}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE skus`).
		WithArgs(sku.ID, 10, 2, sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		return tx.SaveSKU(ctx, sku)
	})
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	assert.Equal(t, int64(4), sku.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSKU_RejectsBrokenLedgerBeforeWriting(t *testing.T) {
	store, mock := newMockStore(t)
	sku := &models.SKU{ID: uuid.New(), Code: "SHIRT", StockQuantity: 1, ReservedQuantity: 2}

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		return tx.SaveSKU(ctx, sku)
	})
	assert.ErrorIs(t, err, models.ErrLedgerInvariant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RetriesDeadlock(t *testing.T) {
	store, mock := newMockStore(t)
	sku := &models.SKU{ID: uuid.New(), Code: "SHIRT", StockQuantity: 10, ReservedQuantity: 1, Version: 1}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE skus`).WillReturnError(&pq.Error{Code: pgDeadlockDetected})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE skus`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		attempts++
		return tx.SaveSKU(ctx, sku)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(2), sku.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_GivesUpAfterMaxRetries(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		attempts++
		return &pq.Error{Code: pgSerializationFailure}
	})
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, 3, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	store, mock := newMockStore(t)
	key := "order-key-0001"
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         "user-1",
		CartID:         uuid.New(),
		IdempotencyKey: &key,
		Status:         models.OrderStatusPending,
		PaymentMethod:  "card",
		Subtotal:       decimal.RequireFromString("40.00"),
		CreatedAt:      time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WillReturnError(&pq.Error{Code: pgUniqueViolation, Constraint: orderIdempotencyConstraint})
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		return tx.CreateOrder(ctx, order)
	})
	assert.ErrorIs(t, err, models.ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpiredReservationIDs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT id FROM stock_reservations`).
		WithArgs(models.ReservationStatusActive, now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(first.String()).AddRow(second.String()))

	ids, err := store.ListExpiredReservationIDs(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSKU_NotFoundIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM skus WHERE id = \$1`).WillReturnRows(sqlmock.NewRows(skuColumns))

	sku, err := store.GetSKU(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, sku)
}
