package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

func seedSKU(s *Store, stock int) *models.SKU {
	sku := &models.SKU{ID: uuid.New(), Code: "SHIRT", StockQuantity: stock}
	s.PutSKU(sku)
	return sku
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	sku := seedSKU(s, 10)

	err := s.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		locked, err := tx.LockSKUs(ctx, []uuid.UUID{sku.ID})
		require.NoError(t, err)
		locked[sku.ID].ReservedQuantity = 4
		require.NoError(t, tx.SaveSKU(ctx, locked[sku.ID]))
		require.NoError(t, tx.AppendOutbox(ctx, models.EventTypeReservationCreated, sku.ID.String(), map[string]int{"q": 4}))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got := s.SKU(sku.ID)
	assert.Equal(t, 0, got.ReservedQuantity)
	assert.Equal(t, int64(0), got.Version)
	assert.Empty(t, s.OutboxEvents())
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	s := NewStore()
	sku := seedSKU(s, 10)

	err := s.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		locked, err := tx.LockSKUs(ctx, []uuid.UUID{sku.ID})
		if err != nil {
			return err
		}
		locked[sku.ID].ReservedQuantity = 3
		if err := tx.SaveSKU(ctx, locked[sku.ID]); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, models.EventTypeReservationCreated, sku.ID.String(), map[string]int{"q": 3})
	})
	require.NoError(t, err)

	got := s.SKU(sku.ID)
	assert.Equal(t, 3, got.ReservedQuantity)
	assert.Equal(t, int64(1), got.Version)

	events := s.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].ID)
	assert.JSONEq(t, `{"q":3}`, events[0].Payload)
}

func TestInTx_CancelledContextDoesNotCommit(t *testing.T) {
	s := NewStore()
	sku := seedSKU(s, 10)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(ctx context.Context, tx interfaces.StoreTx) error {
		locked, err := tx.LockSKUs(ctx, []uuid.UUID{sku.ID})
		require.NoError(t, err)
		locked[sku.ID].StockQuantity = 0
		require.NoError(t, tx.SaveSKU(ctx, locked[sku.ID]))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, s.SKU(sku.ID).StockQuantity)
}

func TestSaveSKU_StaleVersionConflicts(t *testing.T) {
	s := NewStore()
	sku := seedSKU(s, 10)

	err := s.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		locked, err := tx.LockSKUs(ctx, []uuid.UUID{sku.ID})
		require.NoError(t, err)
		stale := locked[sku.ID].Clone()
		require.NoError(t, tx.SaveSKU(ctx, locked[sku.ID]))
		return tx.SaveSKU(ctx, stale)
	})
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
}

func TestSaveSKU_RejectsBrokenLedger(t *testing.T) {
	s := NewStore()
	sku := seedSKU(s, 2)

	err := s.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
		locked, err := tx.LockSKUs(ctx, []uuid.UUID{sku.ID})
		require.NoError(t, err)
		locked[sku.ID].ReservedQuantity = 3
		return tx.SaveSKU(ctx, locked[sku.ID])
	})
	assert.ErrorIs(t, err, models.ErrLedgerInvariant)
}

func TestCreateOrder_DuplicateKey(t *testing.T) {
	s := NewStore()
	key := "order-key-0001"

	create := func() error {
		return s.InTx(context.Background(), func(ctx context.Context, tx interfaces.StoreTx) error {
			return tx.CreateOrder(ctx, &models.Order{ID: uuid.New(), IdempotencyKey: &key})
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), models.ErrDuplicateOrder)

	order, err := s.GetOrderByIdempotencyKey(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Len(t, s.Orders(), 1)
}

func TestListExpiredReservationIDs_OldestFirst(t *testing.T) {
	s := NewStore()
	now := time.Now()
	hold := func(expiresIn time.Duration, status models.ReservationStatus) uuid.UUID {
		r := &models.StockReservation{
			ID:        uuid.New(),
			Status:    status,
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(expiresIn),
		}
		s.PutReservation(r)
		return r.ID
	}

	later := hold(-time.Minute, models.ReservationStatusActive)
	oldest := hold(-10*time.Minute, models.ReservationStatusActive)
	hold(time.Minute, models.ReservationStatusActive)
	hold(-time.Hour, models.ReservationStatusConverted)

	ids, err := s.ListExpiredReservationIDs(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{oldest, later}, ids)

	ids, err = s.ListExpiredReservationIDs(context.Background(), now, 1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{oldest}, ids)
}
