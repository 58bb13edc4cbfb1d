package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	rediscache "github.com/Movchanets/MyMarketplace-sub003/internal/redis"
)

// MockAvailabilityCache implements interfaces.AvailabilityCache for testing
type MockAvailabilityCache struct {
	mock.Mock
}

func (m *MockAvailabilityCache) GetSKU(ctx context.Context, skuID uuid.UUID) (*models.SKU, error) {
	args := m.Called(ctx, skuID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SKU), args.Error(1)
}

func (m *MockAvailabilityCache) SetSKU(ctx context.Context, sku *models.SKU) error {
	return m.Called(ctx, sku).Error(0)
}

func (m *MockAvailabilityCache) DeleteSKU(ctx context.Context, skuID uuid.UUID) error {
	return m.Called(ctx, skuID).Error(0)
}

func (m *MockAvailabilityCache) Close() error {
	return m.Called().Error(0)
}

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *rediscache.CacheClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, rediscache.NewCacheClient(client, time.Minute, "test:")
}

func TestGetAvailability_MissThenHit(t *testing.T) {
	f := newFixture(t)
	sku := f.addSKU("SHIRT", 10, "20.00")
	_, cache := newRedisCache(t)
	svc := NewAvailabilityService(f.store, cache, f.metrics)

	got, err := svc.GetAvailability(context.Background(), sku.ID)
	require.NoError(t, err)
	assert.False(t, got.CacheHit)
	assert.Equal(t, 10, got.AvailableQuantity)

	require.Eventually(t, func() bool {
		cached, err := cache.GetSKU(context.Background(), sku.ID)
		return err == nil && cached != nil
	}, time.Second, 10*time.Millisecond)

	got, err = svc.GetAvailability(context.Background(), sku.ID)
	require.NoError(t, err)
	assert.True(t, got.CacheHit)
	assert.Equal(t, "SHIRT", got.SKUCode)
}

func TestGetAvailability_NotFound(t *testing.T) {
	f := newFixture(t)
	svc := NewAvailabilityService(f.store, nil, f.metrics)

	_, err := svc.GetAvailability(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetAvailability_CacheErrorFallsBackToDatabase(t *testing.T) {
	f := newFixture(t)
	sku := f.addSKU("SHIRT", 10, "20.00")

	cache := new(MockAvailabilityCache)
	cache.On("GetSKU", mock.Anything, sku.ID).Return(nil, assert.AnError)
	cache.On("SetSKU", mock.Anything, mock.AnythingOfType("*models.SKU")).Return(nil).Maybe()
	svc := NewAvailabilityService(f.store, cache, f.metrics)

	got, err := svc.GetAvailability(context.Background(), sku.ID)
	require.NoError(t, err)
	assert.False(t, got.CacheHit)
	assert.Equal(t, 10, got.StockQuantity)
	cache.AssertCalled(t, "GetSKU", mock.Anything, sku.ID)
}

func TestHandleEvent_AppliesNewerCountersOnly(t *testing.T) {
	f := newFixture(t)
	sku := f.addSKU("SHIRT", 10, "20.00")
	_, cache := newRedisCache(t)
	svc := NewAvailabilityService(f.store, cache, f.metrics)
	ctx := context.Background()

	cached := sku.Clone()
	cached.Version = 3
	require.NoError(t, cache.SetSKU(ctx, cached))

	require.NoError(t, svc.HandleEvent(ctx, &models.ReservationEvent{
		EventType:        models.EventTypeReservationCreated,
		SKUID:            sku.ID,
		StockQuantity:    10,
		ReservedQuantity: 4,
		Version:          5,
		Timestamp:        time.Now(),
	}))

	got, err := cache.GetSKU(ctx, sku.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ReservedQuantity)
	assert.Equal(t, int64(5), got.Version)

	// Redelivered older event.
	require.NoError(t, svc.HandleEvent(ctx, &models.ReservationEvent{
		EventType:        models.EventTypeReservationCreated,
		SKUID:            sku.ID,
		StockQuantity:    10,
		ReservedQuantity: 1,
		Version:          4,
	}))

	got, err = cache.GetSKU(ctx, sku.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ReservedQuantity)
	assert.Equal(t, int64(5), got.Version)
}

func TestHandleEvent_UncachedSKUIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	mr, cache := newRedisCache(t)
	svc := NewAvailabilityService(f.store, cache, f.metrics)
	skuID := uuid.New()

	require.NoError(t, svc.HandleEvent(context.Background(), &models.ReservationEvent{SKUID: skuID, Version: 2}))
	assert.False(t, mr.Exists("test:sku:"+skuID.String()))
}

func TestReserve_InvalidatesCachedAvailability(t *testing.T) {
	f := newFixture(t)
	sku := f.addSKU("SHIRT", 10, "20.00")
	f.addCart("user-1", line{sku, 2})
	mr, cache := newRedisCache(t)
	require.NoError(t, cache.SetSKU(context.Background(), sku))

	svc, err := NewCheckoutService(f.store, nil, cache, f.metrics, CheckoutConfig{
		ReservationTTL: testReservationTTL,
		Clock:          f.clock.Now,
	})
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), "user-1", models.ReservationMetadata{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !mr.Exists("test:sku:" + sku.ID.String())
	}, time.Second, 10*time.Millisecond)
}
