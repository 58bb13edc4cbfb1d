package service

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
	"github.com/Movchanets/MyMarketplace-sub003/internal/repository/memory"
)

const testReservationTTL = 15 * time.Minute

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture wires the services against one in-memory store and a fake clock.
type fixture struct {
	t        *testing.T
	store    *memory.Store
	clock    *testClock
	metrics  *observability.Metrics
	checkout *CheckoutService
	orders   *OrderService
	cleanup  *CleanupService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	clock := newTestClock()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	checkout, err := NewCheckoutService(store, nil, nil, metrics, CheckoutConfig{
		ReservationTTL: testReservationTTL,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	cleanup, err := NewCleanupService(store, nil, metrics, CleanupConfig{
		BatchSize: 100,
		Interval:  time.Minute,
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	return &fixture{
		t:        t,
		store:    store,
		clock:    clock,
		metrics:  metrics,
		checkout: checkout,
		orders:   NewOrderService(store, nil, metrics, OrderConfig{Clock: clock.Now}),
		cleanup:  cleanup,
	}
}

func (f *fixture) addSKU(code string, stock int, price string) *models.SKU {
	sku := &models.SKU{
		ID:            uuid.New(),
		ProductID:     uuid.New(),
		Code:          code,
		ProductName:   "Product " + code,
		Attributes:    models.Attributes{"size": "M"},
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		Version:       1,
		UpdatedAt:     f.clock.Now(),
	}
	f.store.PutSKU(sku)
	return sku
}

type line struct {
	sku *models.SKU
	qty int
}

func (f *fixture) addCart(userID string, lines ...line) *models.Cart {
	cart := &models.Cart{ID: uuid.New(), UserID: userID, Version: 1}
	for _, l := range lines {
		cart.Items = append(cart.Items, models.CartItem{
			ID:        uuid.New(),
			ProductID: l.sku.ProductID,
			SKUID:     l.sku.ID,
			Quantity:  l.qty,
		})
	}
	f.store.PutCart(cart)
	return cart
}

func (f *fixture) requireLedger(sku *models.SKU, stock, reserved int) {
	f.t.Helper()
	got := f.store.SKU(sku.ID)
	require.NotNil(f.t, got)
	require.Equal(f.t, stock, got.StockQuantity, "stock of %s", sku.Code)
	require.Equal(f.t, reserved, got.ReservedQuantity, "reserved of %s", sku.Code)
	require.NoError(f.t, got.CheckInvariant())
}

func (f *fixture) reservationsByStatus(cartID uuid.UUID) map[models.ReservationStatus]int {
	counts := make(map[models.ReservationStatus]int)
	for _, r := range f.store.Reservations(&cartID) {
		counts[r.Status]++
	}
	return counts
}

func (f *fixture) outboxTypes() []string {
	var types []string
	for _, e := range f.store.OutboxEvents() {
		types = append(types, e.EventType)
	}
	return types
}

func strPtr(s string) *string { return &s }

func shipping() models.ShippingInfo {
	return models.ShippingInfo{
		RecipientName: "Olena Test",
		Phone:         "+380501112233",
		AddressLine:   "1 Khreshchatyk St",
		City:          "Kyiv",
		PostalCode:    "01001",
		Country:       "UA",
	}
}
