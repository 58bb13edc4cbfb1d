// Package memory is an in-process implementation of the checkout store.
//
// Transactions are serialized by a single mutex and run against a private
// copy of the data, which replaces the committed state only when the closure
// succeeds. That gives the same all-or-nothing outcome as the PostgreSQL
// store without a database, for tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

type state struct {
	skus         map[uuid.UUID]*models.SKU
	carts        map[uuid.UUID]*models.Cart
	cartByUser   map[string]uuid.UUID
	reservations map[uuid.UUID]*models.StockReservation
	orders       map[uuid.UUID]*models.Order
	orderByKey   map[string]uuid.UUID
	outbox       []models.OutboxEvent
	nextOutboxID int64
}

func newState() *state {
	return &state{
		skus:         make(map[uuid.UUID]*models.SKU),
		carts:        make(map[uuid.UUID]*models.Cart),
		cartByUser:   make(map[string]uuid.UUID),
		reservations: make(map[uuid.UUID]*models.StockReservation),
		orders:       make(map[uuid.UUID]*models.Order),
		orderByKey:   make(map[string]uuid.UUID),
		nextOutboxID: 1,
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, sku := range s.skus {
		c.skus[id] = sku.Clone()
	}
	for id, cart := range s.carts {
		c.carts[id] = cart.Clone()
	}
	for user, id := range s.cartByUser {
		c.cartByUser[user] = id
	}
	for id, r := range s.reservations {
		c.reservations[id] = r.Clone()
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for key, id := range s.orderByKey {
		c.orderByKey[key] = id
	}
	c.outbox = append(c.outbox, s.outbox...)
	c.nextOutboxID = s.nextOutboxID
	return c
}

// Store is the in-memory CheckoutStore.
type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[uuid.UUID]error
}

var _ interfaces.CheckoutStore = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		st:     newState(),
		faults: make(map[uuid.UUID]error),
	}
}

// InTx runs fn against a private copy of the data and commits it on success.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(ctx, &memTx{st: work, faults: s.faults}); err != nil {
		return err
	}
	// A cancelled caller never commits.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetSKU(ctx context.Context, skuID uuid.UUID) (*models.SKU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sku, ok := s.st.skus[skuID]; ok {
		return sku.Clone(), nil
	}
	return nil, nil
}

func (s *Store) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.st.reservations[reservationID]; ok {
		return r.Clone(), nil
	}
	return nil, nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.st.orderByKey[key]; ok {
		return s.st.orders[id].Clone(), nil
	}
	return nil, nil
}

func (s *Store) ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.StockReservation
	for _, r := range s.st.reservations {
		if r.Status == models.ReservationStatusActive && r.IsExpiredAt(now) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]uuid.UUID, len(expired))
	for i, r := range expired {
		ids[i] = r.ID
	}
	return ids, nil
}

// Seeding and inspection helpers

// PutSKU inserts or replaces a SKU.
func (s *Store) PutSKU(sku *models.SKU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.skus[sku.ID] = sku.Clone()
}

// PutCart inserts or replaces a cart and indexes it by user.
func (s *Store) PutCart(cart *models.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cart.Clone()
	for i := range c.Items {
		c.Items[i].SKU = nil
		c.Items[i].CartID = c.ID
	}
	s.st.carts[c.ID] = c
	s.st.cartByUser[c.UserID] = c.ID
}

// PutReservation inserts or replaces a reservation without touching SKU counters.
func (s *Store) PutReservation(r *models.StockReservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.reservations[r.ID] = r.Clone()
}

// SetCartQuantity changes a cart line the way a shopper editing the cart would.
func (s *Store) SetCartQuantity(cartID, skuID uuid.UUID, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.st.carts[cartID]
	if !ok {
		return
	}
	for i := range cart.Items {
		if cart.Items[i].SKUID == skuID {
			cart.Items[i].Quantity = qty
		}
	}
	cart.Version++
}

// FailUpdatesFor makes every update of the reservation fail with err.
func (s *Store) FailUpdatesFor(reservationID uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[reservationID] = err
}

func (s *Store) SKU(skuID uuid.UUID) *models.SKU {
	sku, _ := s.GetSKU(context.Background(), skuID)
	return sku
}

func (s *Store) Cart(cartID uuid.UUID) *models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.st.carts[cartID]; ok {
		return c.Clone()
	}
	return nil
}

// Reservations returns every reservation, optionally filtered by cart.
func (s *Store) Reservations(cartID *uuid.UUID) []*models.StockReservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StockReservation
	for _, r := range s.st.reservations {
		if cartID != nil && r.CartID != *cartID {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Orders() []*models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o.Clone())
	}
	return out
}

func (s *Store) OutboxEvents() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.st.outbox...)
}

// memTx works on the private copy owned by one InTx call. Reads hand out
// clones so callers must SaveSKU/UpdateReservation to persist changes, just
// like with the SQL store.
type memTx struct {
	st     *state
	faults map[uuid.UUID]error
}

func (t *memTx) LockSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[uuid.UUID]*models.SKU, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	locked := make(map[uuid.UUID]*models.SKU, len(skuIDs))
	for _, id := range skuIDs {
		sku, ok := t.st.skus[id]
		if !ok {
			return nil, models.NewNotFoundError("sku", id.String())
		}
		locked[id] = sku.Clone()
	}
	return locked, nil
}

func (t *memTx) SaveSKU(ctx context.Context, sku *models.SKU) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, ok := t.st.skus[sku.ID]
	if !ok {
		return models.NewNotFoundError("sku", sku.ID.String())
	}
	if stored.Version != sku.Version {
		return fmt.Errorf("sku %s version %d, expected %d: %w", sku.Code, stored.Version, sku.Version, models.ErrConcurrencyConflict)
	}
	if err := sku.CheckInvariant(); err != nil {
		return err
	}
	sku.Version++
	t.st.skus[sku.ID] = sku.Clone()
	return nil
}

func (t *memTx) GetCartByUser(ctx context.Context, userID string) (*models.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ok := t.st.cartByUser[userID]
	if !ok {
		return nil, nil
	}
	cart := t.st.carts[id].Clone()
	for i := range cart.Items {
		sku, ok := t.st.skus[cart.Items[i].SKUID]
		if !ok {
			return nil, models.NewNotFoundError("sku", cart.Items[i].SKUID.String())
		}
		cart.Items[i].SKU = sku.Clone()
	}
	return cart, nil
}

func (t *memTx) ClearCart(ctx context.Context, cart *models.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, ok := t.st.carts[cart.ID]
	if !ok {
		return models.NewNotFoundError("cart", cart.ID.String())
	}
	if stored.Version != cart.Version {
		return fmt.Errorf("cart %s version %d, expected %d: %w", cart.ID, stored.Version, cart.Version, models.ErrConcurrencyConflict)
	}
	stored.Items = nil
	stored.Version++
	cart.Items = nil
	cart.Version = stored.Version
	return nil
}

func (t *memTx) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r, ok := t.st.reservations[reservationID]; ok {
		return r.Clone(), nil
	}
	return nil, nil
}

func (t *memTx) GetReservationForUpdate(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	return t.GetReservation(ctx, reservationID)
}

func (t *memTx) ListActiveReservationsForCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*models.StockReservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.StockReservation
	for _, r := range t.st.reservations {
		if r.CartID == cartID && r.Status == models.ReservationStatusActive {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) CreateReservation(ctx context.Context, reservation *models.StockReservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := t.st.reservations[reservation.ID]; exists {
		return fmt.Errorf("reservation %s already exists", reservation.ID)
	}
	t.st.reservations[reservation.ID] = reservation.Clone()
	return nil
}

func (t *memTx) UpdateReservation(ctx context.Context, reservation *models.StockReservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := t.faults[reservation.ID]; ok {
		return err
	}
	if _, ok := t.st.reservations[reservation.ID]; !ok {
		return models.NewNotFoundError("reservation", reservation.ID.String())
	}
	t.st.reservations[reservation.ID] = reservation.Clone()
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.IdempotencyKey != nil {
		if _, exists := t.st.orderByKey[*order.IdempotencyKey]; exists {
			return models.ErrDuplicateOrder
		}
		t.st.orderByKey[*order.IdempotencyKey] = order.ID
	}
	t.st.orders[order.ID] = order.Clone()
	return nil
}

func (t *memTx) AppendOutbox(ctx context.Context, eventType, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	t.st.outbox = append(t.st.outbox, models.OutboxEvent{
		ID:        t.st.nextOutboxID,
		EventType: eventType,
		Key:       key,
		Payload:   string(data),
		CreatedAt: time.Now(),
	})
	t.st.nextOutboxID++
	return nil
}
