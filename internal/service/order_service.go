package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

// OrderConfig holds order conversion configuration
type OrderConfig struct {
	Clock func() time.Time
}

// OrderService turns a shopper's cart and its holds into an order
type OrderService struct {
	store   interfaces.CheckoutStore
	cache   interfaces.AvailabilityCache
	metrics *observability.Metrics
	now     func() time.Time
}

var _ interfaces.OrderCreator = (*OrderService)(nil)

func NewOrderService(
	store interfaces.CheckoutStore,
	cache interfaces.AvailabilityCache,
	metrics *observability.Metrics,
	config OrderConfig,
) *OrderService {
	return &OrderService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		now:     clockOrDefault(config.Clock),
	}
}

// orderOutcome is what one run of the order transaction produced
type orderOutcome struct {
	order     *models.Order
	touched   []uuid.UUID
	converted int
	deducted  int
	cancelled int
}

// CreateOrder places the order for the shopper's current cart. With an
// idempotency key, repeating the call returns the first order and reports
// created=false instead of charging stock twice.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *models.PlaceOrderRequest) (order *models.Order, created bool, err error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "checkout.create_order")
	span.SetAttributes(attribute.String("user.id", userID))
	defer func() {
		if err != nil {
			s.metrics.CheckoutFailed("create_order", string(models.GetErrorCode(err)))
		} else {
			s.metrics.OrderReturned(created)
			span.SetAttributes(attribute.Bool("order.created", created))
		}
		observability.EndSpan(span, err)
		s.metrics.ObserveOperation("create_order", start)
	}()

	if userID == "" {
		return nil, false, models.NewValidationError("user_id", "user id is required", userID)
	}
	if req == nil {
		return nil, false, models.NewValidationError("body", "order request is required", nil)
	}
	if req.IdempotencyKey != nil && *req.IdempotencyKey == "" {
		req.IdempotencyKey = nil
	}

	if req.IdempotencyKey != nil {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency check failed: %w", err)
		}
		if existing != nil {
			log.Info().
				Str("order_id", existing.ID.String()).
				Str("idempotency_key", *req.IdempotencyKey).
				Msg("Returning existing order for idempotency key")
			return existing, false, nil
		}
	}

	outcome, err := s.placeOrder(ctx, userID, req)
	if err != nil {
		// A twin request with the same key may have committed first; it
		// cleared the cart or took the key, and its order is the answer.
		if req.IdempotencyKey != nil && (errors.Is(err, models.ErrDuplicateOrder) || errors.Is(err, models.ErrEmptyCart)) {
			existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, *req.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("idempotency check failed: %w", lookupErr)
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		if errors.Is(err, models.ErrDuplicateOrder) {
			return nil, false, fmt.Errorf("%v: %w", err, models.ErrConcurrencyConflict)
		}
		return nil, false, err
	}

	s.metrics.ReservationsConverted(outcome.converted)
	s.metrics.DirectDeductions(outcome.deducted)
	for i := 0; i < outcome.cancelled; i++ {
		s.metrics.ReservationReleased(string(models.ReservationStatusCancelled))
	}
	invalidateSKUs(s.cache, outcome.touched)

	log.Info().
		Str("order_id", outcome.order.ID.String()).
		Str("user_id", userID).
		Str("cart_id", outcome.order.CartID.String()).
		Str("subtotal", outcome.order.Subtotal.StringFixed(2)).
		Int("converted", outcome.converted).
		Int("deducted", outcome.deducted).
		Int("cancelled", outcome.cancelled).
		Msg("Order created")

	return outcome.order, true, nil
}

func (s *OrderService) placeOrder(ctx context.Context, userID string, req *models.PlaceOrderRequest) (*orderOutcome, error) {
	now := s.now()
	var outcome *orderOutcome

	err := s.store.InTx(ctx, func(ctx context.Context, tx interfaces.StoreTx) error {
		outcome = &orderOutcome{}

		cart, err := tx.GetCartByUser(ctx, userID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return models.ErrEmptyCart
		}

		skus, holds, err := lockCartScope(ctx, tx, cart)
		if err != nil {
			return err
		}

		order := &models.Order{
			ID:             uuid.New(),
			UserID:         userID,
			CartID:         cart.ID,
			IdempotencyKey: req.IdempotencyKey,
			Status:         models.OrderStatusPending,
			PaymentMethod:  req.PaymentMethod,
			CreatedAt:      now,
			Shipping:       req.Shipping,
		}

		change := newLedgerChange(skus)
		if err := s.settleStock(ctx, tx, change, cart, holds, order.ID, now, outcome); err != nil {
			return err
		}

		// Snapshot from the locked rows, not the cart's copy.
		order.Items = make([]models.OrderItem, 0, len(cart.Items))
		for _, item := range cart.Items {
			order.Items = append(order.Items, models.NewOrderItem(order.ID, skus[item.SKUID], item.Quantity))
		}
		order.RecalculateSubtotal()

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, cart); err != nil {
			return err
		}
		if err := change.flush(ctx, tx, now); err != nil {
			return err
		}

		orderEvent := &models.OrderCreatedEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			OrderID:   order.ID,
			UserID:    order.UserID,
			CartID:    order.CartID,
			Subtotal:  order.Subtotal.StringFixed(2),
			ItemCount: len(order.Items),
			Timestamp: now,
		}
		if err := tx.AppendOutbox(ctx, models.EventTypeOrderCreated, order.ID.String(), orderEvent); err != nil {
			return err
		}

		outcome.order = order
		outcome.touched = change.touchedIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// settleStock converts the cart's holds into deductions. Per SKU, holds are
// converted whole while they fit in the ordered quantity; whatever is still
// missing is deducted directly from available stock. Holds that do not fit,
// and holds on SKUs no longer in the cart, are cancelled first so their units
// count as available for the direct deduction.
func (s *OrderService) settleStock(
	ctx context.Context,
	tx interfaces.StoreTx,
	change *ledgerChange,
	cart *models.Cart,
	holds []*models.StockReservation,
	orderID uuid.UUID,
	now time.Time,
	outcome *orderOutcome,
) error {
	holdsBySKU := make(map[uuid.UUID][]*models.StockReservation)
	for _, r := range holds {
		holdsBySKU[r.SKUID] = append(holdsBySKU[r.SKUID], r)
	}
	wanted := cart.QuantityBySKU()

	// Holds on SKUs the shopper removed from the cart.
	var orphans []*models.StockReservation
	for skuID, rs := range holdsBySKU {
		if _, ok := wanted[skuID]; !ok {
			orphans = append(orphans, rs...)
		}
	}
	n, err := releaseHolds(ctx, tx, change, orphans, models.ReservationStatusCancelled, now)
	if err != nil {
		return err
	}
	outcome.cancelled += n

	for _, skuID := range cart.SKUIDs() {
		sku := change.skus[skuID]
		need := wanted[skuID]

		var surplus []*models.StockReservation
		for _, r := range holdsBySKU[skuID] {
			if r.Quantity > need {
				surplus = append(surplus, r)
				continue
			}
			if err := sku.ConvertReservationToDeduction(r, orderID, now); err != nil {
				return err
			}
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			change.record(models.EventTypeReservationConverted, r)
			need -= r.Quantity
			outcome.converted++
		}

		n, err := releaseHolds(ctx, tx, change, surplus, models.ReservationStatusCancelled, now)
		if err != nil {
			return err
		}
		outcome.cancelled += n

		if need > 0 {
			if err := sku.DeductStock(need, now); err != nil {
				return err
			}
			change.touch(skuID)
			outcome.deducted++
		}
	}
	return nil
}
