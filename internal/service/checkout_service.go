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
	redislock "github.com/Movchanets/MyMarketplace-sub003/internal/redis"
)

// CheckoutConfig holds checkout reservation configuration
type CheckoutConfig struct {
	ReservationTTL time.Duration
	// LockTTL bounds how long one shopper's checkout may keep others waiting.
	LockTTL    time.Duration
	EnableLock bool
	Clock      func() time.Time
}

// Validate validates the checkout configuration
func (c CheckoutConfig) Validate() error {
	if c.ReservationTTL < time.Minute {
		return fmt.Errorf("reservation TTL must be at least 1 minute, got %v", c.ReservationTTL)
	}
	if c.EnableLock && c.LockTTL < time.Second {
		return fmt.Errorf("checkout lock TTL must be at least 1 second, got %v", c.LockTTL)
	}
	return nil
}

// CheckoutService reserves stock for a shopper's whole cart
type CheckoutService struct {
	store   interfaces.CheckoutStore
	locker  interfaces.Locker
	cache   interfaces.AvailabilityCache
	metrics *observability.Metrics
	config  CheckoutConfig
	now     func() time.Time
}

var _ interfaces.CheckoutReserver = (*CheckoutService)(nil)

// NewCheckoutService creates the service. locker and cache may be nil.
func NewCheckoutService(
	store interfaces.CheckoutStore,
	locker interfaces.Locker,
	cache interfaces.AvailabilityCache,
	metrics *observability.Metrics,
	config CheckoutConfig,
) (*CheckoutService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkout configuration: %w", err)
	}
	return &CheckoutService{
		store:   store,
		locker:  locker,
		cache:   cache,
		metrics: metrics,
		config:  config,
		now:     clockOrDefault(config.Clock),
	}, nil
}

// Reserve holds stock for every line of the shopper's cart, all or nothing.
// Holds left over from an earlier attempt are cancelled in the same
// transaction, so retrying checkout never double-reserves.
func (s *CheckoutService) Reserve(ctx context.Context, userID string, meta models.ReservationMetadata) (result *models.ReserveResult, err error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "checkout.reserve")
	span.SetAttributes(attribute.String("user.id", userID))
	defer func() {
		if err != nil {
			s.metrics.CheckoutFailed("reserve", string(models.GetErrorCode(err)))
		}
		observability.EndSpan(span, err)
		s.metrics.ObserveOperation("reserve", start)
	}()

	if userID == "" {
		return nil, models.NewValidationError("user_id", "user id is required", userID)
	}

	if s.locker == nil || !s.config.EnableLock {
		return s.reserve(ctx, userID, meta)
	}

	lockErr := s.locker.ExecuteWithLock(ctx, "checkout:user:"+userID, "", s.config.LockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.reserve(ctx, userID, meta)
		return err
	})
	if errors.Is(lockErr, redislock.ErrLockNotAcquired) {
		log.Warn().Str("user_id", userID).Msg("Checkout already in progress for user")
		return nil, models.ErrCheckoutInProgress
	}
	if lockErr != nil {
		return nil, lockErr
	}
	return result, nil
}

func (s *CheckoutService) reserve(ctx context.Context, userID string, meta models.ReservationMetadata) (*models.ReserveResult, error) {
	now := s.now()

	var (
		result    *models.ReserveResult
		touched   []uuid.UUID
		created   int
		cancelled int
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx interfaces.StoreTx) error {
		result = nil
		touched = nil
		created = 0
		cancelled = 0

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

		change := newLedgerChange(skus)
		if cancelled, err = releaseHolds(ctx, tx, change, holds, models.ReservationStatusCancelled, now); err != nil {
			return err
		}

		result = &models.ReserveResult{
			CartID:       cart.ID,
			Reservations: make([]models.ReservationLine, 0, len(cart.Items)),
		}
		for _, item := range cart.Items {
			sku := skus[item.SKUID]
			r, err := sku.ReserveStock(item.Quantity, cart.ID, meta, s.config.ReservationTTL, now)
			if err != nil {
				return err
			}
			if err := tx.CreateReservation(ctx, r); err != nil {
				return err
			}
			change.record(models.EventTypeReservationCreated, r)
			created++

			result.Reservations = append(result.Reservations, models.ReservationLine{
				ReservationID: r.ID,
				SKUID:         sku.ID,
				SKUCode:       sku.Code,
				Quantity:      r.Quantity,
				ExpiresAt:     r.ExpiresAt,
			})
			if result.CartExpiresAt.IsZero() || r.ExpiresAt.Before(result.CartExpiresAt) {
				result.CartExpiresAt = r.ExpiresAt
			}
		}

		touched = change.touchedIDs()
		return change.flush(ctx, tx, now)
	})
	if err != nil {
		var stockErr *models.InsufficientStockError
		if errors.As(err, &stockErr) {
			log.Info().
				Str("user_id", userID).
				Str("sku_id", stockErr.SKUID.String()).
				Int("requested", stockErr.Requested).
				Int("available", stockErr.Available).
				Msg("Checkout rejected, insufficient stock")
		}
		return nil, err
	}

	s.metrics.ReservationsCreated(created)
	for i := 0; i < cancelled; i++ {
		s.metrics.ReservationReleased(string(models.ReservationStatusCancelled))
	}
	invalidateSKUs(s.cache, touched)

	log.Info().
		Str("user_id", userID).
		Str("cart_id", result.CartID.String()).
		Int("reservations", created).
		Int("replaced", cancelled).
		Time("expires_at", result.CartExpiresAt).
		Msg("Cart reserved")

	return result, nil
}
