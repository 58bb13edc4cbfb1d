package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

const (
	DefaultCleanupBatchSize = 100
	DefaultCleanupInterval  = 5 * time.Minute
)

// CleanupConfig holds sweeper configuration
type CleanupConfig struct {
	BatchSize int
	Interval  time.Duration
	Clock     func() time.Time
}

// Validate validates the sweeper configuration
func (c CleanupConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("cleanup batch size must be positive, got %d", c.BatchSize)
	}
	if c.Interval < time.Second {
		return fmt.Errorf("cleanup interval must be at least 1 second, got %v", c.Interval)
	}
	return nil
}

// CleanupService returns stock held by abandoned reservations
type CleanupService struct {
	store   interfaces.CheckoutStore
	cache   interfaces.AvailabilityCache
	metrics *observability.Metrics
	config  CleanupConfig
	now     func() time.Time
}

var _ interfaces.ReservationReleaser = (*CleanupService)(nil)

func NewCleanupService(
	store interfaces.CheckoutStore,
	cache interfaces.AvailabilityCache,
	metrics *observability.Metrics,
	config CleanupConfig,
) (*CleanupService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cleanup configuration: %w", err)
	}
	return &CleanupService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		config:  config,
		now:     clockOrDefault(config.Clock),
	}, nil
}

// Run sweeps on every tick until ctx is done.
func (s *CleanupService) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.config.Interval).
		Int("batch_size", s.config.BatchSize).
		Msg("Starting reservation sweeper")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping reservation sweeper")
			return nil
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx, s.config.BatchSize); err != nil {
				log.Error().Err(err).Msg("Reservation sweep failed")
			}
		}
	}
}

// CleanupExpired expires up to batchSize overdue reservations, each in its
// own transaction. A reservation that fails is logged and left for the next
// sweep; it never blocks the rest of the batch. The result is the number of
// reservations this call actually released.
func (s *CleanupService) CleanupExpired(ctx context.Context, batchSize int) (released int, err error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "checkout.cleanup_expired")
	defer func() {
		span.SetAttributes(attribute.Int("reservations.released", released))
		observability.EndSpan(span, err)
		s.metrics.ObserveOperation("cleanup_expired", start)
	}()

	if batchSize <= 0 {
		batchSize = s.config.BatchSize
	}
	now := s.now()

	ids, err := s.store.ListExpiredReservationIDs(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var touched []uuid.UUID
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		skuID, ok, err := s.expireReservation(ctx, id, now)
		if err != nil {
			failed++
			s.metrics.CleanupFailed()
			log.Error().Err(err).Str("reservation_id", id.String()).Msg("Failed to expire reservation")
			continue
		}
		if ok {
			released++
			touched = append(touched, skuID)
			s.metrics.ReservationReleased(string(models.ReservationStatusExpired))
		}
	}

	s.metrics.CleanupExpired(released)
	invalidateSKUs(s.cache, touched)

	log.Info().
		Int("candidates", len(ids)).
		Int("released", released).
		Int("failed", failed).
		Msg("Reservation sweep finished")

	return released, nil
}

// expireReservation re-checks the reservation under the SKU lock; if an
// order converted it or a shopper cancelled it meanwhile, nothing happens.
func (s *CleanupService) expireReservation(ctx context.Context, reservationID uuid.UUID, now time.Time) (uuid.UUID, bool, error) {
	var (
		skuID    uuid.UUID
		released bool
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx interfaces.StoreTx) error {
		released = false

		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil || r.Status != models.ReservationStatusActive {
			return nil
		}
		skuID = r.SKUID

		skus, err := tx.LockSKUs(ctx, []uuid.UUID{r.SKUID})
		if err != nil {
			return err
		}
		r, err = tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil || r.Status != models.ReservationStatusActive || !r.IsExpiredAt(now) {
			return nil
		}

		change := newLedgerChange(skus)
		n, err := releaseHolds(ctx, tx, change, []*models.StockReservation{r}, models.ReservationStatusExpired, now)
		if err != nil {
			return err
		}
		if err := change.flush(ctx, tx, now); err != nil {
			return err
		}
		released = n == 1
		return nil
	})
	if err != nil {
		return skuID, false, err
	}

	if released {
		log.Debug().
			Str("reservation_id", reservationID.String()).
			Str("sku_id", skuID.String()).
			Msg("Expired reservation")
	}
	return skuID, released, nil
}

// ReleaseReservation cancels one reservation on behalf of the shopper. It
// reports false when the reservation was already terminal.
func (s *CleanupService) ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	var (
		skuID    uuid.UUID
		released bool
	)
	now := s.now()

	err := s.store.InTx(ctx, func(ctx context.Context, tx interfaces.StoreTx) error {
		released = false

		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil {
			return models.NewNotFoundError("reservation", reservationID.String())
		}
		if r.Status.IsTerminal() {
			return nil
		}
		skuID = r.SKUID

		skus, err := tx.LockSKUs(ctx, []uuid.UUID{r.SKUID})
		if err != nil {
			return err
		}
		r, err = tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil {
			return models.NewNotFoundError("reservation", reservationID.String())
		}

		change := newLedgerChange(skus)
		n, err := releaseHolds(ctx, tx, change, []*models.StockReservation{r}, models.ReservationStatusCancelled, now)
		if err != nil {
			return err
		}
		if err := change.flush(ctx, tx, now); err != nil {
			return err
		}
		released = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if released {
		s.metrics.ReservationReleased(string(models.ReservationStatusCancelled))
		invalidateSKUs(s.cache, []uuid.UUID{skuID})
		log.Info().
			Str("reservation_id", reservationID.String()).
			Str("sku_id", skuID.String()).
			Msg("Reservation cancelled")
	}
	return released, nil
}

// ReleaseAllForCart cancels every ACTIVE reservation of the cart and returns
// how many were released.
func (s *CleanupService) ReleaseAllForCart(ctx context.Context, cartID uuid.UUID) (int, error) {
	var (
		released int
		touched  []uuid.UUID
	)
	now := s.now()

	err := s.store.InTx(ctx, func(ctx context.Context, tx interfaces.StoreTx) error {
		released = 0
		touched = nil

		holds, err := tx.ListActiveReservationsForCart(ctx, cartID, false)
		if err != nil {
			return err
		}
		if len(holds) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(holds))
		for i, r := range holds {
			ids[i] = r.SKUID
		}
		skus, err := tx.LockSKUs(ctx, ids)
		if err != nil {
			return err
		}
		holds, err = tx.ListActiveReservationsForCart(ctx, cartID, true)
		if err != nil {
			return err
		}

		change := newLedgerChange(skus)
		if released, err = releaseHolds(ctx, tx, change, holds, models.ReservationStatusCancelled, now); err != nil {
			return err
		}
		touched = change.touchedIDs()
		return change.flush(ctx, tx, now)
	})
	if err != nil {
		return 0, err
	}

	for i := 0; i < released; i++ {
		s.metrics.ReservationReleased(string(models.ReservationStatusCancelled))
	}
	invalidateSKUs(s.cache, touched)

	log.Info().
		Str("cart_id", cartID.String()).
		Int("released", released).
		Msg("Released cart reservations")
	return released, nil
}
