package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

const cacheInvalidationTimeout = 5 * time.Second

func clockOrDefault(clock func() time.Time) func() time.Time {
	if clock == nil {
		return time.Now
	}
	return clock
}

// ledgerChange collects what one transaction did to the ledger so the SKU
// rows are saved once and events are written with the final counters.
type ledgerChange struct {
	skus    map[uuid.UUID]*models.SKU
	touched map[uuid.UUID]struct{}
	events  []pendingEvent
}

type pendingEvent struct {
	eventType   string
	reservation *models.StockReservation
}

func newLedgerChange(skus map[uuid.UUID]*models.SKU) *ledgerChange {
	return &ledgerChange{
		skus:    skus,
		touched: make(map[uuid.UUID]struct{}),
	}
}

func (c *ledgerChange) touch(skuID uuid.UUID) {
	c.touched[skuID] = struct{}{}
}

func (c *ledgerChange) record(eventType string, r *models.StockReservation) {
	c.touch(r.SKUID)
	c.events = append(c.events, pendingEvent{eventType: eventType, reservation: r})
}

func (c *ledgerChange) touchedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.touched))
	for id := range c.touched {
		ids = append(ids, id)
	}
	return ids
}

// flush saves every touched SKU and appends one outbox event per recorded
// reservation transition.
func (c *ledgerChange) flush(ctx context.Context, tx interfaces.StoreTx, now time.Time) error {
	for id := range c.touched {
		if err := tx.SaveSKU(ctx, c.skus[id]); err != nil {
			return err
		}
	}
	for _, e := range c.events {
		sku := c.skus[e.reservation.SKUID]
		event := models.NewReservationEvent(e.eventType, sku, e.reservation, now)
		if err := tx.AppendOutbox(ctx, e.eventType, event.Key(), event); err != nil {
			return err
		}
	}
	return nil
}

// lockCartScope locks every SKU the cart lines point at plus every SKU the
// cart currently holds, in one ordered pass, and returns the cart's ACTIVE
// reservations re-read under those locks.
func lockCartScope(ctx context.Context, tx interfaces.StoreTx, cart *models.Cart) (map[uuid.UUID]*models.SKU, []*models.StockReservation, error) {
	holds, err := tx.ListActiveReservationsForCart(ctx, cart.ID, false)
	if err != nil {
		return nil, nil, err
	}

	ids := cart.SKUIDs()
	for _, r := range holds {
		ids = append(ids, r.SKUID)
	}

	skus, err := tx.LockSKUs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	holds, err = tx.ListActiveReservationsForCart(ctx, cart.ID, true)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range holds {
		// A hold created between the two reads on a SKU we did not lock.
		if _, ok := skus[r.SKUID]; !ok {
			return nil, nil, fmt.Errorf("cart %s gained a hold on sku %s while locking: %w", cart.ID, r.SKUID, models.ErrConcurrencyConflict)
		}
	}
	return skus, holds, nil
}

// releaseHolds returns held units to stock and moves the reservations to
// status. The SKUs must be locked and present in change.
func releaseHolds(ctx context.Context, tx interfaces.StoreTx, change *ledgerChange, holds []*models.StockReservation, status models.ReservationStatus, now time.Time) (int, error) {
	eventType := models.EventTypeReservationCancelled
	if status == models.ReservationStatusExpired {
		eventType = models.EventTypeReservationExpired
	}

	released := 0
	for _, r := range holds {
		sku, ok := change.skus[r.SKUID]
		if !ok {
			// Only possible when a hold appeared on a SKU after the lock pass.
			return released, fmt.Errorf("reservation %s holds unlocked sku %s: %w", r.ID, r.SKUID, models.ErrConcurrencyConflict)
		}
		ok, err := sku.ReleaseReservation(r, status, now)
		if err != nil {
			return released, err
		}
		if !ok {
			continue
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return released, err
		}
		change.record(eventType, r)
		released++
	}
	return released, nil
}

// invalidateSKUs drops cached availability after a commit without holding
// up the caller.
func invalidateSKUs(cache interfaces.AvailabilityCache, skuIDs []uuid.UUID) {
	if cache == nil || len(skuIDs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheInvalidationTimeout)
		defer cancel()

		for _, id := range skuIDs {
			if err := cache.DeleteSKU(ctx, id); err != nil {
				log.Error().Err(err).Str("sku_id", id.String()).Msg("Failed to invalidate availability cache")
			}
		}
	}()
}
