package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

// AvailabilityService serves SKU availability from the cache, falling back
// to the database, and keeps the cache current from reservation events.
type AvailabilityService struct {
	store   interfaces.CheckoutStore
	cache   interfaces.AvailabilityCache
	metrics *observability.Metrics
}

var (
	_ interfaces.AvailabilityReader = (*AvailabilityService)(nil)
	_ interfaces.EventHandler       = (*AvailabilityService)(nil)
)

func NewAvailabilityService(store interfaces.CheckoutStore, cache interfaces.AvailabilityCache, metrics *observability.Metrics) *AvailabilityService {
	return &AvailabilityService{store: store, cache: cache, metrics: metrics}
}

// GetAvailability returns SKU availability, checking cache first
func (s *AvailabilityService) GetAvailability(ctx context.Context, skuID uuid.UUID) (*models.AvailabilityResponse, error) {
	if s.cache != nil {
		sku, err := s.cache.GetSKU(ctx, skuID)
		switch {
		case err != nil:
			s.metrics.CacheLookup("error")
			log.Error().Err(err).Str("sku_id", skuID.String()).Msg("Cache error, falling back to database")
		case sku != nil:
			s.metrics.CacheLookup("hit")
			return models.NewAvailabilityResponse(sku, true), nil
		default:
			s.metrics.CacheLookup("miss")
		}
	}

	sku, err := s.store.GetSKU(ctx, skuID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sku from database: %w", err)
	}
	if sku == nil {
		return nil, models.NewNotFoundError("sku", skuID.String())
	}

	if s.cache != nil {
		go func(sku *models.SKU) {
			ctx, cancel := context.WithTimeout(context.Background(), cacheInvalidationTimeout)
			defer cancel()
			if err := s.cache.SetSKU(ctx, sku); err != nil {
				log.Error().Err(err).Str("sku_id", sku.ID.String()).Msg("Failed to update cache")
			}
		}(sku.Clone())
	}

	return models.NewAvailabilityResponse(sku, false), nil
}

// HandleEvent applies the counters carried by a reservation event to the
// cached SKU. Events older than the cached version are ignored; SKUs that are
// not cached are left for the next read to load.
func (s *AvailabilityService) HandleEvent(ctx context.Context, event *models.ReservationEvent) error {
	if s.cache == nil {
		return nil
	}

	cached, err := s.cache.GetSKU(ctx, event.SKUID)
	if err != nil {
		return fmt.Errorf("failed to read cached sku: %w", err)
	}
	if cached == nil {
		return nil
	}
	if cached.Version >= event.Version {
		log.Debug().
			Str("sku_id", event.SKUID.String()).
			Int64("cached_version", cached.Version).
			Int64("event_version", event.Version).
			Msg("Stale event, cache already newer")
		return nil
	}

	cached.StockQuantity = event.StockQuantity
	cached.ReservedQuantity = event.ReservedQuantity
	cached.Version = event.Version
	cached.UpdatedAt = event.Timestamp
	if cached.UpdatedAt.IsZero() {
		cached.UpdatedAt = time.Now()
	}

	if err := s.cache.SetSKU(ctx, cached); err != nil {
		return fmt.Errorf("failed to update cached sku: %w", err)
	}

	log.Debug().
		Str("sku_id", event.SKUID.String()).
		Str("event_type", event.EventType).
		Int("available", cached.AvailableQuantity()).
		Msg("Applied reservation event to cache")
	return nil
}
