package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// CacheClient caches SKU availability for the read side
type CacheClient struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

var _ interfaces.AvailabilityCache = (*CacheClient)(nil)

func NewCacheClient(client redis.UniversalClient, ttl time.Duration, keyPrefix string) *CacheClient {
	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetSKU returns the cached SKU, or (nil, nil) on a miss.
func (c *CacheClient) GetSKU(ctx context.Context, skuID uuid.UUID) (*models.SKU, error) {
	val, err := c.client.Get(ctx, c.skuKey(skuID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		log.Error().Err(err).Str("sku_id", skuID.String()).Msg("Failed to get sku from cache")
		return nil, fmt.Errorf("failed to get sku from cache: %w", err)
	}

	var sku models.SKU
	if err := json.Unmarshal(val, &sku); err != nil {
		log.Error().Err(err).Str("sku_id", skuID.String()).Msg("Failed to unmarshal cached sku")
		return nil, fmt.Errorf("failed to unmarshal cached sku: %w", err)
	}

	log.Debug().Str("sku_id", skuID.String()).Msg("Cache hit for sku")
	return &sku, nil
}

func (c *CacheClient) SetSKU(ctx context.Context, sku *models.SKU) error {
	data, err := json.Marshal(sku)
	if err != nil {
		return fmt.Errorf("failed to marshal sku: %w", err)
	}

	if err := c.client.Set(ctx, c.skuKey(sku.ID), data, c.ttl).Err(); err != nil {
		log.Error().Err(err).Str("sku_id", sku.ID.String()).Msg("Failed to set sku in cache")
		return fmt.Errorf("failed to set sku in cache: %w", err)
	}
	return nil
}

func (c *CacheClient) DeleteSKU(ctx context.Context, skuID uuid.UUID) error {
	if err := c.client.Del(ctx, c.skuKey(skuID)).Err(); err != nil {
		log.Error().Err(err).Str("sku_id", skuID.String()).Msg("Failed to delete sku from cache")
		return fmt.Errorf("failed to delete sku from cache: %w", err)
	}

	log.Debug().Str("sku_id", skuID.String()).Msg("Deleted sku from cache")
	return nil
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.client.Close()
}

func (c *CacheClient) skuKey(skuID uuid.UUID) string {
	return fmt.Sprintf("%ssku:%s", c.keyPrefix, skuID)
}
