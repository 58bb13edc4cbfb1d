package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

const selectSKU = `SELECT id, product_id, code, product_name, attributes, price,
			  stock_quantity, reserved_quantity, version, updated_at
			  FROM skus`

// LockSKUs takes the row lock on every SKU in ascending id order. Every
// writer goes through here first, so two transactions touching overlapping
// SKU sets always queue instead of deadlocking.
func (t *pgTx) LockSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[uuid.UUID]*models.SKU, error) {
	ids := sortedUnique(skuIDs)
	locked := make(map[uuid.UUID]*models.SKU, len(ids))
	if len(ids) == 0 {
		return locked, nil
	}

	query := selectSKU + ` WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`

	var skus []models.SKU
	if err := t.tx.SelectContext(ctx, &skus, query, uuidStrings(ids)); err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("Failed to lock skus")
		return nil, fmt.Errorf("failed to lock skus: %w", err)
	}

	for i := range skus {
		locked[skus[i].ID] = &skus[i]
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, models.NewNotFoundError("sku", id.String())
		}
	}
	return locked, nil
}

// SaveSKU writes the ledger counters back. The version guard catches writers
// that skipped LockSKUs.
func (t *pgTx) SaveSKU(ctx context.Context, sku *models.SKU) error {
	if err := sku.CheckInvariant(); err != nil {
		return err
	}

	query := `UPDATE skus
			  SET stock_quantity = $2, reserved_quantity = $3, version = version + 1, updated_at = $4
			  WHERE id = $1 AND version = $5`

	result, err := t.tx.ExecContext(ctx, query, sku.ID, sku.StockQuantity, sku.ReservedQuantity, sku.UpdatedAt, sku.Version)
	if err != nil {
		log.Error().Err(err).Str("sku_id", sku.ID.String()).Msg("Failed to update sku")
		return fmt.Errorf("failed to update sku: %w", translate(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("sku %s version %d: %w", sku.Code, sku.Version, models.ErrConcurrencyConflict)
	}

	sku.Version++
	return nil
}
