package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

// cartItemRow is one cart line joined with the SKU it points at.
type cartItemRow struct {
	ID        uuid.UUID `db:"id"`
	CartID    uuid.UUID `db:"cart_id"`
	ProductID uuid.UUID `db:"product_id"`
	SKUID     uuid.UUID `db:"sku_id"`
	Quantity  int       `db:"quantity"`

	SKUCode          string            `db:"sku_code"`
	ProductName      string            `db:"product_name"`
	Attributes       models.Attributes `db:"attributes"`
	Price            decimal.Decimal   `db:"price"`
	StockQuantity    int               `db:"stock_quantity"`
	ReservedQuantity int               `db:"reserved_quantity"`
	SKUVersion       int64             `db:"sku_version"`
	SKUUpdatedAt     time.Time         `db:"sku_updated_at"`
}

func (r *cartItemRow) toModel() models.CartItem {
	return models.CartItem{
		ID:        r.ID,
		CartID:    r.CartID,
		ProductID: r.ProductID,
		SKUID:     r.SKUID,
		Quantity:  r.Quantity,
		SKU: &models.SKU{
			ID:               r.SKUID,
			ProductID:        r.ProductID,
			Code:             r.SKUCode,
			ProductName:      r.ProductName,
			Attributes:       r.Attributes,
			Price:            r.Price,
			StockQuantity:    r.StockQuantity,
			ReservedQuantity: r.ReservedQuantity,
			Version:          r.SKUVersion,
			UpdatedAt:        r.SKUUpdatedAt,
		},
	}
}

// GetCartByUser loads the cart and a snapshot of each line's SKU. The
// snapshot is informational; ledger decisions use the rows from LockSKUs.
func (t *pgTx) GetCartByUser(ctx context.Context, userID string) (*models.Cart, error) {
	var cart models.Cart
	err := t.tx.GetContext(ctx, &cart, `SELECT id, user_id, version, updated_at FROM carts WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get cart")
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	query := `SELECT ci.id, ci.cart_id, ci.product_id, ci.sku_id, ci.quantity,
			  s.code AS sku_code, s.product_name, s.attributes, s.price,
			  s.stock_quantity, s.reserved_quantity, s.version AS sku_version, s.updated_at AS sku_updated_at
			  FROM cart_items ci
			  JOIN skus s ON s.id = ci.sku_id
			  WHERE ci.cart_id = $1
			  ORDER BY ci.created_at, ci.id`

	var rows []cartItemRow
	if err := t.tx.SelectContext(ctx, &rows, query, cart.ID); err != nil {
		log.Error().Err(err).Str("cart_id", cart.ID.String()).Msg("Failed to get cart items")
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}

	cart.Items = make([]models.CartItem, len(rows))
	for i := range rows {
		cart.Items[i] = rows[i].toModel()
	}
	return &cart, nil
}

// ClearCart empties the cart if nobody changed it since it was loaded.
func (t *pgTx) ClearCart(ctx context.Context, cart *models.Cart) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE carts SET version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2`,
		cart.ID, cart.Version)
	if err != nil {
		log.Error().Err(err).Str("cart_id", cart.ID.String()).Msg("Failed to bump cart version")
		return fmt.Errorf("failed to bump cart version: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("cart %s version %d: %w", cart.ID, cart.Version, models.ErrConcurrencyConflict)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		log.Error().Err(err).Str("cart_id", cart.ID.String()).Msg("Failed to clear cart items")
		return fmt.Errorf("failed to clear cart items: %w", err)
	}

	cart.Version++
	cart.Items = nil
	return nil
}
