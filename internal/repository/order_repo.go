package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

const orderIdempotencyConstraint = "orders_idempotency_key_key"

// orderRow flattens the shipping address into the orders table columns.
type orderRow struct {
	ID             uuid.UUID          `db:"id"`
	UserID         string             `db:"user_id"`
	CartID         uuid.UUID          `db:"cart_id"`
	IdempotencyKey *string            `db:"idempotency_key"`
	Status         models.OrderStatus `db:"status"`
	PaymentMethod  string             `db:"payment_method"`
	Subtotal       decimal.Decimal    `db:"subtotal"`
	CreatedAt      time.Time          `db:"created_at"`
	RecipientName  string             `db:"recipient_name"`
	Phone          string             `db:"phone"`
	AddressLine    string             `db:"address_line"`
	City           string             `db:"city"`
	PostalCode     string             `db:"postal_code"`
	Country        string             `db:"country"`
}

func newOrderRow(o *models.Order) orderRow {
	return orderRow{
		ID:             o.ID,
		UserID:         o.UserID,
		CartID:         o.CartID,
		IdempotencyKey: o.IdempotencyKey,
		Status:         o.Status,
		PaymentMethod:  o.PaymentMethod,
		Subtotal:       o.Subtotal,
		CreatedAt:      o.CreatedAt,
		RecipientName:  o.Shipping.RecipientName,
		Phone:          o.Shipping.Phone,
		AddressLine:    o.Shipping.AddressLine,
		City:           o.Shipping.City,
		PostalCode:     o.Shipping.PostalCode,
		Country:        o.Shipping.Country,
	}
}

func (r *orderRow) toModel() *models.Order {
	return &models.Order{
		ID:             r.ID,
		UserID:         r.UserID,
		CartID:         r.CartID,
		IdempotencyKey: r.IdempotencyKey,
		Status:         r.Status,
		PaymentMethod:  r.PaymentMethod,
		Subtotal:       r.Subtotal,
		CreatedAt:      r.CreatedAt,
		Shipping: models.ShippingInfo{
			RecipientName: r.RecipientName,
			Phone:         r.Phone,
			AddressLine:   r.AddressLine,
			City:          r.City,
			PostalCode:    r.PostalCode,
			Country:       r.Country,
		},
	}
}

// CreateOrder inserts the order header and its items. A concurrent twin
// request with the same idempotency key fails with models.ErrDuplicateOrder.
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	header := `INSERT INTO orders
			   (id, user_id, cart_id, idempotency_key, status, payment_method, subtotal, created_at,
			    recipient_name, phone, address_line, city, postal_code, country)
			   VALUES (:id, :user_id, :cart_id, :idempotency_key, :status, :payment_method, :subtotal, :created_at,
			    :recipient_name, :phone, :address_line, :city, :postal_code, :country)`

	if _, err := t.tx.NamedExecContext(ctx, header, newOrderRow(order)); err != nil {
		err = translate(err)
		if errors.Is(err, models.ErrDuplicateOrder) {
			log.Warn().Str("order_id", order.ID.String()).Msg("Order with the same idempotency key already committed")
			return err
		}
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	items := `INSERT INTO order_items
			  (id, order_id, product_id, sku_id, product_name, sku_code, attributes, unit_price, quantity, line_total)
			  VALUES (:id, :order_id, :product_id, :sku_id, :product_name, :sku_code, :attributes, :unit_price, :quantity, :line_total)`

	for i := range order.Items {
		if _, err := t.tx.NamedExecContext(ctx, items, &order.Items[i]); err != nil {
			log.Error().Err(err).
				Str("order_id", order.ID.String()).
				Str("sku_id", order.Items[i].SKUID.String()).
				Msg("Failed to create order item")
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func getOrderByIdempotencyKey(ctx context.Context, q sqlx.QueryerContext, key string) (*models.Order, error) {
	query := `SELECT id, user_id, cart_id, idempotency_key, status, payment_method, subtotal, created_at,
			  recipient_name, phone, address_line, city, postal_code, country
			  FROM orders WHERE idempotency_key = $1`

	var row orderRow
	if err := sqlx.GetContext(ctx, q, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("idempotency_key", key).Msg("Failed to get order by idempotency key")
		return nil, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}

	order := row.toModel()
	itemsQuery := `SELECT id, order_id, product_id, sku_id, product_name, sku_code, attributes,
				   unit_price, quantity, line_total
				   FROM order_items WHERE order_id = $1 ORDER BY sku_code`
	if err := sqlx.SelectContext(ctx, q, &order.Items, itemsQuery, order.ID); err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to get order items")
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return order, nil
}
