package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. The engine only ever
// creates orders; later states belong to fulfilment.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
)

// ShippingInfo is the delivery address captured at checkout.
type ShippingInfo struct {
	RecipientName string `db:"recipient_name" json:"recipient_name" validate:"required,max=200"`
	Phone         string `db:"phone" json:"phone" validate:"required,max=32"`
	AddressLine   string `db:"address_line" json:"address_line" validate:"required,max=500"`
	City          string `db:"city" json:"city" validate:"required,max=100"`
	PostalCode    string `db:"postal_code" json:"postal_code" validate:"required,max=20"`
	Country       string `db:"country" json:"country" validate:"required,len=2"`
}

// Order is an immutable snapshot of a completed checkout.
type Order struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	CartID         uuid.UUID       `db:"cart_id" json:"cart_id"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	Shipping       ShippingInfo    `db:"-" json:"shipping"`
	Items          []OrderItem     `db:"-" json:"items"`
}

// OrderItem copies everything a receipt needs from the SKU at order time, so
// later catalog edits never change historical orders.
type OrderItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	OrderID     uuid.UUID       `db:"order_id" json:"order_id"`
	ProductID   uuid.UUID       `db:"product_id" json:"product_id"`
	SKUID       uuid.UUID       `db:"sku_id" json:"sku_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	SKUCode     string          `db:"sku_code" json:"sku_code"`
	Attributes  Attributes      `db:"attributes" json:"attributes,omitempty"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity    int             `db:"quantity" json:"quantity"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

// NewOrderItem snapshots sku for a line of qty units.
func NewOrderItem(orderID uuid.UUID, sku *SKU, qty int) OrderItem {
	return OrderItem{
		ID:          uuid.New(),
		OrderID:     orderID,
		ProductID:   sku.ProductID,
		SKUID:       sku.ID,
		ProductName: sku.ProductName,
		SKUCode:     sku.Code,
		Attributes:  sku.Attributes.Clone(),
		UnitPrice:   sku.Price,
		Quantity:    qty,
		LineTotal:   sku.Price.Mul(decimal.NewFromInt(int64(qty))),
	}
}

// RecalculateSubtotal sums the line totals.
func (o *Order) RecalculateSubtotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal)
	}
	o.Subtotal = total
}

func (o *Order) Clone() *Order {
	c := *o
	c.IdempotencyKey = cloneString(o.IdempotencyKey)
	c.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		c.Items[i] = item
		c.Items[i].Attributes = item.Attributes.Clone()
	}
	return &c
}
