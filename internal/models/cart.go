package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Attributes holds variant attributes such as size or color. Stored as JSONB.
type Attributes map[string]string

// Value implements driver.Valuer
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Attributes) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Attributes", src)
	}
	return json.Unmarshal(data, a)
}

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Cart is a shopper's mutable basket. Version is the optimistic concurrency
// token: every mutation bumps it and a stale writer gets ErrConcurrencyConflict.
type Cart struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Version   int64      `db:"version" json:"version"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Items     []CartItem `db:"-" json:"items"`
}

// CartItem is one cart line. SKU is the snapshot loaded alongside the cart.
type CartItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CartID    uuid.UUID `db:"cart_id" json:"cart_id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	SKUID     uuid.UUID `db:"sku_id" json:"sku_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	SKU       *SKU      `db:"-" json:"sku,omitempty"`
}

// IsEmpty reports whether the cart has nothing to check out.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// SKUIDs returns the distinct SKUs referenced by the cart lines, in line order.
func (c *Cart) SKUIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(c.Items))
	ids := make([]uuid.UUID, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.SKUID]; ok {
			continue
		}
		seen[item.SKUID] = struct{}{}
		ids = append(ids, item.SKUID)
	}
	return ids
}

// QuantityBySKU folds lines that point at the same SKU together.
func (c *Cart) QuantityBySKU() map[uuid.UUID]int {
	totals := make(map[uuid.UUID]int, len(c.Items))
	for _, item := range c.Items {
		totals[item.SKUID] += item.Quantity
	}
	return totals
}

func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]CartItem, len(c.Items))
	for i, item := range c.Items {
		cp.Items[i] = item
		if item.SKU != nil {
			cp.Items[i].SKU = item.SKU.Clone()
		}
	}
	return &cp
}
