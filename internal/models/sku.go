package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SKU is a purchasable product variant and the stock ledger for it.
//
// StockQuantity is every unit the marketplace owns; ReservedQuantity is the
// sum of ACTIVE reservations. Both counters change only through the ledger
// methods below, which callers run inside a transaction that holds the SKU
// row lock.
type SKU struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ProductID        uuid.UUID       `db:"product_id" json:"product_id"`
	Code             string          `db:"code" json:"code"`
	ProductName      string          `db:"product_name" json:"product_name"`
	Attributes       Attributes      `db:"attributes" json:"attributes,omitempty"`
	Price            decimal.Decimal `db:"price" json:"price"`
	StockQuantity    int             `db:"stock_quantity" json:"stock_quantity"`
	ReservedQuantity int             `db:"reserved_quantity" json:"reserved_quantity"`
	Version          int64           `db:"version" json:"version"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// AvailableQuantity is what a shopper may reserve or buy right now.
func (s *SKU) AvailableQuantity() int {
	return s.StockQuantity - s.ReservedQuantity
}

// CanReserve reports whether qty units are currently available.
func (s *SKU) CanReserve(qty int) bool {
	return qty > 0 && s.AvailableQuantity() >= qty
}

// ReserveStock holds qty units for the cart and returns the ACTIVE reservation.
func (s *SKU) ReserveStock(qty int, cartID uuid.UUID, meta ReservationMetadata, ttl time.Duration, now time.Time) (*StockReservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("reserve %d units of %s: quantity must be positive: %w", qty, s.Code, ErrLedgerInvariant)
	}
	if !s.CanReserve(qty) {
		return nil, s.insufficient(qty)
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}

	s.ReservedQuantity += qty
	s.UpdatedAt = now

	return &StockReservation{
		ID:        uuid.New(),
		SKUID:     s.ID,
		CartID:    cartID,
		Quantity:  qty,
		Status:    ReservationStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
		SessionID: optionalString(meta.SessionID),
		IPAddress: optionalString(meta.IPAddress),
		UserAgent: optionalString(meta.UserAgent),
	}, nil
}

// ReleaseReservation gives the held units back and moves the reservation to
// status, which must be EXPIRED or CANCELLED. Releasing a reservation that is
// already terminal is a no-op and reports false.
func (s *SKU) ReleaseReservation(r *StockReservation, status ReservationStatus, now time.Time) (bool, error) {
	if status != ReservationStatusExpired && status != ReservationStatusCancelled {
		return false, &TransitionError{ReservationID: r.ID, From: r.Status, To: status}
	}
	if err := s.owns(r); err != nil {
		return false, err
	}
	if r.Status.IsTerminal() {
		return false, nil
	}
	if r.Quantity > s.ReservedQuantity {
		return false, fmt.Errorf("release %d units of %s with only %d reserved: %w", r.Quantity, s.Code, s.ReservedQuantity, ErrLedgerInvariant)
	}
	if err := r.transition(status, now); err != nil {
		return false, err
	}

	s.ReservedQuantity -= r.Quantity
	s.UpdatedAt = now
	return true, nil
}

// ConvertReservationToDeduction turns an ACTIVE hold into a permanent sale.
func (s *SKU) ConvertReservationToDeduction(r *StockReservation, orderID uuid.UUID, now time.Time) error {
	if err := s.owns(r); err != nil {
		return err
	}
	if r.Status != ReservationStatusActive {
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: ReservationStatusConverted}
	}
	if r.Quantity > s.ReservedQuantity || r.Quantity > s.StockQuantity {
		return fmt.Errorf("convert %d units of %s (stock %d, reserved %d): %w",
			r.Quantity, s.Code, s.StockQuantity, s.ReservedQuantity, ErrLedgerInvariant)
	}
	if err := r.transition(ReservationStatusConverted, now); err != nil {
		return err
	}

	s.StockQuantity -= r.Quantity
	s.ReservedQuantity -= r.Quantity
	r.OrderID = &orderID
	s.UpdatedAt = now
	return nil
}

// DeductStock sells qty units that were never reserved.
func (s *SKU) DeductStock(qty int, now time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("deduct %d units of %s: quantity must be positive: %w", qty, s.Code, ErrLedgerInvariant)
	}
	if s.AvailableQuantity() < qty {
		return s.insufficient(qty)
	}
	s.StockQuantity -= qty
	s.UpdatedAt = now
	return nil
}

// CheckInvariant verifies 0 <= reserved <= stock.
func (s *SKU) CheckInvariant() error {
	if s.ReservedQuantity < 0 || s.ReservedQuantity > s.StockQuantity {
		return fmt.Errorf("sku %s: stock %d, reserved %d: %w", s.Code, s.StockQuantity, s.ReservedQuantity, ErrLedgerInvariant)
	}
	return nil
}

// Clone returns a deep copy of the SKU.
func (s *SKU) Clone() *SKU {
	c := *s
	c.Attributes = s.Attributes.Clone()
	return &c
}

func (s *SKU) owns(r *StockReservation) error {
	if r.SKUID != s.ID {
		return fmt.Errorf("reservation %s belongs to sku %s, not %s: %w", r.ID, r.SKUID, s.ID, ErrLedgerInvariant)
	}
	return nil
}

func (s *SKU) insufficient(qty int) *InsufficientStockError {
	available := s.AvailableQuantity()
	if available < 0 {
		available = 0
	}
	return &InsufficientStockError{
		SKUID:     s.ID,
		SKUCode:   s.Code,
		Requested: qty,
		Available: available,
	}
}
