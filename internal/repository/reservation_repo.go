package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

const selectReservation = `SELECT id, sku_id, cart_id, quantity, status, created_at, expires_at, updated_at,
			  session_id, ip_address, user_agent, order_id
			  FROM stock_reservations`

func getReservation(ctx context.Context, q sqlx.QueryerContext, reservationID uuid.UUID, forUpdate bool) (*models.StockReservation, error) {
	query := selectReservation + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var reservation models.StockReservation
	if err := sqlx.GetContext(ctx, q, &reservation, query, reservationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to get reservation")
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &reservation, nil
}

func (t *pgTx) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	return getReservation(ctx, t.tx, reservationID, false)
}

// GetReservationForUpdate locks the reservation row. Callers must already
// hold the lock on its SKU.
func (t *pgTx) GetReservationForUpdate(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	return getReservation(ctx, t.tx, reservationID, true)
}

func (t *pgTx) ListActiveReservationsForCart(ctx context.Context, cartID uuid.UUID, forUpdate bool) ([]*models.StockReservation, error) {
	query := selectReservation + ` WHERE cart_id = $1 AND status = $2 ORDER BY sku_id, created_at`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var rows []models.StockReservation
	if err := t.tx.SelectContext(ctx, &rows, query, cartID, models.ReservationStatusActive); err != nil {
		log.Error().Err(err).Str("cart_id", cartID.String()).Msg("Failed to list cart reservations")
		return nil, fmt.Errorf("failed to list cart reservations: %w", err)
	}

	out := make([]*models.StockReservation, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (t *pgTx) CreateReservation(ctx context.Context, r *models.StockReservation) error {
	query := `INSERT INTO stock_reservations
			  (id, sku_id, cart_id, quantity, status, created_at, expires_at, updated_at, session_id, ip_address, user_agent, order_id)
			  VALUES (:id, :sku_id, :cart_id, :quantity, :status, :created_at, :expires_at, :updated_at, :session_id, :ip_address, :user_agent, :order_id)`

	if _, err := t.tx.NamedExecContext(ctx, query, r); err != nil {
		log.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to create reservation")
		return fmt.Errorf("failed to create reservation: %w", translate(err))
	}
	return nil
}

func (t *pgTx) UpdateReservation(ctx context.Context, r *models.StockReservation) error {
	query := `UPDATE stock_reservations SET status = $2, order_id = $3, updated_at = $4 WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, r.ID, r.Status, r.OrderID, r.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to update reservation")
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return models.NewNotFoundError("reservation", r.ID.String())
	}
	return nil
}
