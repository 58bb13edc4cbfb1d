package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Schema is the DDL the store expects. The CHECK constraints on skus are the
// last line of defence for the stock ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS skus (
    id                UUID PRIMARY KEY,
    product_id        UUID NOT NULL,
    code              TEXT NOT NULL UNIQUE,
    product_name      TEXT NOT NULL,
    attributes        JSONB NOT NULL DEFAULT '{}',
    price             NUMERIC(12, 2) NOT NULL,
    stock_quantity    INTEGER NOT NULL,
    reserved_quantity INTEGER NOT NULL DEFAULT 0,
    version           BIGINT NOT NULL DEFAULT 1,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT skus_reserved_non_negative CHECK (reserved_quantity >= 0),
    CONSTRAINT skus_reserved_within_stock CHECK (reserved_quantity <= stock_quantity)
);

CREATE TABLE IF NOT EXISTS carts (
    id         UUID PRIMARY KEY,
    user_id    TEXT NOT NULL UNIQUE,
    version    BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cart_items (
    id         UUID PRIMARY KEY,
    cart_id    UUID NOT NULL REFERENCES carts (id) ON DELETE CASCADE,
    product_id UUID NOT NULL,
    sku_id     UUID NOT NULL REFERENCES skus (id),
    quantity   INTEGER NOT NULL CHECK (quantity > 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stock_reservations (
    id         UUID PRIMARY KEY,
    sku_id     UUID NOT NULL REFERENCES skus (id),
    cart_id    UUID NOT NULL,
    quantity   INTEGER NOT NULL CHECK (quantity > 0),
    status     TEXT NOT NULL CHECK (status IN ('ACTIVE', 'CONVERTED', 'EXPIRED', 'CANCELLED')),
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    session_id TEXT,
    ip_address TEXT,
    user_agent TEXT,
    order_id   UUID
);

CREATE INDEX IF NOT EXISTS idx_reservations_active_expiry
    ON stock_reservations (expires_at) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_reservations_cart_active
    ON stock_reservations (cart_id) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS orders (
    id              UUID PRIMARY KEY,
    user_id         TEXT NOT NULL,
    cart_id         UUID NOT NULL,
    idempotency_key TEXT,
    status          TEXT NOT NULL,
    payment_method  TEXT NOT NULL,
    subtotal        NUMERIC(14, 2) NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    recipient_name  TEXT NOT NULL,
    phone           TEXT NOT NULL,
    address_line    TEXT NOT NULL,
    city            TEXT NOT NULL,
    postal_code     TEXT NOT NULL,
    country         CHAR(2) NOT NULL,
    CONSTRAINT orders_idempotency_key_key UNIQUE (idempotency_key)
);

CREATE TABLE IF NOT EXISTS order_items (
    id           UUID PRIMARY KEY,
    order_id     UUID NOT NULL REFERENCES orders (id),
    product_id   UUID NOT NULL,
    sku_id       UUID NOT NULL,
    product_name TEXT NOT NULL,
    sku_code     TEXT NOT NULL,
    attributes   JSONB NOT NULL DEFAULT '{}',
    unit_price   NUMERIC(12, 2) NOT NULL,
    quantity     INTEGER NOT NULL CHECK (quantity > 0),
    line_total   NUMERIC(14, 2) NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
    id               BIGSERIAL PRIMARY KEY,
    event_type       TEXT NOT NULL,
    key              TEXT NOT NULL,
    payload          JSONB NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    published        BOOLEAN NOT NULL DEFAULT FALSE,
    published_at     TIMESTAMPTZ,
    publish_attempts INTEGER NOT NULL DEFAULT 0,
    last_error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox (id) WHERE published = FALSE;
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		log.Error().Err(err).Msg("Failed to apply schema")
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("Database schema is up to date")
	return nil
}
