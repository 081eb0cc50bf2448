package db

import (
	"context"
	"database/sql"
	"fmt"
)

// OutboxSchema is created in every service database
var OutboxSchema = []string{
	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		message_id UUID NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		message_key TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		sent BOOLEAN NOT NULL DEFAULT FALSE,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		dead_lettered BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_unsent_idx ON outbox (created_at, id) WHERE sent = FALSE`,
}

var OrdersSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		product_name TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0),
		price BIGINT NOT NULL CHECK (price >= 0),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_open_idx ON orders (updated_at) WHERE status NOT IN ('COMPLETED', 'CANCELLED')`,
}

var PaymentsSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL UNIQUE,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var InventorySchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		id BIGSERIAL PRIMARY KEY,
		product_name TEXT NOT NULL UNIQUE,
		stock INT NOT NULL CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_reservations (
		order_id BIGINT PRIMARY KEY,
		product_name TEXT NOT NULL,
		quantity INT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema applies the given statement groups in order
func EnsureSchema(ctx context.Context, db *sql.DB, groups ...[]string) error {
	for _, group := range groups {
		for _, stmt := range group {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
	}
	return nil
}
