package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// InventoryStore persists stock counters and reservations in the inventory database
type InventoryStore struct {
	db *sql.DB
}

func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

func (s *InventoryStore) WithinTx(ctx context.Context, fn func(ports.InventoryTx) error) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&inventoryTx{outboxWriter: outboxWriter{tx: tx}, tx: tx})
	})
}

type inventoryTx struct {
	outboxWriter
	tx *sql.Tx
}

func (t *inventoryTx) LockStock(ctx context.Context, product string) (int, bool, error) {
	var stock int
	err := t.tx.QueryRowContext(ctx, `SELECT stock FROM inventory WHERE product_name = $1 FOR UPDATE`, product).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock stock for %q: %w", product, err)
	}
	return stock, true, nil
}

func (t *inventoryTx) DecrementStock(ctx context.Context, product string, qty int) error {
	query := `
		UPDATE inventory
		SET stock = stock - $2
		WHERE product_name = $1 AND stock >= $2
	`
	res, err := t.tx.ExecContext(ctx, query, product, qty)
	if err != nil {
		return fmt.Errorf("failed to decrement stock for %q: %w", product, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%q: %w", product, ErrInsufficientStock)
	}
	return nil
}

func (t *inventoryTx) InsertReservation(ctx context.Context, r *models.Reservation) (bool, error) {
	query := `
		INSERT INTO inventory_reservations (order_id, product_name, quantity, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING
	`
	res, err := t.tx.ExecContext(ctx, query, r.OrderID, r.ProductName, r.Quantity, string(r.Status))
	if err != nil {
		return false, fmt.Errorf("failed to insert reservation for order %d: %w", r.OrderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *inventoryTx) SeedStock(ctx context.Context, product string, stock int) (bool, error) {
	query := `
		INSERT INTO inventory (product_name, stock)
		VALUES ($1, $2)
		ON CONFLICT (product_name) DO NOTHING
	`
	res, err := t.tx.ExecContext(ctx, query, product, stock)
	if err != nil {
		return false, fmt.Errorf("failed to seed stock for %q: %w", product, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
