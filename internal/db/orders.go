package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
)

const orderColumns = `id, product_name, quantity, price, status, created_at, updated_at`

// OrderStore persists orders in the orchestrator database
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) WithinTx(ctx context.Context, fn func(ports.OrderTx) error) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&orderTx{outboxWriter: outboxWriter{tx: tx}, tx: tx})
	})
}

func (s *OrderStore) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *OrderStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return collectOrders(rows)
}

func (s *OrderStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status NOT IN ('COMPLETED', 'CANCELLED') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled orders: %w", err)
	}
	return collectOrders(rows)
}

type orderTx struct {
	outboxWriter
	tx *sql.Tx
}

func (t *orderTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (product_name, quantity, price, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := t.tx.QueryRowContext(ctx, query, o.ProductName, o.Quantity, o.Price, string(o.Status)).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// LockOrder takes a row lock so concurrent deliveries for one order serialize
func (t *orderTx) LockOrder(ctx context.Context, id int64) (models.Order, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

func (t *orderTx) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	return nil
}

func scanOrder(row scanner) (models.Order, error) {
	var o models.Order
	var status string
	if err := row.Scan(&o.ID, &o.ProductName, &o.Quantity, &o.Price, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, models.ErrOrderNotFound
		}
		return models.Order{}, fmt.Errorf("order scan failed: %w", err)
	}
	o.Status = models.OrderStatus(status)
	return o, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
