package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
)

// PaymentStore persists charges in the payment participant database
type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) WithinTx(ctx context.Context, fn func(ports.PaymentTx) error) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&paymentTx{outboxWriter: outboxWriter{tx: tx}, tx: tx})
	})
}

type paymentTx struct {
	outboxWriter
	tx *sql.Tx
}

// InsertPayment relies on the order_id unique key as the idempotency key.
// A concurrent duplicate blocks on the key until the first commits.
func (t *paymentTx) InsertPayment(ctx context.Context, p *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (order_id, amount, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
	`
	res, err := t.tx.ExecContext(ctx, query, p.OrderID, p.Amount, string(p.Status))
	if err != nil {
		return false, fmt.Errorf("failed to insert payment for order %d: %w", p.OrderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *paymentTx) MarkRolledBack(ctx context.Context, orderID int64) (bool, error) {
	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE order_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query, orderID, string(models.PaymentRolledBack))
	if err != nil {
		return false, fmt.Errorf("failed to roll back payment for order %d: %w", orderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
