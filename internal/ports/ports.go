// Package ports holds the unit-of-work contracts shared by the service
// layer and the storage adapters. Every Tx value is only valid inside the
// WithinTx callback that produced it; a nil return commits, an error rolls
// back every write, outbox records included.
package ports

import (
	"context"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
)

// Outbox is the write side of the transactional outbox
type Outbox interface {
	Enqueue(ctx context.Context, topic, key string, env models.Envelope) error
}

type OrderTx interface {
	Outbox
	InsertOrder(ctx context.Context, o *models.Order) error
	// LockOrder returns models.ErrOrderNotFound when the id is unknown
	LockOrder(ctx context.Context, id int64) (models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error
}

type OrderStore interface {
	WithinTx(ctx context.Context, fn func(OrderTx) error) error
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	// ListStalled returns non-terminal orders not updated since before
	ListStalled(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type PaymentTx interface {
	Outbox
	// InsertPayment returns false when the order already has a payment row
	InsertPayment(ctx context.Context, p *models.Payment) (bool, error)
	// MarkRolledBack returns false when the order has no payment row
	MarkRolledBack(ctx context.Context, orderID int64) (bool, error)
}

type PaymentStore interface {
	WithinTx(ctx context.Context, fn func(PaymentTx) error) error
}

type InventoryTx interface {
	Outbox
	// LockStock row-locks the product; found is false when it does not exist
	LockStock(ctx context.Context, product string) (stock int, found bool, err error)
	DecrementStock(ctx context.Context, product string, qty int) error
	// InsertReservation returns false when the order was already decided
	InsertReservation(ctx context.Context, r *models.Reservation) (bool, error)
	// SeedStock creates the product with the given level; an existing product keeps its stock
	SeedStock(ctx context.Context, product string, stock int) (bool, error)
}

type InventoryStore interface {
	WithinTx(ctx context.Context, fn func(InventoryTx) error) error
}
