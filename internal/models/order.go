package models

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
)

// OrderStatus is the saga state of an order
type OrderStatus string

const (
	StatusCreated          OrderStatus = "CREATED"
	StatusPaymentPending   OrderStatus = "PAYMENT_PENDING"
	StatusInventoryPending OrderStatus = "INVENTORY_PENDING"
	StatusCompensating     OrderStatus = "COMPENSATING"
	StatusCompleted        OrderStatus = "COMPLETED"
	StatusCancelled        OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition can leave s
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// Order is owned by the orchestrator database and only ever transitions forward
type Order struct {
	ID          int64       `db:"id"`
	ProductName string      `db:"product_name"`
	Quantity    int         `db:"quantity"`
	Price       int64       `db:"price"`
	Status      OrderStatus `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}
