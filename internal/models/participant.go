package models

import "time"

type PaymentStatus string

const (
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentDeclined   PaymentStatus = "DECLINED"
	PaymentRolledBack PaymentStatus = "ROLLED_BACK"
)

// Payment is the charge recorded by the payment participant, one per order
type Payment struct {
	ID        int64         `db:"id"`
	OrderID   int64         `db:"order_id"`
	Amount    int64         `db:"amount"`
	Status    PaymentStatus `db:"status"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationRejected ReservationStatus = "REJECTED"
)

// Reservation is the stock decision taken by the inventory participant for an order
type Reservation struct {
	OrderID     int64             `db:"order_id"`
	ProductName string            `db:"product_name"`
	Quantity    int               `db:"quantity"`
	Status      ReservationStatus `db:"status"`
	CreatedAt   time.Time         `db:"created_at"`
}
