package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// SchemaV1 tags every envelope on the wire so consumers can tell a document
// they understand from one they do not
const SchemaV1 = "order-event/v1"

// Logical channels between the orchestrator and the participants
const (
	TopicPaymentRequest   = "payment.request"
	TopicInventoryRequest = "inventory.request"
	TopicOrderResponse    = "order.response"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// EventType identifies the message and its direction
type EventType string

const (
	PaymentRequest   EventType = "PAYMENT_REQUEST"
	InventoryRequest EventType = "INVENTORY_REQUEST"
	PaymentRollback  EventType = "PAYMENT_ROLLBACK"

	PaymentSuccess      EventType = "PAYMENT_SUCCESS"
	PaymentFailed       EventType = "PAYMENT_FAILED"
	InventorySuccess    EventType = "INVENTORY_SUCCESS"
	InventoryFailed     EventType = "INVENTORY_FAILED"
	PaymentRollbackDone EventType = "PAYMENT_ROLLBACK_DONE"
)

type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionRequest
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "request"
	case DirectionResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Direction reports whether t travels towards a participant or back to the orchestrator.
// Tags this build does not know about are DirectionUnknown, never an error.
func (t EventType) Direction() Direction {
	switch t {
	case PaymentRequest, InventoryRequest, PaymentRollback:
		return DirectionRequest
	case PaymentSuccess, PaymentFailed, InventorySuccess, InventoryFailed, PaymentRollbackDone:
		return DirectionResponse
	default:
		return DirectionUnknown
	}
}

func (t EventType) String() string {
	return string(t)
}

// Envelope is the record exchanged by every saga participant.
// Values are passed by copy; the correlation key is OrderID.
type Envelope struct {
	Schema      string    `json:"schema"`
	OrderID     int64     `json:"orderId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	Price       int64     `json:"price"`
	EventType   EventType `json:"eventType"`
}

// NewEnvelope builds a v1 envelope for the given order
func NewEnvelope(o Order, t EventType) Envelope {
	return Envelope{
		Schema:      SchemaV1,
		OrderID:     o.ID,
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		Price:       o.Price,
		EventType:   t,
	}
}

// Reply echoes the correlation fields unchanged under a new event type
func (e Envelope) Reply(t EventType) Envelope {
	e.Schema = SchemaV1
	e.EventType = t
	return e
}

// Key is the routing key used for partition affinity
func (e Envelope) Key() string {
	return strconv.FormatInt(e.OrderID, 10)
}

// Total is the charge a payment participant evaluates.
// ok is false when price * quantity does not fit in an int64.
func (e Envelope) Total() (total int64, ok bool) {
	return OrderTotal(e.Price, e.Quantity)
}

func (e Envelope) Validate() error {
	if e.Schema != SchemaV1 {
		return fmt.Errorf("%w: unsupported schema %q", ErrMalformedEnvelope, e.Schema)
	}
	if e.OrderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", ErrMalformedEnvelope)
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrMalformedEnvelope)
	}
	if e.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrMalformedEnvelope)
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	if e.Schema == "" {
		e.Schema = SchemaV1
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire document. Unknown event types are accepted and
// left for the consumer to ignore; structural problems are ErrMalformedEnvelope.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// OrderTotal multiplies without wrapping around
func OrderTotal(price int64, quantity int) (int64, bool) {
	if price < 0 || quantity < 0 {
		return 0, false
	}
	if quantity > 0 && price > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return price * int64(quantity), true
}
