package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
)

// errStaleEvent aborts the transaction of a response that drives no transition
var errStaleEvent = errors.New("stale event")

type transition struct {
	next  models.OrderStatus
	emit  models.EventType
	topic string
}

// transitions is the complete saga table. Any (state, response) pair
// missing here leaves the order untouched.
var transitions = map[models.OrderStatus]map[models.EventType]transition{
	models.StatusPaymentPending: {
		models.PaymentSuccess: {next: models.StatusInventoryPending, emit: models.InventoryRequest, topic: models.TopicInventoryRequest},
		models.PaymentFailed:  {next: models.StatusCancelled},
	},
	models.StatusInventoryPending: {
		models.InventorySuccess: {next: models.StatusCompleted},
		models.InventoryFailed:  {next: models.StatusCompensating, emit: models.PaymentRollback, topic: models.TopicPaymentRequest},
	},
	models.StatusCompensating: {
		models.PaymentRollbackDone: {next: models.StatusCancelled},
	},
}

func lookupTransition(status models.OrderStatus, eventType models.EventType) (transition, bool) {
	t, ok := transitions[status][eventType]
	return t, ok
}

type OrchestratorOptions struct {
	// SagaTimeout is how long a non-terminal order may go without a transition before the reaper compensates it
	SagaTimeout time.Duration
	ReaperBatch int
}

// Orchestrator drives orders through the payment and inventory steps and
// compensates when a later step fails
type Orchestrator struct {
	store  ports.OrderStore
	opts   OrchestratorOptions
	logger *slog.Logger
	now    func() time.Time
}

func NewOrchestrator(store ports.OrderStore, opts OrchestratorOptions, logger *slog.Logger) *Orchestrator {
	if opts.ReaperBatch <= 0 {
		opts.ReaperBatch = 100
	}
	return &Orchestrator{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// CreateOrder stores a new order in PAYMENT_PENDING together with its PAYMENT_REQUEST
func (o *Orchestrator) CreateOrder(ctx context.Context, productName string, quantity int, price int64) (models.Order, error) {
	productName = strings.TrimSpace(productName)
	switch {
	case productName == "":
		return models.Order{}, fmt.Errorf("%w: product name is required", models.ErrInvalidOrder)
	case quantity <= 0:
		return models.Order{}, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidOrder)
	case price < 0:
		return models.Order{}, fmt.Errorf("%w: price must not be negative", models.ErrInvalidOrder)
	}
	if _, ok := models.OrderTotal(price, quantity); !ok {
		return models.Order{}, fmt.Errorf("%w: price * quantity overflows int64", models.ErrInvalidOrder)
	}

	order := models.Order{
		ProductName: productName,
		Quantity:    quantity,
		Price:       price,
		Status:      models.StatusPaymentPending,
	}

	err := o.store.WithinTx(ctx, func(tx ports.OrderTx) error {
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		env := models.NewEnvelope(order, models.PaymentRequest)
		return tx.Enqueue(ctx, models.TopicPaymentRequest, env.Key(), env)
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}

	metrics.SagaTransitions.WithLabelValues(string(models.StatusCreated), string(order.Status)).Inc()
	o.logger.Info("✅ Order created, payment requested",
		"order_id", order.ID,
		"product", order.ProductName,
		"quantity", order.Quantity,
		"price", order.Price,
	)
	return order, nil
}

// Handle consumes order.response deliveries
func (o *Orchestrator) Handle(ctx context.Context, env models.Envelope) error {
	return o.HandleResponse(ctx, env)
}

// HandleResponse applies one participant response. Stale, duplicate and
// unknown events are logged and swallowed so that redelivery is harmless;
// only store failures are returned.
func (o *Orchestrator) HandleResponse(ctx context.Context, env models.Envelope) error {
	l := o.logger.With("order_id", env.OrderID, "event_type", env.EventType)

	if env.EventType.Direction() != models.DirectionResponse {
		metrics.SagaIgnored.WithLabelValues("unknown_event").Inc()
		l.Warn("Ignoring event that is not a participant response", "direction", env.EventType.Direction())
		return nil
	}

	var from, to models.OrderStatus
	err := o.store.WithinTx(ctx, func(tx ports.OrderTx) error {
		order, err := tx.LockOrder(ctx, env.OrderID)
		if err != nil {
			return err
		}
		from = order.Status

		t, ok := lookupTransition(order.Status, env.EventType)
		if !ok {
			return errStaleEvent
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, t.next); err != nil {
			return err
		}
		to = t.next

		if t.emit != "" {
			next := models.NewEnvelope(order, t.emit)
			if err := tx.Enqueue(ctx, t.topic, next.Key(), next); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		metrics.SagaIgnored.WithLabelValues("unknown_order").Inc()
		l.Error("Response for unknown order dropped; saga requires manual intervention")
		return nil
	case errors.Is(err, errStaleEvent):
		metrics.SagaIgnored.WithLabelValues("stale").Inc()
		l.Warn("Response does not apply to current order state, ignoring", "status", from)
		return nil
	case err != nil:
		return fmt.Errorf("handle %s for order %d: %w", env.EventType, env.OrderID, err)
	}

	metrics.SagaTransitions.WithLabelValues(string(from), string(to)).Inc()
	l.Info("Saga advanced", "from", from, "to", to)
	return nil
}

func (o *Orchestrator) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	return o.store.GetOrder(ctx, id)
}

func (o *Orchestrator) ListOrders(ctx context.Context) ([]models.Order, error) {
	return o.store.ListOrders(ctx)
}
