package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/pkg/infra"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler applies one decoded envelope. A nil return acks the delivery,
// including deliberate no-ops; an error means a local failure worth a redelivery.
type Handler interface {
	Handle(ctx context.Context, env models.Envelope) error
}

type HandlerFunc func(ctx context.Context, env models.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env models.Envelope) error {
	return f(ctx, env)
}

type ConsumerOptions struct {
	URL          string
	Exchange     string
	DLX          string
	Topic        string
	RequeueDelay time.Duration
}

// RabbitMQConsumer manages the connection and message flow of one logical topic
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler Handler
	logger  *slog.Logger
	opts    ConsumerOptions
}

func NewRabbitMQConsumer(opts ConsumerOptions, handler Handler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// QoS: Prefetch 1 keeps deliveries of a queue strictly ordered
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		handler: handler,
		logger:  logger.With("topic", opts.Topic),
		opts:    opts,
	}, nil
}

// Listen declares the topic topology and consumes until ctx is done or the channel closes
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	queue, err := DeclareTopology(c.channel, c.opts.Exchange, c.opts.DLX, c.opts.Topic)
	if err != nil {
		return err
	}

	msgs, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer is online and waiting for messages", "queue", queue, "binding_key", BindingKey(c.opts.Topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.ConsumerDuration.WithLabelValues(c.opts.Topic, status).Observe(time.Since(start).Seconds())
		metrics.ConsumerMessages.WithLabelValues(c.opts.Topic, status).Inc()
	}()

	env, err := models.DecodeEnvelope(d.Body)
	if err != nil {
		status = "poison"
		c.logger.Error("Dropping malformed message", "message_id", d.MessageId, "error", err)
		// Requeue: false -> routed to the dead-letter exchange
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("Failed to Nack message", "message_id", d.MessageId, "error", err)
		}
		return
	}

	l := c.logger.With(
		"order_id", env.OrderID,
		"event_type", env.EventType,
		"message_id", d.MessageId,
	)

	if err := c.handler.Handle(ctx, env); err != nil {
		status = "transient"
		l.Error("Processing failed, requeueing", "error", err)
		if c.opts.RequeueDelay > 0 {
			select {
			case <-time.After(c.opts.RequeueDelay):
			case <-ctx.Done():
			}
		}
		if err := d.Nack(false, true); err != nil {
			l.Error("Failed to Nack message", "error", err)
		}
		return
	}

	// Manual Ack: only confirmed after the local commit
	if err := d.Ack(false); err != nil {
		l.Error("Failed to Ack message", "error", err)
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}

// Serve keeps a consumer attached to the broker until ctx is cancelled,
// reconnecting with jittered backoff whenever the link drops
func Serve(ctx context.Context, opts ConsumerOptions, handler Handler, logger *slog.Logger) {
	connBackoff := infra.NewReconnectBackoff()

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received, consumer stopped", "topic", opts.Topic)
			return
		default:
		}

		consumer, err := NewRabbitMQConsumer(opts, handler, logger)
		if err != nil {
			wait := connBackoff.Next()
			metrics.RabbitMQReconnections.Inc()
			logger.Error("RabbitMQ connection failed, retrying...",
				"wait_duration", wait,
				"error", err,
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		connBackoff.Reset()
		logger.Info("✅ Connected to Broker. Listening for events...", "topic", opts.Topic)

		if err := consumer.Listen(ctx); err != nil {
			logger.Error("⚠️ Consumer connection lost", "error", err)
		}

		consumer.Close()
	}
}
