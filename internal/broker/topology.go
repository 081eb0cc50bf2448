package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RoutingKey maps a logical topic and the partition key onto a topic-exchange key.
// "payment.request" + "42" becomes "payment.request.42".
func RoutingKey(topic, key string) string {
	return topic + "." + key
}

// BindingKey matches every key published on a logical topic
func BindingKey(topic string) string {
	return topic + ".#"
}

func DeadLetterQueue(topic string) string {
	return topic + ".dlq"
}

// QueueArgs declares a quorum queue whose rejected messages go to dlx
func QueueArgs(dlx string) amqp.Table {
	args := amqp.Table{
		"x-queue-type": "quorum",
	}
	if dlx != "" {
		args["x-dead-letter-exchange"] = dlx
	}
	return args
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// DeclareTopology declares the exchanges and the durable queue of a logical topic.
// Poison messages land in "<topic>.dlq" through the dead-letter exchange.
func DeclareTopology(ch *amqp.Channel, exchange, dlx, topic string) (string, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return "", fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if dlx != "" {
		if err := declareExchange(ch, dlx); err != nil {
			return "", fmt.Errorf("failed to declare dead-letter exchange %s: %w", dlx, err)
		}
		dlq, err := ch.QueueDeclare(DeadLetterQueue(topic), true, false, false, false, amqp.Table{"x-queue-type": "quorum"})
		if err != nil {
			return "", fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(dlq.Name, BindingKey(topic), dlx, false, nil); err != nil {
			return "", fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}

	q, err := ch.QueueDeclare(topic, true, false, false, false, QueueArgs(dlx))
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, BindingKey(topic), exchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind queue: %w", err)
	}

	return q.Name, nil
}
