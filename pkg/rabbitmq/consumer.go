/**
 * @description
 * RabbitMQ consumer side: declares the topic exchange and a durable queue,
 * binds the queue to the routing keys the caller cares about, and dispatches
 * deliveries to per-key handlers. Acknowledgement is per message; a handler
 * returning false re-queues the delivery.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one delivery body. Returning true acknowledges the
// message; returning false re-queues it for another attempt.
type HandlerFunc func(body []byte) bool

// BindingMap maps routing keys to their handlers.
type BindingMap map[string]HandlerFunc

// consumerPrefetch bounds unacked deliveries per channel so a slow handler
// does not buffer the whole queue in memory.
const consumerPrefetch = 16

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares the topology, binds the queue to every key in
// the map, and starts a dispatch goroutine. Nil handlers are skipped.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings BindingMap) error {
	handlers := make(BindingMap, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	queue, err := c.declareTopology(exchange, queueName, handlers)
	if err != nil {
		return err
	}

	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go c.dispatch(deliveries, handlers)
	return nil
}

func (c *Consumer) declareTopology(exchange, queueName string, handlers BindingMap) (string, error) {
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	for routingKey := range handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", routingKey, exchange, err)
		}
	}
	return q.Name, nil
}

func (c *Consumer) dispatch(deliveries <-chan amqp.Delivery, handlers BindingMap) {
	for d := range deliveries {
		handler, ok := handlers[d.RoutingKey]
		if !ok {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", d.RoutingKey)
			d.Ack(false)
			continue
		}
		if handler(d.Body) {
			d.Ack(false)
		} else {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s", d.RoutingKey)
			d.Nack(false, true)
		}
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
