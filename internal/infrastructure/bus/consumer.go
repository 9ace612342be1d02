package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"payment-service/internal/domains/payment/model"
	"payment-service/pkg/logger"
)

// =====================================================
// CONSUMER
// =====================================================

// EnvelopeHandler processes one delivered envelope. A nil return acks the
// message. An error nacks it back onto the queue, so handlers must swallow
// errors that a redelivery cannot fix.
type EnvelopeHandler func(ctx context.Context, envelope model.EventEnvelope) error

// Consumer binds a durable queue to the exchange for one routing key and
// feeds deliveries to a handler with manual acks.
type Consumer struct {
	conn       *Connection
	queue      string
	routingKey string
	handler    EnvelopeHandler
}

func NewConsumer(conn *Connection, queue, routingKey string, handler EnvelopeHandler) *Consumer {
	return &Consumer{
		conn:       conn,
		queue:      queue,
		routingKey: routingKey,
		handler:    handler,
	}
}

// Start runs the consume loop until ctx is cancelled, reconnecting the
// channel after broker-side failures.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			if err := c.consumeLoop(ctx); err != nil && ctx.Err() == nil {
				logger.Error("consumer loop failed, reconnecting in 5 seconds", err)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (c *Consumer) consumeLoop(ctx context.Context) error {
	channel, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	if err := c.declareTopology(channel); err != nil {
		return err
	}

	// Bound unacked deliveries so a slow handler does not hoard the queue
	if err := channel.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	logger.Info("consumer started", map[string]interface{}{
		"queue":       c.queue,
		"routing_key": c.routingKey,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, channel, delivery)
		}
	}
}

func (c *Consumer) declareTopology(channel *amqp.Channel) error {
	_, err := channel.QueueDeclare(
		c.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(c.queue, c.routingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, channel *amqp.Channel, delivery amqp.Delivery) {
	var envelope model.EventEnvelope
	if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
		// A malformed body will never parse; drop it
		logger.Error("discarding malformed envelope", err)
		delivery.Nack(false, false)
		return
	}

	if err := c.handler(ctx, envelope); err != nil {
		logger.Error("handler failed, requeueing delivery", err)
		delivery.Nack(false, true)
		return
	}
	delivery.Ack(false)
}
