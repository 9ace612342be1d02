package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"payment-service/pkg/logger"
)

// ExchangeName is the topic exchange all payment events flow through.
// Routing keys are the event topic names.
const ExchangeName = "payment.events"

// =====================================================
// CONNECTION
// =====================================================

// Connection owns the AMQP connection and the channel used for topology
// declarations and publishing.
type Connection struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewConnection(url string) *Connection {
	return &Connection{url: url}
}

// Connect dials the broker with retries and declares the exchange.
func (c *Connection) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		conn, err := amqp.Dial(c.url)
		if err == nil {
			c.conn = conn
			break
		}
		lastErr = err
		logger.Error(fmt.Sprintf("rabbitmq dial attempt %d failed", attempt), err)

		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq connection cancelled: %w", ctx.Err())
		}
	}
	if c.conn == nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", lastErr)
	}

	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	c.channel = channel

	err = channel.ExchangeDeclare(
		ExchangeName,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("rabbitmq connected", map[string]interface{}{"exchange": ExchangeName})
	return nil
}

// Channel opens a dedicated channel, one per consumer.
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c.conn == nil || c.conn.IsClosed() {
		return nil, fmt.Errorf("rabbitmq connection is not open")
	}
	return c.conn.Channel()
}

func (c *Connection) HealthCheck(_ context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (c *Connection) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
