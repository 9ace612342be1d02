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
// PUBLISHER
// =====================================================

// Publisher emits enveloped events onto the payment topic exchange.
type Publisher interface {
	// Publish wraps payload in an envelope and sends it under topic.
	// partitionKey rides along as a header so consumers that shard by key
	// (user ID for lifecycle events, provider for webhook events) can.
	Publish(ctx context.Context, topic, partitionKey string, payload interface{}) error
}

type publisher struct {
	conn *Connection
}

func NewPublisher(conn *Connection) Publisher {
	return &publisher{conn: conn}
}

func (p *publisher) Publish(ctx context.Context, topic, partitionKey string, payload interface{}) error {
	envelope, err := model.NewEventEnvelope(topic, payload)
	if err != nil {
		return fmt.Errorf("failed to build event envelope: %w", err)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	err = p.conn.channel.PublishWithContext(ctx,
		ExchangeName,
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    envelope.EventID,
			Timestamp:    time.UnixMilli(envelope.Timestamp),
			Headers: amqp.Table{
				"x-partition-key": partitionKey,
			},
			Body: body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	logger.Info("event published", map[string]interface{}{
		"topic":    topic,
		"event_id": envelope.EventID,
	})
	return nil
}
