package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =====================================================
// BUS TOPICS
// =====================================================
const (
	TopicOrderPaymentInitiated = "payment.order.initiated.v1"
	TopicOrderPaymentSucceeded = "payment.order.succeeded.v1"
	TopicOrderPaymentFailed    = "payment.order.failed.v1"
	TopicOrderPaymentTimeout   = "payment.order.timeout.v1"
	TopicProviderEvents        = "payment.provider-events.v1"
)

// EventSource identifies this service on every outbound envelope.
const EventSource = "payment-service"

// =====================================================
// EVENT ENVELOPE
// =====================================================

// EventEnvelope wraps every message published to the bus.
type EventEnvelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"` // ms epoch
	Payload   json.RawMessage `json:"payload"`
}

// NewEventEnvelope wraps a payload for publication.
func NewEventEnvelope(eventType string, payload interface{}) (*EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &EventEnvelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Source:    EventSource,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}

// =====================================================
// LIFECYCLE EVENTS
// =====================================================

// OrderPaymentEvent is the shared payload of the four lifecycle topics,
// keyed on the bus by user ID.
type OrderPaymentEvent struct {
	PaymentID       uuid.UUID     `json:"paymentId"`
	UserID          uuid.UUID     `json:"userId"`
	OrderID         uuid.UUID     `json:"orderId"`
	Provider        Provider      `json:"provider"`
	ProviderOrderID string        `json:"providerOrderId,omitempty"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
}

// NewOrderPaymentEvent builds the lifecycle payload from the aggregate.
func NewOrderPaymentEvent(p *Payment) OrderPaymentEvent {
	ev := OrderPaymentEvent{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		OrderID:       p.OrderID,
		PaymentStatus: p.Status,
	}
	if s := p.LatestSession(); s != nil {
		ev.Provider = s.Provider
	}
	if p.ProviderOrderID != nil {
		ev.ProviderOrderID = *p.ProviderOrderID
	}
	return ev
}

// =====================================================
// NORMALIZED PROVIDER EVENT
// =====================================================

// ProviderEvent is the uniform internal shape all provider webhooks are
// mapped to before dispatch, keyed on the bus by provider name.
type ProviderEvent struct {
	Provider          Provider        `json:"provider"`
	ProviderEventID   string          `json:"providerEventId"`
	ProviderEventType string          `json:"providerEventType"`
	ProviderPaymentID *string         `json:"providerPaymentId,omitempty"`
	OrderID           *string         `json:"orderId,omitempty"`
	OccurredAt        time.Time       `json:"occurredAt"`
	Raw               json.RawMessage `json:"raw"`
}

// DedupKey is the cache key suffix guarding at-most-once dispatch.
func (e ProviderEvent) DedupKey() string {
	return string(e.Provider) + ":" + e.ProviderEventID
}
