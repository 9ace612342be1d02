package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
	"payment-service/internal/infrastructure/bus"
	"payment-service/pkg/logger"
)

// =====================================================
// WEBHOOK INGRESS
// =====================================================
// One endpoint per provider. The handler only verifies, normalizes and
// publishes; all state changes happen in the bus consumer. Invalid input is
// answered with 200 and no side effects so providers stop redelivering junk.

type WebhookHandler struct {
	registry  *provider.Registry
	publisher bus.Publisher
}

func NewWebhookHandler(registry *provider.Registry, publisher bus.Publisher) *WebhookHandler {
	return &WebhookHandler{
		registry:  registry,
		publisher: publisher,
	}
}

// pathProviders maps the URL segment onto the provider tag.
var pathProviders = map[string]model.Provider{
	"stripe":   model.ProviderStripe,
	"paypal":   model.ProviderPayPal,
	"razorpay": model.ProviderRazorpay,
}

// Handle ingests one provider webhook
// POST /api/webhooks/:provider
func (h *WebhookHandler) Handle(c *gin.Context) {
	providerTag, ok := pathProviders[c.Param("provider")]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	adapter, err := h.registry.Get(providerTag)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	// Step 1: Signature verification needs the exact raw bytes
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logger.Error("failed to read webhook body", err)
		c.Status(http.StatusOK)
		return
	}

	// Step 2: Verify the provider signature over the raw body
	if !adapter.VerifyWebhook(c.Request.Context(), body, c.Request.Header) {
		logger.Info("webhook rejected: signature verification failed", map[string]interface{}{
			"provider": providerTag,
		})
		c.Status(http.StatusOK)
		return
	}

	// Step 3: Extract the normalized fields
	event, err := adapter.ParseWebhookEvent(body)
	if err != nil {
		logger.Error("webhook rejected: unparseable payload", err)
		c.Status(http.StatusOK)
		return
	}

	// Step 4: Drop event types we do not act on
	if !model.IsAllowedWebhookEvent(providerTag, event.EventType) {
		logger.Info("webhook ignored: event type not allowed", map[string]interface{}{
			"provider":   providerTag,
			"event_type": event.EventType,
		})
		c.Status(http.StatusOK)
		return
	}

	// Step 5: Publish before answering; a failed publish must surface as a
	// non-2xx so the provider redelivers
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	providerEvent := model.ProviderEvent{
		Provider:          providerTag,
		ProviderEventID:   event.EventID,
		ProviderEventType: event.EventType,
		OccurredAt:        occurredAt,
		Raw:               body,
	}
	if event.ProviderPaymentID != "" {
		id := event.ProviderPaymentID
		providerEvent.ProviderPaymentID = &id
	}
	if event.ProviderOrderID != "" {
		id := event.ProviderOrderID
		providerEvent.OrderID = &id
	}

	if err := h.publisher.Publish(c.Request.Context(), model.TopicProviderEvents, string(providerTag), providerEvent); err != nil {
		logger.Error("failed to publish provider event", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}
