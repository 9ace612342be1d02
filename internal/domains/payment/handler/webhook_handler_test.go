package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
)

// =====================================================
// FAKES
// =====================================================

type webhookAdapter struct {
	name     model.Provider
	verified bool
	event    *provider.WebhookEvent
	parseErr error
}

func (a *webhookAdapter) Name() model.Provider { return a.name }

func (a *webhookAdapter) CreateSession(context.Context, provider.CreateSessionRequest) (*provider.Session, error) {
	return nil, nil
}

func (a *webhookAdapter) Resolve(context.Context, provider.ResolveRequest) (*provider.ResolveResult, error) {
	return nil, nil
}

func (a *webhookAdapter) Cancel(context.Context, string, string) (*provider.CancelResult, error) {
	return nil, nil
}

func (a *webhookAdapter) Refund(context.Context, provider.RefundRequest) (*provider.RefundResult, error) {
	return nil, nil
}

func (a *webhookAdapter) SupportedCurrencies() []string { return nil }

func (a *webhookAdapter) IsCurrencySupported(string) bool { return true }

func (a *webhookAdapter) IsAvailable(context.Context) bool { return true }

func (a *webhookAdapter) VerifyWebhook(context.Context, []byte, http.Header) bool {
	return a.verified
}

func (a *webhookAdapter) ParseWebhookEvent([]byte) (*provider.WebhookEvent, error) {
	return a.event, a.parseErr
}

type capturedPublish struct {
	topic        string
	partitionKey string
	payload      interface{}
}

type capturingPublisher struct {
	published []capturedPublish
	err       error
}

func (p *capturingPublisher) Publish(_ context.Context, topic, partitionKey string, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, capturedPublish{topic: topic, partitionKey: partitionKey, payload: payload})
	return nil
}

func webhookRouter(adapter *webhookAdapter, publisher *capturingPublisher) *gin.Engine {
	handler := NewWebhookHandler(provider.NewRegistry(adapter), publisher)
	router := gin.New()
	router.POST("/webhooks/:provider", handler.Handle)
	return router
}

func postWebhook(router *gin.Engine, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =====================================================
// TESTS
// =====================================================

func TestWebhookHandle(t *testing.T) {
	allowedEvent := &provider.WebhookEvent{
		EventID:           "evt_1",
		EventType:         "checkout.session.completed",
		ProviderOrderID:   "cs_1",
		ProviderPaymentID: "pi_1",
	}
	body := []byte(`{"id":"evt_1"}`)

	t.Run("verified event is published before the 200", func(t *testing.T) {
		publisher := &capturingPublisher{}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe, verified: true, event: allowedEvent}, publisher)

		w := postWebhook(router, "/webhooks/stripe", body)

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, publisher.published, 1)
		assert.Equal(t, model.TopicProviderEvents, publisher.published[0].topic)
		assert.Equal(t, "STRIPE", publisher.published[0].partitionKey)

		event, ok := publisher.published[0].payload.(model.ProviderEvent)
		require.True(t, ok)
		assert.Equal(t, "evt_1", event.ProviderEventID)
		require.NotNil(t, event.OrderID)
		assert.Equal(t, "cs_1", *event.OrderID)
		require.NotNil(t, event.ProviderPaymentID)
		assert.Equal(t, "pi_1", *event.ProviderPaymentID)
		assert.Equal(t, json.RawMessage(body), event.Raw)
		assert.False(t, event.OccurredAt.IsZero())
	})

	t.Run("invalid signature answers 200 without publishing", func(t *testing.T) {
		publisher := &capturingPublisher{}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe, verified: false, event: allowedEvent}, publisher)

		w := postWebhook(router, "/webhooks/stripe", body)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, publisher.published)
	})

	t.Run("unparseable payload answers 200 without publishing", func(t *testing.T) {
		publisher := &capturingPublisher{}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe, verified: true, parseErr: errors.New("bad json")}, publisher)

		w := postWebhook(router, "/webhooks/stripe", body)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, publisher.published)
	})

	t.Run("event type outside the allow-list is dropped", func(t *testing.T) {
		publisher := &capturingPublisher{}
		event := &provider.WebhookEvent{EventID: "evt_2", EventType: "customer.created"}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe, verified: true, event: event}, publisher)

		w := postWebhook(router, "/webhooks/stripe", body)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, publisher.published)
	})

	t.Run("publish failure surfaces 500 so the provider redelivers", func(t *testing.T) {
		publisher := &capturingPublisher{err: errors.New("broker down")}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe, verified: true, event: allowedEvent}, publisher)

		w := postWebhook(router, "/webhooks/stripe", body)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unknown provider path answers 404", func(t *testing.T) {
		publisher := &capturingPublisher{}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe}, publisher)

		w := postWebhook(router, "/webhooks/square", body)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("provider without a registered adapter answers 404", func(t *testing.T) {
		publisher := &capturingPublisher{}
		router := webhookRouter(&webhookAdapter{name: model.ProviderStripe}, publisher)

		w := postWebhook(router, "/webhooks/paypal", body)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
