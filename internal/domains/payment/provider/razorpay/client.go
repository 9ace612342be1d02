package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
	"payment-service/pkg/logger"
)

// =====================================================
// RAZORPAY ADAPTER
// =====================================================

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type Adapter struct {
	config *Config
	client *razorpay.Client
}

func New(config *Config) *Adapter {
	return &Adapter{
		config: config,
		client: razorpay.NewClient(config.KeyID, config.KeySecret),
	}
}

func (a *Adapter) Name() model.Provider { return model.ProviderRazorpay }

// =====================================================
// CREATE SESSION
// =====================================================

// CreateSession creates a Razorpay order. The caller completes it with the
// hosted checkout widget, which needs our public key ID alongside the order.
func (a *Adapter) CreateSession(_ context.Context, req provider.CreateSessionRequest) (*provider.Session, error) {
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.OrderID.String(),
		"notes": map[string]interface{}{
			"order_id": req.OrderID.String(),
			"user_id":  req.UserID.String(),
		},
	}

	order, err := a.client.Order.Create(data, nil)
	if err != nil {
		return nil, err
	}

	orderID, _ := order["id"].(string)
	keyID := a.config.KeyID
	return &provider.Session{
		Provider:        model.ProviderRazorpay,
		ProviderOrderID: orderID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		KeyID:           &keyID,
		Metadata: map[string]interface{}{
			"order_status": order["status"],
		},
	}, nil
}

// =====================================================
// RESOLVE
// =====================================================

// Resolve verifies the checkout signature the widget handed the client:
// hex(HMAC-SHA256(orderId + "|" + paymentId, keySecret)). The payment fetch
// afterwards is informational and never overrides a valid signature.
func (a *Adapter) Resolve(_ context.Context, req provider.ResolveRequest) (*provider.ResolveResult, error) {
	if !verifySignature([]byte(req.ProviderOrderID+"|"+req.ProviderPaymentID), req.Signature, a.config.KeySecret) {
		return &provider.ResolveResult{
			ProviderStatus: "signature_mismatch",
			IsVerified:     false,
		}, nil
	}

	result := &provider.ResolveResult{
		ProviderStatus:    "captured",
		IsVerified:        true,
		ProviderPaymentID: req.ProviderPaymentID,
	}
	if payment, err := a.client.Payment.Fetch(req.ProviderPaymentID, nil, nil); err == nil {
		if status, ok := payment["status"].(string); ok {
			result.ProviderStatus = status
		}
	}
	return result, nil
}

// =====================================================
// CANCEL
// =====================================================

// Cancel checks that the order has not been paid. Razorpay offers no order
// void call: unpaid orders expire on their own, so an unpaid order is
// treated as successfully cancelled.
func (a *Adapter) Cancel(_ context.Context, providerOrderID, reason string) (*provider.CancelResult, error) {
	order, err := a.client.Order.Fetch(providerOrderID, nil, nil)
	if err != nil {
		return &provider.CancelResult{Success: false}, err
	}
	if status, _ := order["status"].(string); status == "paid" {
		return &provider.CancelResult{Success: false}, nil
	}
	return &provider.CancelResult{Success: true}, nil
}

// =====================================================
// REFUND
// =====================================================

func (a *Adapter) Refund(_ context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	data := map[string]interface{}{}
	if req.Reason != "" {
		data["notes"] = map[string]interface{}{"reason": req.Reason}
	}

	refund, err := a.client.Payment.Refund(req.ProviderPaymentID, int(req.Amount), data, nil)
	if err != nil {
		return nil, err
	}

	refundID, _ := refund["id"].(string)
	status, _ := refund["status"].(string)
	return &provider.RefundResult{
		ProviderRefundID: refundID,
		Status:           status,
		Raw:              refund,
	}, nil
}

// =====================================================
// CURRENCIES / AVAILABILITY
// =====================================================

func (a *Adapter) SupportedCurrencies() []string {
	return model.SupportedCurrencies[model.ProviderRazorpay]
}

func (a *Adapter) IsCurrencySupported(code string) bool {
	return provider.CurrencySupported(model.ProviderRazorpay, code)
}

// IsAvailable lists one order, which exercises auth and reachability.
func (a *Adapter) IsAvailable(_ context.Context) bool {
	_, err := a.client.Order.All(map[string]interface{}{"count": 1}, nil)
	return err == nil
}

// =====================================================
// WEBHOOK
// =====================================================

// VerifyWebhook checks X-Razorpay-Signature, the hex HMAC-SHA256 of the raw
// body under the webhook secret.
func (a *Adapter) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) bool {
	signature := headers.Get("X-Razorpay-Signature")
	if signature == "" {
		return false
	}
	if !verifySignature(payload, signature, a.config.WebhookSecret) {
		logger.Info("razorpay webhook signature mismatch", nil)
		return false
	}
	return true
}

// ParseWebhookEvent extracts normalized fields from a Razorpay event. The
// body carries no event ID, so one is derived from the event name and the
// affected entity, which is stable across redeliveries.
func (a *Adapter) ParseWebhookEvent(payload []byte) (*provider.WebhookEvent, error) {
	var event struct {
		Event     string `json:"event"`
		CreatedAt int64  `json:"created_at"`
		Payload   struct {
			Payment struct {
				Entity struct {
					ID      string `json:"id"`
					OrderID string `json:"order_id"`
				} `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity struct {
					ID string `json:"id"`
				} `json:"entity"`
			} `json:"order"`
			Refund struct {
				Entity struct {
					ID        string `json:"id"`
					PaymentID string `json:"payment_id"`
				} `json:"entity"`
			} `json:"refund"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	evt := &provider.WebhookEvent{
		EventType:  event.Event,
		OccurredAt: time.Unix(event.CreatedAt, 0).UTC(),
	}
	switch {
	case event.Payload.Payment.Entity.ID != "":
		evt.ProviderPaymentID = event.Payload.Payment.Entity.ID
		evt.ProviderOrderID = event.Payload.Payment.Entity.OrderID
		evt.EventID = event.Event + ":" + event.Payload.Payment.Entity.ID
	case event.Payload.Refund.Entity.ID != "":
		evt.ProviderPaymentID = event.Payload.Refund.Entity.PaymentID
		evt.EventID = event.Event + ":" + event.Payload.Refund.Entity.ID
	default:
		evt.ProviderOrderID = event.Payload.Order.Entity.ID
		evt.EventID = event.Event + ":" + event.Payload.Order.Entity.ID
	}
	return evt, nil
}

// verifySignature compares a hex HMAC-SHA256 of message under secret in
// constant time.
func verifySignature(message []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
