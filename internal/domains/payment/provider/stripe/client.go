package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
	"payment-service/pkg/logger"
)

// =====================================================
// STRIPE ADAPTER
// =====================================================

type Config struct {
	APIKey        string // secret key (sk_...)
	WebhookSecret string // endpoint signing secret (whsec_...)
}

type Adapter struct {
	config *Config
	api    *client.API
}

// New creates the Stripe adapter backed by the official SDK client.
func New(config *Config) *Adapter {
	api := &client.API{}
	api.Init(config.APIKey, nil)
	return &Adapter{config: config, api: api}
}

func (a *Adapter) Name() model.Provider { return model.ProviderStripe }

// =====================================================
// CREATE SESSION
// =====================================================

// CreateSession creates a hosted Checkout Session in payment mode.
func (a *Adapter) CreateSession(ctx context.Context, req provider.CreateSessionRequest) (*provider.Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(item.Currency)),
			UnitAmount: stripe.Int64(item.UnitAmount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(item.Name),
			},
		}
		if item.ImageURL != nil {
			priceData.ProductData.Images = stripe.StringSlice([]string{*item.ImageURL})
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: priceData,
			Quantity:  stripe.Int64(item.Quantity),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems:         lineItems,
		ClientReferenceID: stripe.String(req.OrderID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"order_id": req.OrderID.String(),
				"user_id":  req.UserID.String(),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	sess, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}

	result := &provider.Session{
		Provider:        model.ProviderStripe,
		ProviderOrderID: sess.ID,
		Amount:          sess.AmountTotal,
		Currency:        strings.ToUpper(string(sess.Currency)),
		Metadata: map[string]interface{}{
			"mode":           string(sess.Mode),
			"payment_status": string(sess.PaymentStatus),
		},
	}
	if sess.URL != "" {
		result.CheckoutURL = &sess.URL
	}
	if sess.ClientSecret != "" {
		result.ClientSecret = &sess.ClientSecret
	}
	return result, nil
}

// =====================================================
// RESOLVE
// =====================================================

// Resolve fetches the checkout session and reports its terminal state.
// Stripe resolution is a read: the capture happens on Stripe's side and the
// webhook remains the source of truth.
func (a *Adapter) Resolve(ctx context.Context, req provider.ResolveRequest) (*provider.ResolveResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := a.api.CheckoutSessions.Get(req.ProviderOrderID, params)
	if err != nil {
		return nil, err
	}

	result := &provider.ResolveResult{
		ProviderStatus: string(sess.PaymentStatus),
		IsVerified:     sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if sess.PaymentIntent != nil {
		result.ProviderPaymentID = sess.PaymentIntent.ID
	}
	return result, nil
}

// =====================================================
// CANCEL
// =====================================================

// Cancel expires the checkout session so the hosted page stops accepting
// payment. Stripe answers Expire on a completed session with a 4xx, which
// is a refusal rather than an outage.
func (a *Adapter) Cancel(ctx context.Context, providerOrderID, reason string) (*provider.CancelResult, error) {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	_, err := a.api.CheckoutSessions.Expire(providerOrderID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode < http.StatusInternalServerError {
			return &provider.CancelResult{Success: false}, nil
		}
		return nil, err
	}
	return &provider.CancelResult{Success: true}, nil
}

// =====================================================
// REFUND
// =====================================================

func (a *Adapter) Refund(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderPaymentID),
		Amount:        stripe.Int64(req.Amount),
	}
	if req.Reason != "" {
		params.Reason = stripe.String(string(stripe.RefundReasonRequestedByCustomer))
	}
	params.Context = ctx

	refund, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, err
	}
	return &provider.RefundResult{
		ProviderRefundID: refund.ID,
		Status:           string(refund.Status),
	}, nil
}

// =====================================================
// CURRENCIES / AVAILABILITY
// =====================================================

func (a *Adapter) SupportedCurrencies() []string {
	return model.SupportedCurrencies[model.ProviderStripe]
}

func (a *Adapter) IsCurrencySupported(code string) bool {
	return provider.CurrencySupported(model.ProviderStripe, code)
}

// IsAvailable probes the balance endpoint, which any valid key can read.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	_, err := a.api.Balance.Get(params)
	return err == nil
}

// =====================================================
// WEBHOOK
// =====================================================

// VerifyWebhook validates the stripe-signature header over the raw body.
func (a *Adapter) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) bool {
	sig := headers.Get("stripe-signature")
	if sig == "" {
		return false
	}
	_, err := webhook.ConstructEventWithOptions(payload, sig, a.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		logger.Error("stripe webhook signature verification failed", err)
		return false
	}
	return true
}

// ParseWebhookEvent extracts the normalized fields from a Stripe event.
// checkout.session events carry the session ID as the provider order ID;
// payment_intent events carry the intent ID as the provider payment ID.
func (a *Adapter) ParseWebhookEvent(payload []byte) (*provider.WebhookEvent, error) {
	var event struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object struct {
				ID            string            `json:"id"`
				PaymentIntent string            `json:"payment_intent"`
				Metadata      map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	evt := &provider.WebhookEvent{
		EventID:    event.ID,
		EventType:  event.Type,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	switch {
	case strings.HasPrefix(event.Type, "checkout.session."):
		evt.ProviderOrderID = event.Data.Object.ID
		evt.ProviderPaymentID = event.Data.Object.PaymentIntent
	default:
		evt.ProviderPaymentID = event.Data.Object.ID
		evt.ProviderOrderID = event.Data.Object.Metadata["checkout_session_id"]
	}
	return evt, nil
}
