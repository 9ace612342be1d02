package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// ADAPTER INTERFACE
// =====================================================

// Adapter is the uniform port every payment provider implements. Amounts
// cross this boundary as minor-unit integers; converting to a provider's
// major-unit string format is the adapter's job.
type Adapter interface {
	// Name returns the provider tag this adapter serves
	Name() model.Provider

	// CreateSession creates a provider-side order/intent
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)

	// Resolve confirms capture to the caller: PayPal captures the order,
	// Razorpay verifies the checkout signature, Stripe fetches the session
	Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error)

	// Cancel voids/cancels the provider order. A definitive refusal, the
	// order being paid already, is Success=false with a nil error; a failed
	// remote call is an error and the caller treats it as best-effort
	Cancel(ctx context.Context, providerOrderID, reason string) (*CancelResult, error)

	// Refund records a refund against a captured provider payment
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// SupportedCurrencies lists the ISO-4217 codes the provider accepts
	SupportedCurrencies() []string

	// IsCurrencySupported checks one currency code
	IsCurrencySupported(code string) bool

	// IsAvailable reports provider reachability for health checks
	IsAvailable(ctx context.Context) bool

	// VerifyWebhook checks the provider's signature over the raw body
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) bool

	// ParseWebhookEvent extracts the normalized event fields from a payload
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

// =====================================================
// REQUEST/RESPONSE TYPES
// =====================================================

// CreateSessionRequest is the uniform shape for creating a provider session.
type CreateSessionRequest struct {
	UserID         uuid.UUID
	OrderID        uuid.UUID
	Amount         int64 // minor units, already converted for the provider
	Currency       string
	IdempotencyKey string
	Items          []model.ProviderLineItem
	SuccessURL     string
	CancelURL      string
	Description    string
	CustomerEmail  string
}

// Session is the provider-side order with its completion data. Exactly one
// of the provider-specific field groups is populated, matching Provider.
type Session struct {
	Provider        model.Provider
	ProviderOrderID string
	Amount          int64 // minor units as charged by the provider
	Currency        string

	ApprovalURL  *string // PayPal approval link
	ClientSecret *string // Stripe
	CheckoutURL  *string // Stripe hosted checkout page
	KeyID        *string // Razorpay public key ID

	Metadata map[string]interface{}
}

// ResolveRequest identifies the provider order being resolved. Razorpay
// additionally needs the payment ID and the checkout signature.
type ResolveRequest struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// ResolveResult reports the provider's view after a resolve attempt.
type ResolveResult struct {
	ProviderStatus    string
	IsVerified        bool
	ProviderPaymentID string
}

// CancelResult reports whether the provider accepted the cancellation.
// Success=false on a nil error means the provider definitively refused.
type CancelResult struct {
	Success bool
}

// RefundRequest asks the provider to refund a captured payment.
type RefundRequest struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Amount            int64 // minor units
	Currency          string
	Reason            string
}

// RefundResult is the provider's refund record.
type RefundResult struct {
	ProviderRefundID string
	Status           string
	Fee              *int64
	Raw              map[string]interface{}
}

// WebhookEvent carries the fields extracted from a verified webhook payload.
type WebhookEvent struct {
	EventID           string
	EventType         string
	ProviderOrderID   string
	ProviderPaymentID string
	OccurredAt        time.Time
}

// =====================================================
// REGISTRY
// =====================================================

// Registry resolves adapters by provider tag.
type Registry struct {
	adapters map[model.Provider]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider tag.
func (r *Registry) Get(p model.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, model.NewUnsupportedProviderError(string(p))
	}
	return a, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// CurrencySupported is the shared membership check adapters delegate to.
func CurrencySupported(p model.Provider, code string) bool {
	for _, c := range model.SupportedCurrencies[p] {
		if c == code {
			return true
		}
	}
	return false
}
