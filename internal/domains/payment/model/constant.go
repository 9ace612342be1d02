package model

import "time"

// =====================================================
// PAYMENT PROVIDERS
// =====================================================
type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderPayPal   Provider = "PAYPAL"
	ProviderRazorpay Provider = "RAZORPAY"
)

var ValidProviders = []Provider{
	ProviderStripe,
	ProviderPayPal,
	ProviderRazorpay,
}

// SupportedCurrencies lists the ISO-4217 codes each provider accepts.
// A payment in any other currency is converted before the session is created.
var SupportedCurrencies = map[Provider][]string{
	ProviderStripe:   {"USD", "EUR", "GBP", "CAD", "AUD", "JPY"},
	ProviderPayPal:   {"USD", "EUR", "GBP", "CAD", "AUD", "JPY"},
	ProviderRazorpay: {"INR", "USD"},
}

// =====================================================
// PAYMENT STATUS
// =====================================================
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusResolved  PaymentStatus = "RESOLVED"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
)

// paymentTransitions is the single source of truth for the lifecycle.
// RESOLVED is the client-visible capture confirmation; the provider webhook
// remains authoritative, so RESOLVED may still fall to FAILED.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusResolved,
		PaymentStatusSuccess, // webhook fast-path, before the caller polls
		PaymentStatusFailed,
		PaymentStatusCancelled,
		PaymentStatusExpired,
	},
	PaymentStatusResolved: {
		PaymentStatusSuccess,
		PaymentStatusFailed,
	},
}

// CanTransition reports whether from -> to is an allowed lifecycle edge.
func CanTransition(from, to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status permits no further transitions.
func IsTerminalStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// =====================================================
// PROVIDER SESSION STATUS
// =====================================================
type SessionStatus string

const (
	SessionStatusCreated         SessionStatus = "CREATED"
	SessionStatusPendingApproval SessionStatus = "PENDING_APPROVAL"
	SessionStatusApproved        SessionStatus = "APPROVED"
	SessionStatusCaptured        SessionStatus = "CAPTURED"
	SessionStatusFailed          SessionStatus = "FAILED"
)

// sessionOrder encodes the happy path CREATED -> PENDING_APPROVAL ->
// APPROVED -> CAPTURED. Any non-terminal state may drop to FAILED.
var sessionOrder = map[SessionStatus]int{
	SessionStatusCreated:         0,
	SessionStatusPendingApproval: 1,
	SessionStatusApproved:        2,
	SessionStatusCaptured:        3,
}

// CanTransitionSession reports whether a provider session may move from -> to.
func CanTransitionSession(from, to SessionStatus) bool {
	if from == SessionStatusCaptured || from == SessionStatusFailed {
		return false
	}
	if to == SessionStatusFailed {
		return true
	}
	fromOrd, ok1 := sessionOrder[from]
	toOrd, ok2 := sessionOrder[to]
	return ok1 && ok2 && toOrd > fromOrd
}

// =====================================================
// REFUND STATUS
// =====================================================
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "PENDING"
	RefundStatusSuccess RefundStatus = "SUCCESS"
	RefundStatusFailed  RefundStatus = "FAILED"
)

// =====================================================
// PAYMENT CONFIGURATION
// =====================================================
const (
	// PaymentTimeout is how long a PENDING payment may wait for resolution.
	PaymentTimeout = 10 * time.Minute

	// SweepBatchSize limits how many overdue payments one sweeper run handles.
	SweepBatchSize = 50

	// SweepInterval is the safety-net sweeper cadence.
	SweepInterval = time.Minute

	// AmountToleranceMinor is the permitted rounding drift between the
	// line-item sum and the converted total, in minor units.
	AmountToleranceMinor = 1
)

// =====================================================
// CACHE NAMESPACES
// =====================================================
const (
	CacheKeyLockPrefix      = "lock:"
	CacheKeyResultPrefix    = "result:"
	CacheKeyTimeoutPrefix   = "payments:timeout:"
	CacheKeyProcessedPrefix = "processed:"
	CacheKeyPayPalCert      = "paypal_cert:"

	IdempotencyLockTTL   = 30 * time.Second
	IdempotencyResultTTL = 24 * time.Hour
	ProcessedEventTTL    = 30 * 24 * time.Hour
	PayPalCertTTL        = 12 * time.Hour
	FxRateTTL            = 60 * time.Second
)

// =====================================================
// WEBHOOK EVENT ALLOW-LISTS
// =====================================================
var WebhookEventAllowList = map[Provider][]string{
	ProviderStripe: {
		"checkout.session.completed",
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
		"charge.refunded",
	},
	ProviderRazorpay: {
		"payment.captured",
		"payment.failed",
		"order.paid",
		"refund.processed",
		"subscription.charged",
	},
	ProviderPayPal: {
		"PAYMENT.CAPTURE.COMPLETED",
		"PAYMENT.CAPTURE.DENIED",
		"PAYMENT.CAPTURE.FAILED",
	},
}

// IsAllowedWebhookEvent checks a provider event type against the allow-list.
func IsAllowedWebhookEvent(provider Provider, eventType string) bool {
	for _, t := range WebhookEventAllowList[provider] {
		if t == eventType {
			return true
		}
	}
	return false
}

// =====================================================
// ORDER STATUS GATE
// =====================================================

// PayableOrderStatuses are the upstream order states that accept a payment.
var PayableOrderStatuses = []string{"created", "processing", "pending", "pending_payment"}

// IsPayableOrderStatus reports whether an order may still be paid for.
func IsPayableOrderStatus(status string) bool {
	for _, s := range PayableOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}
