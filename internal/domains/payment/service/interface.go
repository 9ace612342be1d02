package service

import (
	"context"

	"github.com/google/uuid"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// PAYMENT SERVICE INTERFACE
// =====================================================
type PaymentService interface {
	// CreatePayment orchestrates order validation, FX conversion and
	// provider session creation, returning the checkout handle
	CreatePayment(ctx context.Context, req *model.CreatePaymentRequest, idempotencyKey string) (*model.CreatePaymentResponse, error)

	// ResolvePayment confirms capture with the provider on the caller's
	// behalf; the webhook remains the authoritative success signal
	ResolvePayment(ctx context.Context, req *model.ResolvePaymentRequest) (*model.ResolvePaymentResponse, error)

	// CancelPayment cancels a PENDING payment at the provider and locally
	CancelPayment(ctx context.Context, req *model.CancelPaymentRequest) error

	// RefundPayment records and executes a refund against the captured session
	RefundPayment(ctx context.Context, req *model.RefundPaymentRequest, idempotencyKey string) (*model.RefundPaymentResponse, error)

	// GetPaymentStatus returns the aggregate for caller polling
	GetPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*model.PaymentStatusResponse, error)

	// SuccessPayment finalizes a payment from a provider success event,
	// idempotent on repeated delivery
	SuccessPayment(ctx context.Context, provider model.Provider, providerOrderID string) error

	// FailurePayment finalizes a payment from a provider failure event
	FailurePayment(ctx context.Context, provider model.Provider, providerOrderID string) error

	// HandlePaymentTimeout expires a payment whose deadline passed; no-op
	// when the payment already left PENDING
	HandlePaymentTimeout(ctx context.Context, paymentID uuid.UUID) error

	// ExpireOverduePayments is the safety-net sweep over overdue PENDING
	// payments, returning how many were expired
	ExpireOverduePayments(ctx context.Context) (int, error)
}
