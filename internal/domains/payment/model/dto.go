package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =====================================================
// CREATE PAYMENT REQUEST/RESPONSE
// =====================================================

type CreatePaymentRequest struct {
	UserID     uuid.UUID `json:"user_id" binding:"required"`
	OrderID    uuid.UUID `json:"order_id" binding:"required"`
	Provider   Provider  `json:"provider" binding:"required"`
	UserEmail  *string   `json:"user_email,omitempty"` // prefills the hosted checkout page
	SuccessURL *string   `json:"success_url,omitempty"`
	CancelURL  *string   `json:"cancel_url,omitempty"`
}

// Validate validates CreatePaymentRequest
func (req CreatePaymentRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.UserID, validation.Required, validation.By(uuidNotNil)),
		validation.Field(&req.OrderID, validation.Required, validation.By(uuidNotNil)),
		validation.Field(&req.Provider, validation.Required, validation.In(
			ProviderStripe,
			ProviderPayPal,
			ProviderRazorpay,
		)),
		validation.Field(&req.UserEmail, validation.NilOrNotEmpty, is.Email),
		validation.Field(&req.SuccessURL, validation.NilOrNotEmpty, is.URL),
		validation.Field(&req.CancelURL, validation.NilOrNotEmpty, is.URL),
	)
}

type CreatePaymentResponse struct {
	PaymentID       uuid.UUID     `json:"payment_id"`
	OrderID         uuid.UUID     `json:"order_id"`
	Provider        Provider      `json:"provider"`
	Status          PaymentStatus `json:"status"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	ProviderOrderID string        `json:"provider_order_id"`

	// Provider-specific completion data, one group populated per provider
	ApprovalURL  *string `json:"approval_url,omitempty"`  // PayPal
	ClientSecret *string `json:"client_secret,omitempty"` // Stripe
	CheckoutURL  *string `json:"checkout_url,omitempty"`  // Stripe hosted page
	KeyID        *string `json:"key_id,omitempty"`        // Razorpay

	ExpiresAt time.Time `json:"expires_at"`
}

// =====================================================
// RESOLVE PAYMENT REQUEST/RESPONSE
// =====================================================

// ResolvePaymentRequest carries the provider-specific resolution payload.
// Stripe and PayPal need only the provider order ID; Razorpay additionally
// sends the payment ID and the checkout signature to verify.
type ResolvePaymentRequest struct {
	Provider          Provider `json:"provider" binding:"required"`
	ProviderOrderID   string   `json:"provider_order_id" binding:"required"`
	ProviderPaymentID string   `json:"provider_payment_id,omitempty"`
	Signature         string   `json:"signature,omitempty"`
}

// Validate validates ResolvePaymentRequest
func (req ResolvePaymentRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Provider, validation.Required, validation.In(
			ProviderStripe,
			ProviderPayPal,
			ProviderRazorpay,
		)),
		validation.Field(&req.ProviderOrderID, validation.Required),
		validation.Field(&req.ProviderPaymentID,
			validation.Required.When(req.Provider == ProviderRazorpay)),
		validation.Field(&req.Signature,
			validation.Required.When(req.Provider == ProviderRazorpay)),
	)
}

type ResolvePaymentResponse struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	OrderID        uuid.UUID `json:"order_id"`
	Provider       Provider  `json:"provider"`
	ProviderStatus string    `json:"provider_status"`
	IsVerified     bool      `json:"is_verified"`
}

// =====================================================
// CANCEL PAYMENT REQUEST
// =====================================================

type CancelPaymentRequest struct {
	Provider        Provider `json:"provider" binding:"required"`
	ProviderOrderID string   `json:"provider_order_id" binding:"required"`
	Reason          *string  `json:"reason,omitempty"`
}

// Validate validates CancelPaymentRequest
func (req CancelPaymentRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Provider, validation.Required, validation.In(
			ProviderStripe,
			ProviderPayPal,
			ProviderRazorpay,
		)),
		validation.Field(&req.ProviderOrderID, validation.Required),
	)
}

// =====================================================
// REFUND PAYMENT REQUEST/RESPONSE
// =====================================================

type RefundPaymentRequest struct {
	PaymentID uuid.UUID `json:"payment_id" binding:"required"`
	Reason    *string   `json:"reason,omitempty"`
}

// Validate validates RefundPaymentRequest
func (req RefundPaymentRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.PaymentID, validation.Required, validation.By(uuidNotNil)),
	)
}

type RefundPaymentResponse struct {
	RefundID         uuid.UUID    `json:"refund_id"`
	PaymentID        uuid.UUID    `json:"payment_id"`
	ProviderRefundID *string      `json:"provider_refund_id,omitempty"`
	Amount           int64        `json:"amount"`
	Currency         string       `json:"currency"`
	Status           RefundStatus `json:"status"`
}

// =====================================================
// PAYMENT STATUS RESPONSE
// =====================================================

type PaymentStatusResponse struct {
	PaymentID       uuid.UUID         `json:"payment_id"`
	UserID          uuid.UUID         `json:"user_id"`
	OrderID         uuid.UUID         `json:"order_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Status          PaymentStatus     `json:"status"`
	ProviderOrderID *string           `json:"provider_order_id,omitempty"`
	ExpiresAt       time.Time         `json:"expires_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Sessions        []SessionResponse `json:"sessions"`
}

type SessionResponse struct {
	SessionID         uuid.UUID       `json:"session_id"`
	Provider          Provider        `json:"provider"`
	ProviderOrderID   *string         `json:"provider_order_id,omitempty"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	FxRate            decimal.Decimal `json:"fx_rate"`
	Status            SessionStatus   `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// NewPaymentStatusResponse maps an aggregate onto the polling response shape.
func NewPaymentStatusResponse(p *Payment) *PaymentStatusResponse {
	resp := &PaymentStatusResponse{
		PaymentID:       p.ID,
		UserID:          p.UserID,
		OrderID:         p.OrderID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          p.Status,
		ProviderOrderID: p.ProviderOrderID,
		ExpiresAt:       p.ExpiresAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Sessions:        make([]SessionResponse, 0, len(p.Sessions)),
	}
	for _, s := range p.Sessions {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			SessionID:         s.ID,
			Provider:          s.Provider,
			ProviderOrderID:   s.ProviderOrderID,
			ProviderPaymentID: s.ProviderPaymentID,
			Amount:            s.Amount,
			Currency:          s.Currency,
			FxRate:            s.FxRate,
			Status:            s.Status,
			CreatedAt:         s.CreatedAt,
		})
	}
	return resp
}

// uuidNotNil rejects the zero UUID, which json decoding happily produces.
func uuidNotNil(value interface{}) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return validation.NewError("validation_required", "must be a non-zero UUID")
	}
	return nil
}
