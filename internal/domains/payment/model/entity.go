package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =====================================================
// PAYMENT AGGREGATE
// =====================================================

// Payment is the aggregate root for a single purchase attempt on an order.
// Amounts are minor units (cents, paise). Sessions are append-only children;
// they are persisted together with the aggregate in one transaction.
type Payment struct {
	ID      uuid.UUID `json:"id" db:"id"`
	UserID  uuid.UUID `json:"user_id" db:"user_id"`
	OrderID uuid.UUID `json:"order_id" db:"order_id"`

	// Original amount as charged to the order
	Amount   int64  `json:"amount" db:"amount"`
	Currency string `json:"currency" db:"currency"`

	// Caller-supplied retry-safety key, unique across all payments
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Status PaymentStatus `json:"status" db:"status"`

	// Provider order ID of the first created session
	ProviderOrderID *string `json:"provider_order_id,omitempty" db:"provider_order_id"`

	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Sessions []ProviderSession `json:"sessions,omitempty" db:"-"`
}

// NewPayment constructs a PENDING payment with a 10 minute expiry window.
func NewPayment(userID, orderID uuid.UUID, amount int64, currency, idempotencyKey string) (*Payment, error) {
	if amount <= 0 {
		return nil, NewInvalidAmountError(amount)
	}
	now := time.Now().UTC()
	return &Payment{
		ID:             uuid.New(),
		UserID:         userID,
		OrderID:        orderID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: idempotencyKey,
		Status:         PaymentStatusPending,
		ExpiresAt:      now.Add(PaymentTimeout),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsTerminal reports whether no further lifecycle transition is permitted.
func (p *Payment) IsTerminal() bool {
	return IsTerminalStatus(p.Status)
}

// TransitionTo moves the payment along an allowed lifecycle edge and stamps
// UpdatedAt. A forbidden edge returns InvalidTransition; a same-status
// "transition" into a terminal state is reported via ErrAlreadyInStatus so
// callers can treat it as an idempotent no-op.
func (p *Payment) TransitionTo(to PaymentStatus) error {
	if p.Status == to {
		return ErrAlreadyInStatus
	}
	if !CanTransition(p.Status, to) {
		return NewInvalidTransitionError(p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SessionByProviderOrderID finds the session created for a provider order.
func (p *Payment) SessionByProviderOrderID(providerOrderID string) *ProviderSession {
	for i := range p.Sessions {
		s := &p.Sessions[i]
		if s.ProviderOrderID != nil && *s.ProviderOrderID == providerOrderID {
			return s
		}
	}
	return nil
}

// LatestSession returns the most recently appended session, or nil.
func (p *Payment) LatestSession() *ProviderSession {
	if len(p.Sessions) == 0 {
		return nil
	}
	return &p.Sessions[len(p.Sessions)-1]
}

// CapturedSession returns the CAPTURED session, if any. The aggregate
// invariant permits at most one.
func (p *Payment) CapturedSession() *ProviderSession {
	for i := range p.Sessions {
		if p.Sessions[i].Status == SessionStatusCaptured {
			return &p.Sessions[i]
		}
	}
	return nil
}

// AppendSession attaches a new session attempt to the aggregate.
func (p *Payment) AppendSession(s ProviderSession) {
	s.PaymentID = p.ID
	p.Sessions = append(p.Sessions, s)
}

// =====================================================
// PROVIDER SESSION
// =====================================================

// ProviderSession is one attempt at charging a payment through a provider.
// Amount and currency are as presented to the provider, which may differ from
// the payment's originals when an FX conversion was applied.
type ProviderSession struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PaymentID uuid.UUID `json:"payment_id" db:"payment_id"`

	Provider          Provider `json:"provider" db:"provider"`
	ProviderOrderID   *string  `json:"provider_order_id,omitempty" db:"provider_order_id"`
	ProviderPaymentID *string  `json:"provider_payment_id,omitempty" db:"provider_payment_id"`

	Amount   int64  `json:"amount" db:"provider_amount"`
	Currency string `json:"currency" db:"provider_currency"`

	FxRate      decimal.Decimal `json:"fx_rate" db:"fx_rate"`
	FxTimestamp *time.Time      `json:"fx_timestamp,omitempty" db:"fx_timestamp"`

	Status   SessionStatus          `json:"status" db:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TransitionTo moves the session along an allowed edge and stamps UpdatedAt.
func (s *ProviderSession) TransitionTo(to SessionStatus) error {
	if s.Status == to {
		return ErrAlreadyInStatus
	}
	if !CanTransitionSession(s.Status, to) {
		return NewInvalidSessionTransitionError(s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCaptured records a successful provider capture on the session.
func (s *ProviderSession) MarkCaptured(providerPaymentID string) error {
	if err := s.TransitionTo(SessionStatusCaptured); err != nil {
		return err
	}
	if providerPaymentID != "" {
		s.ProviderPaymentID = &providerPaymentID
	}
	return nil
}

// MarkFailed moves the session to FAILED regardless of its current state.
func (s *ProviderSession) MarkFailed() {
	if s.Status == SessionStatusFailed {
		return
	}
	s.Status = SessionStatusFailed
	s.UpdatedAt = time.Now().UTC()
}

// IsRefundable reports whether a refund may be recorded against the session.
// The caller must additionally check that no refund record exists yet.
func (s *ProviderSession) IsRefundable() bool {
	return s.Status == SessionStatusCaptured
}

// =====================================================
// PROVIDER REFUND
// =====================================================

// ProviderRefund is the one-to-one refund record for a captured session.
// The refund authorization policy itself lives outside this service.
type ProviderRefund struct {
	ID                uuid.UUID `json:"id" db:"id"`
	PaymentID         uuid.UUID `json:"payment_id" db:"payment_id"`
	ProviderSessionID uuid.UUID `json:"provider_session_id" db:"provider_session_id"`

	ProviderRefundID  *string `json:"provider_refund_id,omitempty" db:"provider_refund_id"`
	RequestedAmount   int64   `json:"requested_amount" db:"requested_amount"`
	RequestedCurrency string  `json:"requested_currency" db:"requested_currency"`
	IdempotencyKey    string  `json:"idempotency_key" db:"idempotency_key"`
	ProviderFee       *int64  `json:"provider_fee,omitempty" db:"provider_fee"`

	Status   RefundStatus           `json:"status" db:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// =====================================================
// TIMEOUT RECORD
// =====================================================

// TimeoutRecord is the cache value written under payments:timeout:{paymentID}.
// Its TTL expiry drives the primary timeout path.
type TimeoutRecord struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
