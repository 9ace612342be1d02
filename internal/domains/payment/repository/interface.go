package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// PAYMENT REPOSITORY INTERFACE
// =====================================================
type PaymentRepository interface {
	// CreateWithSessions inserts the payment and its sessions in one transaction
	CreateWithSessions(ctx context.Context, payment *model.Payment) error

	// GetByID gets a payment with all its provider sessions
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// GetByIdempotencyKey gets the payment created under a caller key
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)

	// GetByProviderOrderID gets the payment owning a provider-side order
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*model.Payment, error)

	// UpdateWithSessions persists the aggregate state in one transaction,
	// upserting sessions so appended attempts are inserted
	UpdateWithSessions(ctx context.Context, payment *model.Payment) error

	// GetExpiredPayments lists PENDING payments whose deadline has passed
	GetExpiredPayments(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error)
}

// =====================================================
// REFUND REPOSITORY INTERFACE
// =====================================================
type RefundRepository interface {
	// Create inserts a refund record
	Create(ctx context.Context, refund *model.ProviderRefund) error

	// GetBySessionID gets the refund recorded against a session, if any
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.ProviderRefund, error)

	// GetByIdempotencyKey gets the refund created under a caller key
	GetByIdempotencyKey(ctx context.Context, key string) (*model.ProviderRefund, error)

	// Update persists refund status and provider identifiers
	Update(ctx context.Context, refund *model.ProviderRefund) error
}

// =====================================================
// PAYMENT CACHE REPOSITORY INTERFACE
// =====================================================
type PaymentCacheRepository interface {
	// ScheduleTimeout arms the TTL key whose expiry drives the timeout path
	ScheduleTimeout(ctx context.Context, record model.TimeoutRecord, ttl time.Duration) error

	// CancelTimeout disarms the timeout key after a payment left PENDING
	CancelTimeout(ctx context.Context, paymentID uuid.UUID) error

	// IsEventProcessed checks the webhook dedup marker
	IsEventProcessed(ctx context.Context, dedupKey string) (bool, error)

	// MarkEventProcessed sets the webhook dedup marker
	MarkEventProcessed(ctx context.Context, dedupKey string) error
}
