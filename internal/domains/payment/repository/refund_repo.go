package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// REFUND REPOSITORY IMPLEMENTATION
// =====================================================
type refundRepository struct {
	pool *pgxpool.Pool
}

func NewRefundRepository(pool *pgxpool.Pool) RefundRepository {
	return &refundRepository{pool: pool}
}

const refundColumns = `
	id, payment_id, provider_session_id, provider_refund_id,
	requested_amount, requested_currency, idempotency_key, provider_fee,
	status, metadata, created_at, updated_at
`

// Create inserts a refund record. The unique index on provider_session_id
// enforces at most one refund per captured session.
func (r *refundRepository) Create(ctx context.Context, refund *model.ProviderRefund) error {
	metadataJSON, err := json.Marshal(refund.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal refund metadata: %w", err)
	}

	query := `
		INSERT INTO payment_provider_refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		refund.ID,
		refund.PaymentID,
		refund.ProviderSessionID,
		refund.ProviderRefundID,
		refund.RequestedAmount,
		refund.RequestedCurrency,
		refund.IdempotencyKey,
		refund.ProviderFee,
		refund.Status,
		metadataJSON,
		refund.CreatedAt,
		refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// GetBySessionID gets the refund recorded against a session, if any
func (r *refundRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.ProviderRefund, error) {
	return r.getOne(ctx, `WHERE provider_session_id = $1`, sessionID)
}

// GetByIdempotencyKey gets the refund created under a caller key
func (r *refundRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.ProviderRefund, error) {
	return r.getOne(ctx, `WHERE idempotency_key = $1`, key)
}

func (r *refundRepository) getOne(ctx context.Context, where string, arg interface{}) (*model.ProviderRefund, error) {
	query := `SELECT ` + refundColumns + ` FROM payment_provider_refunds ` + where + ` LIMIT 1`

	refund := &model.ProviderRefund{}
	var metadataJSON []byte
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&refund.ID,
		&refund.PaymentID,
		&refund.ProviderSessionID,
		&refund.ProviderRefundID,
		&refund.RequestedAmount,
		&refund.RequestedCurrency,
		&refund.IdempotencyKey,
		&refund.ProviderFee,
		&refund.Status,
		&metadataJSON,
		&refund.CreatedAt,
		&refund.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &refund.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal refund metadata: %w", err)
		}
	}
	return refund, nil
}

// Update persists refund status and provider identifiers
func (r *refundRepository) Update(ctx context.Context, refund *model.ProviderRefund) error {
	metadataJSON, err := json.Marshal(refund.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal refund metadata: %w", err)
	}

	query := `
		UPDATE payment_provider_refunds
		SET provider_refund_id = $1,
			provider_fee = $2,
			status = $3,
			metadata = $4,
			updated_at = $5
		WHERE id = $6
	`
	result, err := r.pool.Exec(ctx, query,
		refund.ProviderRefundID,
		refund.ProviderFee,
		refund.Status,
		metadataJSON,
		refund.UpdatedAt,
		refund.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if result.RowsAffected() == 0 {
		return model.ErrRefundNotFound
	}
	return nil
}
