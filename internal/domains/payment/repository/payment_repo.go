package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payment-service/internal/domains/payment/model"
	"payment-service/pkg/database"
)

// =====================================================
// PAYMENT REPOSITORY IMPLEMENTATION
// =====================================================
type paymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepository{pool: pool}
}

const paymentColumns = `
	id, user_id, order_id, amount, currency, idempotency_key, status,
	provider_order_id, expires_at, created_at, updated_at
`

const sessionColumns = `
	id, payment_id, provider, provider_order_id, provider_payment_id,
	provider_amount, provider_currency, fx_rate, fx_timestamp, status,
	metadata, created_at, updated_at
`

// =====================================================
// WRITES
// =====================================================

// CreateWithSessions inserts the payment and its sessions atomically
func (r *paymentRepository) CreateWithSessions(ctx context.Context, payment *model.Payment) error {
	return database.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO payments (` + paymentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := tx.Exec(ctx, query,
			payment.ID,
			payment.UserID,
			payment.OrderID,
			payment.Amount,
			payment.Currency,
			payment.IdempotencyKey,
			payment.Status,
			payment.ProviderOrderID,
			payment.ExpiresAt,
			payment.CreatedAt,
			payment.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		for i := range payment.Sessions {
			if err := upsertSession(ctx, tx, &payment.Sessions[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateWithSessions persists the aggregate state atomically. Sessions are
// upserted so attempts appended since the last load get inserted.
func (r *paymentRepository) UpdateWithSessions(ctx context.Context, payment *model.Payment) error {
	return database.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			UPDATE payments
			SET status = $1,
				provider_order_id = $2,
				updated_at = $3
			WHERE id = $4
		`
		result, err := tx.Exec(ctx, query,
			payment.Status,
			payment.ProviderOrderID,
			payment.UpdatedAt,
			payment.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if result.RowsAffected() == 0 {
			return model.ErrPaymentNotFound
		}

		for i := range payment.Sessions {
			if err := upsertSession(ctx, tx, &payment.Sessions[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertSession(ctx context.Context, tx pgx.Tx, session *model.ProviderSession) error {
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	query := `
		INSERT INTO payment_provider_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET provider_order_id = EXCLUDED.provider_order_id,
			provider_payment_id = EXCLUDED.provider_payment_id,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.Exec(ctx, query,
		session.ID,
		session.PaymentID,
		session.Provider,
		session.ProviderOrderID,
		session.ProviderPaymentID,
		session.Amount,
		session.Currency,
		session.FxRate,
		session.FxTimestamp,
		session.Status,
		metadataJSON,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider session: %w", err)
	}
	return nil
}

// =====================================================
// READS
// =====================================================

// GetByID gets a payment with all its provider sessions
func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByIdempotencyKey gets the payment created under a caller key
func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	return r.getOne(ctx, `WHERE idempotency_key = $1`, key)
}

// GetByProviderOrderID gets the payment owning a provider-side order.
// Matches both the aggregate's first-session pointer and any session row,
// so retried attempts stay addressable.
func (r *paymentRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*model.Payment, error) {
	return r.getOne(ctx, `
		WHERE provider_order_id = $1
		   OR id IN (SELECT payment_id FROM payment_provider_sessions WHERE provider_order_id = $1)
	`, providerOrderID)
}

func (r *paymentRepository) getOne(ctx context.Context, where string, arg interface{}) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ` + where + ` LIMIT 1`

	payment := &model.Payment{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&payment.ID,
		&payment.UserID,
		&payment.OrderID,
		&payment.Amount,
		&payment.Currency,
		&payment.IdempotencyKey,
		&payment.Status,
		&payment.ProviderOrderID,
		&payment.ExpiresAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	if err := r.loadSessions(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *paymentRepository) loadSessions(ctx context.Context, payment *model.Payment) error {
	query := `
		SELECT ` + sessionColumns + `
		FROM payment_provider_sessions
		WHERE payment_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to load provider sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var session model.ProviderSession
		var metadataJSON []byte
		err := rows.Scan(
			&session.ID,
			&session.PaymentID,
			&session.Provider,
			&session.ProviderOrderID,
			&session.ProviderPaymentID,
			&session.Amount,
			&session.Currency,
			&session.FxRate,
			&session.FxTimestamp,
			&session.Status,
			&metadataJSON,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan provider session: %w", err)
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
				return fmt.Errorf("failed to unmarshal session metadata: %w", err)
			}
		}
		payment.Sessions = append(payment.Sessions, session)
	}
	return rows.Err()
}

// GetExpiredPayments lists PENDING payments whose deadline has passed,
// oldest first, for the safety-net sweeper.
func (r *paymentRepository) GetExpiredPayments(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, model.PaymentStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		payment := &model.Payment{}
		err := rows.Scan(
			&payment.ID,
			&payment.UserID,
			&payment.OrderID,
			&payment.Amount,
			&payment.Currency,
			&payment.IdempotencyKey,
			&payment.Status,
			&payment.ProviderOrderID,
			&payment.ExpiresAt,
			&payment.CreatedAt,
			&payment.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, payment := range payments {
		if err := r.loadSessions(ctx, payment); err != nil {
			return nil, err
		}
	}
	return payments, nil
}
