package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// PAYMENT CACHE REPOSITORY IMPLEMENTATION
// =====================================================
type paymentCacheRepository struct {
	client *redis.Client
}

func NewPaymentCacheRepository(client *redis.Client) PaymentCacheRepository {
	return &paymentCacheRepository{client: client}
}

// ScheduleTimeout writes payments:timeout:{paymentID} with the deadline TTL.
// The keyspace-notification listener reacts to the key's expiry.
func (r *paymentCacheRepository) ScheduleTimeout(ctx context.Context, record model.TimeoutRecord, ttl time.Duration) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal timeout record: %w", err)
	}

	key := model.CacheKeyTimeoutPrefix + record.PaymentID.String()
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to schedule payment timeout: %w", err)
	}
	return nil
}

// CancelTimeout disarms the timeout key after a payment left PENDING
func (r *paymentCacheRepository) CancelTimeout(ctx context.Context, paymentID uuid.UUID) error {
	key := model.CacheKeyTimeoutPrefix + paymentID.String()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to cancel payment timeout: %w", err)
	}
	return nil
}

// IsEventProcessed checks the webhook dedup marker
func (r *paymentCacheRepository) IsEventProcessed(ctx context.Context, dedupKey string) (bool, error) {
	n, err := r.client.Exists(ctx, model.CacheKeyProcessedPrefix+dedupKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed marker: %w", err)
	}
	return n > 0, nil
}

// MarkEventProcessed sets the webhook dedup marker. Called only after the
// event was dispatched, so a crash in between re-delivers rather than drops.
func (r *paymentCacheRepository) MarkEventProcessed(ctx context.Context, dedupKey string) error {
	key := model.CacheKeyProcessedPrefix + dedupKey
	if err := r.client.Set(ctx, key, "1", model.ProcessedEventTTL).Err(); err != nil {
		return fmt.Errorf("failed to set processed marker: %w", err)
	}
	return nil
}
