package job

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/service"
	"payment-service/pkg/logger"
)

// =====================================================
// TIMEOUT LISTENER
// =====================================================
// Subscribes to Redis expired-key notifications and expires the payment
// whose timeout key just lapsed. Delivery is best-effort on Redis's side;
// the periodic sweeper covers missed notifications.

const expiredKeyPattern = "__keyevent@*__:expired"

type TimeoutListener struct {
	client         *redis.Client
	paymentService service.PaymentService
}

func NewTimeoutListener(client *redis.Client, paymentService service.PaymentService) *TimeoutListener {
	return &TimeoutListener{
		client:         client,
		paymentService: paymentService,
	}
}

// Start runs the subscription loop until ctx is cancelled.
func (l *TimeoutListener) Start(ctx context.Context) {
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			l.listen(ctx)

			if ctx.Err() == nil {
				logger.Info("timeout listener disconnected, resubscribing in 5 seconds", nil)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (l *TimeoutListener) listen(ctx context.Context) {
	pubsub := l.client.PSubscribe(ctx, expiredKeyPattern)
	defer pubsub.Close()

	logger.Info("timeout listener subscribed", map[string]interface{}{
		"pattern": expiredKeyPattern,
	})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.handleExpiredKey(ctx, msg.Payload)
		}
	}
}

// handleExpiredKey reacts to one expired key. The payload is the key name;
// only payments:timeout: keys are ours.
func (l *TimeoutListener) handleExpiredKey(ctx context.Context, key string) {
	if !strings.HasPrefix(key, model.CacheKeyTimeoutPrefix) {
		return
	}

	paymentID, err := uuid.Parse(strings.TrimPrefix(key, model.CacheKeyTimeoutPrefix))
	if err != nil {
		logger.Error("timeout key carries no valid payment ID", err)
		return
	}

	if err := l.paymentService.HandlePaymentTimeout(ctx, paymentID); err != nil {
		// The sweeper retries anything still PENDING
		logger.Error("failed to expire payment from notification", err)
	}
}
