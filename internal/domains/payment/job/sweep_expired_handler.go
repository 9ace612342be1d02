package job

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"payment-service/internal/domains/payment/service"
	"payment-service/pkg/logger"
)

// =====================================================
// SAFETY-NET SWEEPER
// =====================================================
// The keyspace listener can miss expiry notifications (restart, dropped
// pubsub connection). This periodic task closes the gap by expiring overdue
// PENDING payments straight from the store.

const TypeSweepExpiredPayments = "payment:sweep_expired"

type SweepExpiredPayload struct{}

// NewSweepExpiredTask builds the task the scheduler enqueues every minute.
func NewSweepExpiredTask() (*asynq.Task, error) {
	payload, err := json.Marshal(SweepExpiredPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSweepExpiredPayments, payload), nil
}

type SweepExpiredHandler struct {
	paymentService service.PaymentService
}

func NewSweepExpiredHandler(paymentService service.PaymentService) *SweepExpiredHandler {
	return &SweepExpiredHandler{paymentService: paymentService}
}

// ProcessTask runs one bounded sweep
func (h *SweepExpiredHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	expired, err := h.paymentService.ExpireOverduePayments(ctx)
	if err != nil {
		logger.Error("expired payment sweep failed", err)
		return err
	}

	if expired > 0 {
		logger.Info("expired payment sweep completed", map[string]interface{}{
			"expired": expired,
		})
	}
	return nil
}
