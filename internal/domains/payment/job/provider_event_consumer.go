package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/repository"
	"payment-service/internal/domains/payment/service"
	"payment-service/pkg/logger"
)

// =====================================================
// PROVIDER EVENT CONSUMER
// =====================================================
// Drains the provider-events topic and turns verified webhook events into
// payment finalizations. The processed marker is written only after the
// dispatched use case returned cleanly, so a crash in between redelivers
// instead of dropping.

// DispatchAction says what a (provider, eventType) pair does to a payment.
type DispatchAction int

const (
	ActionNone DispatchAction = iota
	ActionSuccess
	ActionFailure
)

// dispatchTable routes verified provider events. Anything absent is ignored
// after dedup, which covers informational types like refunds.
var dispatchTable = map[model.Provider]map[string]DispatchAction{
	model.ProviderStripe: {
		"checkout.session.completed":    ActionSuccess,
		"payment_intent.succeeded":      ActionSuccess,
		"payment_intent.payment_failed": ActionFailure,
	},
	model.ProviderPayPal: {
		"PAYMENT.CAPTURE.COMPLETED": ActionSuccess,
		"PAYMENT.CAPTURE.DENIED":    ActionFailure,
		"PAYMENT.CAPTURE.FAILED":    ActionFailure,
	},
	model.ProviderRazorpay: {
		"payment.captured": ActionSuccess,
		"order.paid":       ActionSuccess,
		"payment.failed":   ActionFailure,
		"order.failed":     ActionFailure,
	},
}

// Dispatch resolves the action for one provider event type.
func Dispatch(provider model.Provider, eventType string) DispatchAction {
	return dispatchTable[provider][eventType]
}

type ProviderEventConsumer struct {
	paymentService service.PaymentService
	cacheRepo      repository.PaymentCacheRepository
}

func NewProviderEventConsumer(paymentService service.PaymentService, cacheRepo repository.PaymentCacheRepository) *ProviderEventConsumer {
	return &ProviderEventConsumer{
		paymentService: paymentService,
		cacheRepo:      cacheRepo,
	}
}

// HandleEnvelope processes one delivered provider event. A returned error
// requeues the delivery, so only retryable failures may propagate.
func (c *ProviderEventConsumer) HandleEnvelope(ctx context.Context, envelope model.EventEnvelope) error {
	var event model.ProviderEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		logger.Error("discarding malformed provider event", err)
		return nil
	}

	// Step 1: Drop redelivered events
	processed, err := c.cacheRepo.IsEventProcessed(ctx, event.DedupKey())
	if err != nil {
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if processed {
		return nil
	}

	// Step 2: Route and execute
	if err := c.dispatch(ctx, event); err != nil {
		return err
	}

	// Step 3: Mark processed only after a clean dispatch
	if err := c.cacheRepo.MarkEventProcessed(ctx, event.DedupKey()); err != nil {
		// The use case is idempotent, so a missing marker only costs a
		// redundant redelivery
		logger.Error("failed to mark provider event processed", err)
	}
	return nil
}

func (c *ProviderEventConsumer) dispatch(ctx context.Context, event model.ProviderEvent) error {
	action := Dispatch(event.Provider, event.ProviderEventType)
	if action == ActionNone {
		return nil
	}

	if event.OrderID == nil || *event.OrderID == "" {
		logger.Info("provider event carries no order reference, skipping", map[string]interface{}{
			"provider":   event.Provider,
			"event_type": event.ProviderEventType,
			"event_id":   event.ProviderEventID,
		})
		return nil
	}

	var dispatchErr error
	switch action {
	case ActionSuccess:
		dispatchErr = c.paymentService.SuccessPayment(ctx, event.Provider, *event.OrderID)
	case ActionFailure:
		dispatchErr = c.paymentService.FailurePayment(ctx, event.Provider, *event.OrderID)
	}
	if dispatchErr == nil {
		return nil
	}

	// A payment we never created, or one already past this transition,
	// will not be fixed by redelivery
	if errors.Is(dispatchErr, model.ErrOrderNotFound) ||
		errors.Is(dispatchErr, model.ErrPaymentNotFound) ||
		errors.Is(dispatchErr, model.ErrInvalidTransition) {
		logger.Info("provider event not applicable, acknowledging", map[string]interface{}{
			"provider":   event.Provider,
			"event_type": event.ProviderEventType,
			"event_id":   event.ProviderEventID,
			"reason":     dispatchErr.Error(),
		})
		return nil
	}
	return dispatchErr
}
