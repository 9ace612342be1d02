package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-service/internal/clients/course"
	"payment-service/internal/clients/order"
	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
	"payment-service/internal/domains/payment/repository"
	"payment-service/internal/infrastructure/bus"
	"payment-service/internal/infrastructure/exchange"
	"payment-service/pkg/logger"
)

// conversionTarget is the currency a payment is converted into when the
// chosen provider does not accept the order's original currency. Every
// supported provider accepts USD.
const conversionTarget = "USD"

// =====================================================
// PAYMENT SERVICE IMPLEMENTATION
// =====================================================
type paymentService struct {
	repo       repository.PaymentRepository
	refundRepo repository.RefundRepository
	cacheRepo  repository.PaymentCacheRepository
	registry   *provider.Registry
	orders     order.Client
	courses    course.Client
	rates      exchange.RateProvider
	publisher  bus.Publisher
}

func NewPaymentService(
	repo repository.PaymentRepository,
	refundRepo repository.RefundRepository,
	cacheRepo repository.PaymentCacheRepository,
	registry *provider.Registry,
	orders order.Client,
	courses course.Client,
	rates exchange.RateProvider,
	publisher bus.Publisher,
) PaymentService {
	return &paymentService{
		repo:       repo,
		refundRepo: refundRepo,
		cacheRepo:  cacheRepo,
		registry:   registry,
		orders:     orders,
		courses:    courses,
		rates:      rates,
		publisher:  publisher,
	}
}

// =====================================================
// CREATE PAYMENT
// =====================================================

// CreatePayment orchestrates the checkout session creation flow
func (s *paymentService) CreatePayment(ctx context.Context, req *model.CreatePaymentRequest, idempotencyKey string) (*model.CreatePaymentResponse, error) {
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	// Step 1: Fetch and gate the order
	ord, err := s.orders.GetOrderByID(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !model.IsPayableOrderStatus(ord.Status) {
		return nil, model.NewInvalidOrderStateError(ord.Status)
	}

	// Step 2: Fetch course metadata for the line items
	courseIDs := make([]uuid.UUID, 0, len(ord.Items))
	for _, item := range ord.Items {
		courseIDs = append(courseIDs, item.CourseID)
	}
	catalog, err := s.courses.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, err
	}

	// Step 3: Convert the amount if the provider rejects the currency
	chargeAmount := ord.Amount.Total
	chargeCurrency := ord.Amount.Currency
	fxRate := decimal.NewFromInt(1)
	fxTimestamp := time.Now().UTC()
	if !adapter.IsCurrencySupported(chargeCurrency) {
		rate, fetchedAt, err := s.rates.GetRate(ctx, chargeCurrency, conversionTarget)
		if err != nil {
			return nil, err
		}
		chargeAmount = model.ConvertMinorUnits(ord.Amount.Total, rate)
		chargeCurrency = conversionTarget
		fxRate = rate
		fxTimestamp = fetchedAt
	}

	// Step 4: Build provider line items at the converted unit prices and
	// check their sum against the converted total
	items := make([]model.ProviderLineItem, 0, len(ord.Items))
	for _, item := range ord.Items {
		name := "Course " + item.CourseID.String()
		var imageURL *string
		if meta, ok := catalog[item.CourseID]; ok {
			name = meta.Title
			imageURL = meta.Thumbnail
		}
		items = append(items, model.ProviderLineItem{
			Name:       name,
			Quantity:   1,
			UnitAmount: model.ConvertMinorUnits(item.Price, fxRate),
			Currency:   chargeCurrency,
			ImageURL:   imageURL,
		})
	}
	if err := model.ValidateLineItemTotal(items, chargeAmount); err != nil {
		return nil, err
	}

	// Step 5: Reuse the payment created under this key, or start a new one
	payment, err := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
	isNew := false
	if err != nil {
		if !errors.Is(err, model.ErrPaymentNotFound) {
			return nil, err
		}
		payment, err = model.NewPayment(req.UserID, req.OrderID, ord.Amount.Total, ord.Amount.Currency, idempotencyKey)
		if err != nil {
			return nil, err
		}
		isNew = true
	}

	// Step 6: Create the provider-side session
	successURL, cancelURL := checkoutURLs(req)
	customerEmail := ""
	if req.UserEmail != nil {
		customerEmail = *req.UserEmail
	}
	var session *provider.Session
	err = withRetry(ctx, 2, func() error {
		var sessionErr error
		session, sessionErr = adapter.CreateSession(ctx, provider.CreateSessionRequest{
			UserID:         req.UserID,
			OrderID:        req.OrderID,
			Amount:         chargeAmount,
			Currency:       chargeCurrency,
			IdempotencyKey: idempotencyKey,
			Items:          items,
			SuccessURL:     successURL,
			CancelURL:      cancelURL,
			Description:    fmt.Sprintf("Order %s", req.OrderID),
			CustomerEmail:  customerEmail,
		})
		return sessionErr
	})
	if err != nil {
		return nil, fmt.Errorf("provider session creation failed: %w", err)
	}

	// Step 7: The provider echoes the charged amount; hold it to the same
	// tolerance as the line items
	if diff := session.Amount - chargeAmount; diff > model.AmountToleranceMinor || diff < -model.AmountToleranceMinor {
		return nil, model.NewAmountMismatchError(session.Amount, chargeAmount)
	}

	// Step 8: Record the session attempt on the aggregate
	now := time.Now().UTC()
	providerOrderID := session.ProviderOrderID
	payment.AppendSession(model.ProviderSession{
		ID:              uuid.New(),
		Provider:        req.Provider,
		ProviderOrderID: &providerOrderID,
		Amount:          session.Amount,
		Currency:        session.Currency,
		FxRate:          fxRate,
		FxTimestamp:     &fxTimestamp,
		Status:          model.SessionStatusCreated,
		Metadata:        session.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	payment.ProviderOrderID = &providerOrderID

	// Step 9: Persist payment and session atomically
	if isNew {
		err = s.repo.CreateWithSessions(ctx, payment)
	} else {
		err = s.repo.UpdateWithSessions(ctx, payment)
	}
	if err != nil {
		return nil, err
	}

	// Step 10: Arm the timeout key; its TTL expiry drives HandlePaymentTimeout
	err = s.cacheRepo.ScheduleTimeout(ctx, model.TimeoutRecord{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		ExpiresAt: payment.ExpiresAt,
	}, time.Until(payment.ExpiresAt))
	if err != nil {
		// The sweeper will still expire the payment
		logger.Error("failed to schedule payment timeout", err)
	}

	// Step 11: Announce the new payment, keyed by user
	s.publishLifecycleEvent(ctx, model.TopicOrderPaymentInitiated, payment)

	return &model.CreatePaymentResponse{
		PaymentID:       payment.ID,
		OrderID:         payment.OrderID,
		Provider:        req.Provider,
		Status:          payment.Status,
		Amount:          session.Amount,
		Currency:        session.Currency,
		ProviderOrderID: session.ProviderOrderID,
		ApprovalURL:     session.ApprovalURL,
		ClientSecret:    session.ClientSecret,
		CheckoutURL:     session.CheckoutURL,
		KeyID:           session.KeyID,
		ExpiresAt:       payment.ExpiresAt,
	}, nil
}

func checkoutURLs(req *model.CreatePaymentRequest) (string, string) {
	successURL := ""
	cancelURL := ""
	if req.SuccessURL != nil {
		successURL = *req.SuccessURL
	}
	if req.CancelURL != nil {
		cancelURL = *req.CancelURL
	}
	return successURL, cancelURL
}

// =====================================================
// RESOLVE PAYMENT
// =====================================================

// ResolvePayment confirms capture with the provider. No bus event is
// published here: the webhook pipeline owns the authoritative success.
func (s *paymentService) ResolvePayment(ctx context.Context, req *model.ResolvePaymentRequest) (*model.ResolvePaymentResponse, error) {
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	// Step 1: Load the payment owning this provider order
	payment, err := s.repo.GetByProviderOrderID(ctx, req.ProviderOrderID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return nil, model.NewPaymentNotFoundError(req.ProviderOrderID)
		}
		return nil, err
	}

	// Step 2: Ask the provider to resolve
	var result *provider.ResolveResult
	err = withRetry(ctx, 3, func() error {
		var resolveErr error
		result, resolveErr = adapter.Resolve(ctx, provider.ResolveRequest{
			ProviderOrderID:   req.ProviderOrderID,
			ProviderPaymentID: req.ProviderPaymentID,
			Signature:         req.Signature,
		})
		return resolveErr
	})
	if err != nil {
		return nil, fmt.Errorf("provider resolve failed: %w", err)
	}

	response := &model.ResolvePaymentResponse{
		PaymentID:      payment.ID,
		OrderID:        payment.OrderID,
		Provider:       req.Provider,
		ProviderStatus: result.ProviderStatus,
		IsVerified:     result.IsVerified,
	}
	if !result.IsVerified {
		return response, nil
	}

	// Step 3: Mark the session captured and the payment RESOLVED. Repeated
	// resolves and webhook races surface as ErrAlreadyInStatus, a no-op.
	if session := payment.SessionByProviderOrderID(req.ProviderOrderID); session != nil {
		if err := session.MarkCaptured(result.ProviderPaymentID); err != nil && !errors.Is(err, model.ErrAlreadyInStatus) {
			return nil, err
		}
	}
	if !payment.IsTerminal() {
		if err := payment.TransitionTo(model.PaymentStatusResolved); err != nil && !errors.Is(err, model.ErrAlreadyInStatus) {
			return nil, err
		}
	}

	if err := s.repo.UpdateWithSessions(ctx, payment); err != nil {
		return nil, err
	}
	return response, nil
}

// =====================================================
// CANCEL PAYMENT
// =====================================================

// CancelPayment cancels a PENDING payment
func (s *paymentService) CancelPayment(ctx context.Context, req *model.CancelPaymentRequest) error {
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return err
	}

	// Step 1: Only PENDING payments can be cancelled
	payment, err := s.repo.GetByProviderOrderID(ctx, req.ProviderOrderID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return model.NewPaymentNotFoundError(req.ProviderOrderID)
		}
		return err
	}
	if payment.Status != model.PaymentStatusPending {
		return model.NewInvalidTransitionError(payment.Status, model.PaymentStatusCancelled)
	}

	// Step 2: Cancel provider-side first so the hosted page stops charging.
	// Best effort: a failed remote call never blocks local cancellation; only
	// a definitive refusal does, because the order is already being captured.
	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}
	result, err := adapter.Cancel(ctx, req.ProviderOrderID, reason)
	switch {
	case err != nil:
		logger.Error("provider cancel call failed, cancelling locally", err)
	case !result.Success:
		return model.NewProviderCancelFailedError(req.Provider, req.ProviderOrderID)
	}

	// Step 3: Fail the session, cancel the payment, persist
	if session := payment.SessionByProviderOrderID(req.ProviderOrderID); session != nil {
		session.MarkFailed()
	}
	if err := payment.TransitionTo(model.PaymentStatusCancelled); err != nil {
		return err
	}
	if err := s.repo.UpdateWithSessions(ctx, payment); err != nil {
		return err
	}

	// Step 4: Disarm the timeout and announce the failure
	if err := s.cacheRepo.CancelTimeout(ctx, payment.ID); err != nil {
		logger.Error("failed to cancel payment timeout", err)
	}
	s.publishLifecycleEvent(ctx, model.TopicOrderPaymentFailed, payment)
	return nil
}

// =====================================================
// REFUND PAYMENT
// =====================================================

// RefundPayment records and executes a refund against the captured session.
// At most one refund per session; authorization policy is the caller's.
func (s *paymentService) RefundPayment(ctx context.Context, req *model.RefundPaymentRequest, idempotencyKey string) (*model.RefundPaymentResponse, error) {
	payment, err := s.repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return nil, model.NewPaymentNotFoundError(req.PaymentID.String())
		}
		return nil, err
	}

	session := payment.CapturedSession()
	if session == nil || !session.IsRefundable() {
		return nil, model.NewPaymentError(model.ErrCodeFailedPrecondition,
			"payment has no captured session to refund", model.ErrSessionNotRefundable)
	}
	if _, err := s.refundRepo.GetBySessionID(ctx, session.ID); err == nil {
		return nil, model.NewPaymentError(model.ErrCodeAlreadyExists,
			"session already refunded", model.ErrRefundAlreadyExists)
	} else if !errors.Is(err, model.ErrRefundNotFound) {
		return nil, err
	}

	adapter, err := s.registry.Get(session.Provider)
	if err != nil {
		return nil, err
	}

	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}

	now := time.Now().UTC()
	refund := &model.ProviderRefund{
		ID:                uuid.New(),
		PaymentID:         payment.ID,
		ProviderSessionID: session.ID,
		RequestedAmount:   session.Amount,
		RequestedCurrency: session.Currency,
		IdempotencyKey:    idempotencyKey,
		Status:            model.RefundStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.refundRepo.Create(ctx, refund); err != nil {
		return nil, err
	}

	providerPaymentID := ""
	if session.ProviderPaymentID != nil {
		providerPaymentID = *session.ProviderPaymentID
	}
	providerOrderID := ""
	if session.ProviderOrderID != nil {
		providerOrderID = *session.ProviderOrderID
	}
	result, err := adapter.Refund(ctx, provider.RefundRequest{
		ProviderOrderID:   providerOrderID,
		ProviderPaymentID: providerPaymentID,
		Amount:            session.Amount,
		Currency:          session.Currency,
		Reason:            reason,
	})

	refund.UpdatedAt = time.Now().UTC()
	if err != nil {
		refund.Status = model.RefundStatusFailed
		if updateErr := s.refundRepo.Update(ctx, refund); updateErr != nil {
			logger.Error("failed to record refund failure", updateErr)
		}
		return nil, fmt.Errorf("provider refund failed: %w", err)
	}

	refund.Status = model.RefundStatusSuccess
	refund.ProviderRefundID = &result.ProviderRefundID
	refund.ProviderFee = result.Fee
	refund.Metadata = result.Raw
	if err := s.refundRepo.Update(ctx, refund); err != nil {
		return nil, err
	}

	return &model.RefundPaymentResponse{
		RefundID:         refund.ID,
		PaymentID:        payment.ID,
		ProviderRefundID: refund.ProviderRefundID,
		Amount:           refund.RequestedAmount,
		Currency:         refund.RequestedCurrency,
		Status:           refund.Status,
	}, nil
}

// =====================================================
// STATUS
// =====================================================

// GetPaymentStatus returns the aggregate for caller polling
func (s *paymentService) GetPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*model.PaymentStatusResponse, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return nil, model.NewPaymentNotFoundError(paymentID.String())
		}
		return nil, err
	}
	return model.NewPaymentStatusResponse(payment), nil
}

// =====================================================
// WEBHOOK-DRIVEN FINALIZATION
// =====================================================

// SuccessPayment finalizes a payment from a provider success event
func (s *paymentService) SuccessPayment(ctx context.Context, _ model.Provider, providerOrderID string) error {
	payment, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return model.NewOrderNotFoundError(providerOrderID)
		}
		return err
	}

	// Redelivered success for a finished payment is a no-op
	if payment.Status == model.PaymentStatusSuccess {
		return nil
	}
	if payment.Status != model.PaymentStatusPending && payment.Status != model.PaymentStatusResolved {
		return model.NewInvalidTransitionError(payment.Status, model.PaymentStatusSuccess)
	}

	if err := payment.TransitionTo(model.PaymentStatusSuccess); err != nil {
		return err
	}
	if session := payment.SessionByProviderOrderID(providerOrderID); session != nil {
		if err := session.MarkCaptured(""); err != nil && !errors.Is(err, model.ErrAlreadyInStatus) {
			logger.Error("failed to mark session captured", err)
		}
	}
	if err := s.repo.UpdateWithSessions(ctx, payment); err != nil {
		return err
	}

	if err := s.cacheRepo.CancelTimeout(ctx, payment.ID); err != nil {
		logger.Error("failed to cancel payment timeout", err)
	}
	s.publishLifecycleEvent(ctx, model.TopicOrderPaymentSucceeded, payment)
	return nil
}

// FailurePayment finalizes a payment from a provider failure event
func (s *paymentService) FailurePayment(ctx context.Context, _ model.Provider, providerOrderID string) error {
	payment, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return model.NewOrderNotFoundError(providerOrderID)
		}
		return err
	}

	if payment.Status == model.PaymentStatusFailed {
		return nil
	}
	if payment.Status != model.PaymentStatusPending {
		return model.NewInvalidTransitionError(payment.Status, model.PaymentStatusFailed)
	}

	if err := payment.TransitionTo(model.PaymentStatusFailed); err != nil {
		return err
	}
	if session := payment.SessionByProviderOrderID(providerOrderID); session != nil {
		session.MarkFailed()
	}
	if err := s.repo.UpdateWithSessions(ctx, payment); err != nil {
		return err
	}

	if err := s.cacheRepo.CancelTimeout(ctx, payment.ID); err != nil {
		logger.Error("failed to cancel payment timeout", err)
	}
	s.publishLifecycleEvent(ctx, model.TopicOrderPaymentFailed, payment)
	return nil
}

// =====================================================
// TIMEOUT
// =====================================================

// HandlePaymentTimeout expires a payment whose deadline passed. Both the
// keyspace listener and the sweeper funnel into this, so it must no-op on
// anything that already left PENDING.
func (s *paymentService) HandlePaymentTimeout(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return model.NewPaymentNotFoundError(paymentID.String())
		}
		return err
	}

	if payment.Status != model.PaymentStatusPending {
		return nil
	}

	if err := payment.TransitionTo(model.PaymentStatusExpired); err != nil {
		return err
	}
	if err := s.repo.UpdateWithSessions(ctx, payment); err != nil {
		return err
	}

	logger.Info("payment expired", map[string]interface{}{
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
	})
	s.publishLifecycleEvent(ctx, model.TopicOrderPaymentTimeout, payment)
	return nil
}

// ExpireOverduePayments sweeps overdue PENDING payments in one bounded batch.
// A failure on one payment is logged and does not abort the rest.
func (s *paymentService) ExpireOverduePayments(ctx context.Context) (int, error) {
	overdue, err := s.repo.GetExpiredPayments(ctx, time.Now().UTC(), model.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, payment := range overdue {
		if err := s.HandlePaymentTimeout(ctx, payment.ID); err != nil {
			logger.Error(fmt.Sprintf("sweep failed to expire payment %s", payment.ID), err)
			continue
		}
		expired++
	}
	return expired, nil
}

// =====================================================
// EVENT PUBLISHING
// =====================================================

// publishLifecycleEvent emits one of the payment.order.* topics keyed by
// user. Publish failures are logged, not surfaced: the state change already
// committed and must not be rolled back by a bus hiccup.
func (s *paymentService) publishLifecycleEvent(ctx context.Context, topic string, payment *model.Payment) {
	event := model.NewOrderPaymentEvent(payment)
	if err := s.publisher.Publish(ctx, topic, payment.UserID.String(), event); err != nil {
		logger.Error(fmt.Sprintf("failed to publish %s", topic), err)
	}
}
