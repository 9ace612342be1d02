package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-service/internal/clients/course"
	"payment-service/internal/clients/order"
	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
)

// =====================================================
// FAKES
// =====================================================

type fakePaymentRepo struct {
	payments map[uuid.UUID]*model.Payment
	creates  int
	updates  int
	failWith error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]*model.Payment)}
}

func (r *fakePaymentRepo) CreateWithSessions(_ context.Context, p *model.Payment) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.creates++
	r.payments[p.ID] = p
	return nil
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	if p, ok := r.payments[id]; ok {
		return p, nil
	}
	return nil, model.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetByIdempotencyKey(_ context.Context, key string) (*model.Payment, error) {
	for _, p := range r.payments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	return nil, model.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetByProviderOrderID(_ context.Context, providerOrderID string) (*model.Payment, error) {
	for _, p := range r.payments {
		if p.SessionByProviderOrderID(providerOrderID) != nil {
			return p, nil
		}
		if p.ProviderOrderID != nil && *p.ProviderOrderID == providerOrderID {
			return p, nil
		}
	}
	return nil, model.ErrPaymentNotFound
}

func (r *fakePaymentRepo) UpdateWithSessions(_ context.Context, p *model.Payment) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.updates++
	r.payments[p.ID] = p
	return nil
}

func (r *fakePaymentRepo) GetExpiredPayments(_ context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	var out []*model.Payment
	for _, p := range r.payments {
		if p.Status == model.PaymentStatusPending && !p.ExpiresAt.After(now) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeRefundRepo struct {
	bySession map[uuid.UUID]*model.ProviderRefund
	creates   int
	updates   int
}

func newFakeRefundRepo() *fakeRefundRepo {
	return &fakeRefundRepo{bySession: make(map[uuid.UUID]*model.ProviderRefund)}
}

func (r *fakeRefundRepo) Create(_ context.Context, refund *model.ProviderRefund) error {
	r.creates++
	r.bySession[refund.ProviderSessionID] = refund
	return nil
}

func (r *fakeRefundRepo) GetBySessionID(_ context.Context, sessionID uuid.UUID) (*model.ProviderRefund, error) {
	if ref, ok := r.bySession[sessionID]; ok {
		return ref, nil
	}
	return nil, model.ErrRefundNotFound
}

func (r *fakeRefundRepo) GetByIdempotencyKey(_ context.Context, key string) (*model.ProviderRefund, error) {
	for _, ref := range r.bySession {
		if ref.IdempotencyKey == key {
			return ref, nil
		}
	}
	return nil, model.ErrRefundNotFound
}

func (r *fakeRefundRepo) Update(_ context.Context, refund *model.ProviderRefund) error {
	r.updates++
	r.bySession[refund.ProviderSessionID] = refund
	return nil
}

type fakeCacheRepo struct {
	scheduled []uuid.UUID
	cancelled []uuid.UUID
	processed map[string]bool
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{processed: make(map[string]bool)}
}

func (c *fakeCacheRepo) ScheduleTimeout(_ context.Context, record model.TimeoutRecord, _ time.Duration) error {
	c.scheduled = append(c.scheduled, record.PaymentID)
	return nil
}

func (c *fakeCacheRepo) CancelTimeout(_ context.Context, paymentID uuid.UUID) error {
	c.cancelled = append(c.cancelled, paymentID)
	return nil
}

func (c *fakeCacheRepo) IsEventProcessed(_ context.Context, key string) (bool, error) {
	return c.processed[key], nil
}

func (c *fakeCacheRepo) MarkEventProcessed(_ context.Context, key string) error {
	c.processed[key] = true
	return nil
}

type publishedEvent struct {
	topic        string
	partitionKey string
	payload      interface{}
}

type fakePublisher struct {
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, topic, partitionKey string, payload interface{}) error {
	p.events = append(p.events, publishedEvent{topic: topic, partitionKey: partitionKey, payload: payload})
	return nil
}

func (p *fakePublisher) topics() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

type fakeAdapter struct {
	name       model.Provider
	currencies []string

	session    *provider.Session
	sessionErr error
	sessionReq provider.CreateSessionRequest

	resolveResult *provider.ResolveResult
	resolveErr    error

	cancelResult *provider.CancelResult
	cancelErr    error

	refundResult *provider.RefundResult
	refundErr    error
}

func (a *fakeAdapter) Name() model.Provider { return a.name }

func (a *fakeAdapter) CreateSession(_ context.Context, req provider.CreateSessionRequest) (*provider.Session, error) {
	a.sessionReq = req
	return a.session, a.sessionErr
}

func (a *fakeAdapter) Resolve(context.Context, provider.ResolveRequest) (*provider.ResolveResult, error) {
	return a.resolveResult, a.resolveErr
}

func (a *fakeAdapter) Cancel(context.Context, string, string) (*provider.CancelResult, error) {
	return a.cancelResult, a.cancelErr
}

func (a *fakeAdapter) Refund(context.Context, provider.RefundRequest) (*provider.RefundResult, error) {
	return a.refundResult, a.refundErr
}

func (a *fakeAdapter) SupportedCurrencies() []string { return a.currencies }

func (a *fakeAdapter) IsCurrencySupported(code string) bool {
	for _, c := range a.currencies {
		if c == code {
			return true
		}
	}
	return false
}

func (a *fakeAdapter) IsAvailable(context.Context) bool { return true }

func (a *fakeAdapter) VerifyWebhook(context.Context, []byte, http.Header) bool { return true }

func (a *fakeAdapter) ParseWebhookEvent([]byte) (*provider.WebhookEvent, error) { return nil, nil }

type fakeOrderClient struct {
	order *order.Order
	err   error
}

func (c *fakeOrderClient) GetOrderByID(context.Context, uuid.UUID, uuid.UUID) (*order.Order, error) {
	return c.order, c.err
}

type fakeCourseClient struct {
	catalog map[uuid.UUID]course.Course
}

func (c *fakeCourseClient) GetCoursesByIDs(context.Context, []uuid.UUID) (map[uuid.UUID]course.Course, error) {
	return c.catalog, nil
}

type fakeRates struct {
	rate decimal.Decimal
	err  error
}

func (r *fakeRates) GetRate(context.Context, string, string) (decimal.Decimal, time.Time, error) {
	return r.rate, time.Now().UTC(), r.err
}

// =====================================================
// FIXTURE
// =====================================================

type fixture struct {
	service   PaymentService
	repo      *fakePaymentRepo
	refunds   *fakeRefundRepo
	cache     *fakeCacheRepo
	publisher *fakePublisher
	adapter   *fakeAdapter
	orders    *fakeOrderClient
}

func newFixture(adapter *fakeAdapter, ord *order.Order) *fixture {
	f := &fixture{
		repo:      newFakePaymentRepo(),
		refunds:   newFakeRefundRepo(),
		cache:     newFakeCacheRepo(),
		publisher: &fakePublisher{},
		adapter:   adapter,
		orders:    &fakeOrderClient{order: ord},
	}
	f.service = NewPaymentService(
		f.repo,
		f.refunds,
		f.cache,
		provider.NewRegistry(adapter),
		f.orders,
		&fakeCourseClient{catalog: map[uuid.UUID]course.Course{}},
		&fakeRates{rate: decimal.NewFromFloat(1.08)},
		f.publisher,
	)
	return f
}

func testOrder(courseID uuid.UUID, total int64, currency string) *order.Order {
	return &order.Order{
		ID:     uuid.New(),
		Amount: order.Amount{Total: total, Currency: currency},
		Status: "pending_payment",
		Items:  []order.Item{{CourseID: courseID, Price: total, Currency: currency}},
	}
}

func stripeAdapter(session *provider.Session) *fakeAdapter {
	return &fakeAdapter{
		name:       model.ProviderStripe,
		currencies: []string{"USD", "EUR"},
		session:    session,
	}
}

func seedPendingPayment(t *testing.T, f *fixture, providerOrderID string) *model.Payment {
	t.Helper()
	p, err := model.NewPayment(uuid.New(), uuid.New(), 5000, "USD", "seed-key")
	require.NoError(t, err)
	p.AppendSession(model.ProviderSession{
		ID:              uuid.New(),
		Provider:        f.adapter.name,
		ProviderOrderID: &providerOrderID,
		Amount:          5000,
		Currency:        "USD",
		Status:          model.SessionStatusCreated,
	})
	p.ProviderOrderID = &providerOrderID
	require.NoError(t, f.repo.CreateWithSessions(context.Background(), p))
	f.repo.creates = 0
	return p
}

// =====================================================
// CREATE PAYMENT
// =====================================================

func TestCreatePayment(t *testing.T) {
	ctx := context.Background()
	courseID := uuid.New()

	t.Run("happy path without conversion", func(t *testing.T) {
		f := newFixture(stripeAdapter(&provider.Session{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_test_1",
			Amount:          5000,
			Currency:        "USD",
		}), testOrder(courseID, 5000, "USD"))

		resp, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:   uuid.New(),
			OrderID:  uuid.New(),
			Provider: model.ProviderStripe,
		}, "key-1")

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, resp.Status)
		assert.Equal(t, int64(5000), resp.Amount)
		assert.Equal(t, "USD", resp.Currency)
		assert.Equal(t, "cs_test_1", resp.ProviderOrderID)

		assert.Equal(t, 1, f.repo.creates)
		assert.Len(t, f.cache.scheduled, 1)
		assert.Equal(t, []string{model.TopicOrderPaymentInitiated}, f.publisher.topics())

		stored := f.repo.payments[resp.PaymentID]
		require.NotNil(t, stored)
		require.Len(t, stored.Sessions, 1)
		assert.Equal(t, model.SessionStatusCreated, stored.Sessions[0].Status)
		// The aggregate keeps the original order amount
		assert.Equal(t, int64(5000), stored.Amount)
	})

	t.Run("converts unsupported currency before charging", func(t *testing.T) {
		adapter := &fakeAdapter{
			name:       model.ProviderStripe,
			currencies: []string{"USD"},
			session: &provider.Session{
				Provider:        model.ProviderStripe,
				ProviderOrderID: "cs_test_2",
				Amount:          10800,
				Currency:        "USD",
			},
		}
		f := newFixture(adapter, testOrder(courseID, 10000, "EUR"))

		resp, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:   uuid.New(),
			OrderID:  uuid.New(),
			Provider: model.ProviderStripe,
		}, "key-2")

		require.NoError(t, err)
		assert.Equal(t, int64(10800), resp.Amount)
		assert.Equal(t, "USD", resp.Currency)

		stored := f.repo.payments[resp.PaymentID]
		require.NotNil(t, stored)
		// Original amount and currency survive on the aggregate,
		// converted values live on the session
		assert.Equal(t, int64(10000), stored.Amount)
		assert.Equal(t, "EUR", stored.Currency)
		require.Len(t, stored.Sessions, 1)
		assert.Equal(t, int64(10800), stored.Sessions[0].Amount)
		assert.Equal(t, "USD", stored.Sessions[0].Currency)
		assert.True(t, stored.Sessions[0].FxRate.Equal(decimal.NewFromFloat(1.08)))
	})

	t.Run("forwards the buyer email to the provider", func(t *testing.T) {
		f := newFixture(stripeAdapter(&provider.Session{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_email",
			Amount:          5000,
			Currency:        "USD",
		}), testOrder(courseID, 5000, "USD"))

		email := "buyer@example.com"
		_, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:    uuid.New(),
			OrderID:   uuid.New(),
			Provider:  model.ProviderStripe,
			UserEmail: &email,
		}, "key-email")

		require.NoError(t, err)
		assert.Equal(t, email, f.adapter.sessionReq.CustomerEmail)
	})

	t.Run("rejects non-payable order", func(t *testing.T) {
		ord := testOrder(courseID, 5000, "USD")
		ord.Status = "cancelled"
		f := newFixture(stripeAdapter(nil), ord)

		_, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:   uuid.New(),
			OrderID:  uuid.New(),
			Provider: model.ProviderStripe,
		}, "key-3")

		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrInvalidOrderState)
		assert.Zero(t, f.repo.creates)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("reuses payment created under the same key", func(t *testing.T) {
		f := newFixture(stripeAdapter(&provider.Session{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_retry",
			Amount:          5000,
			Currency:        "USD",
		}), testOrder(courseID, 5000, "USD"))

		existing, err := model.NewPayment(uuid.New(), uuid.New(), 5000, "USD", "key-4")
		require.NoError(t, err)
		require.NoError(t, f.repo.CreateWithSessions(ctx, existing))
		f.repo.creates = 0

		resp, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:   existing.UserID,
			OrderID:  existing.OrderID,
			Provider: model.ProviderStripe,
		}, "key-4")

		require.NoError(t, err)
		assert.Equal(t, existing.ID, resp.PaymentID)
		assert.Zero(t, f.repo.creates)
		assert.Equal(t, 1, f.repo.updates)
	})

	t.Run("rejects provider amount drift beyond tolerance", func(t *testing.T) {
		f := newFixture(stripeAdapter(&provider.Session{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_drift",
			Amount:          5010,
			Currency:        "USD",
		}), testOrder(courseID, 5000, "USD"))

		_, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:   uuid.New(),
			OrderID:  uuid.New(),
			Provider: model.ProviderStripe,
		}, "key-5")

		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrAmountMismatch)
		assert.Zero(t, f.repo.creates)
	})

	t.Run("unknown provider is rejected up front", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), testOrder(courseID, 5000, "USD"))

		_, err := f.service.CreatePayment(ctx, &model.CreatePaymentRequest{
			UserID:   uuid.New(),
			OrderID:  uuid.New(),
			Provider: model.ProviderRazorpay,
		}, "key-6")

		assert.ErrorIs(t, err, model.ErrUnsupportedProvider)
	})
}

// =====================================================
// RESOLVE PAYMENT
// =====================================================

func TestResolvePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("verified capture resolves the payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.resolveResult = &provider.ResolveResult{
			ProviderStatus:    "paid",
			IsVerified:        true,
			ProviderPaymentID: "pi_1",
		}
		p := seedPendingPayment(t, f, "cs_1")

		resp, err := f.service.ResolvePayment(ctx, &model.ResolvePaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_1",
		})

		require.NoError(t, err)
		assert.True(t, resp.IsVerified)
		assert.Equal(t, model.PaymentStatusResolved, p.Status)
		session := p.SessionByProviderOrderID("cs_1")
		require.NotNil(t, session)
		assert.Equal(t, model.SessionStatusCaptured, session.Status)
		require.NotNil(t, session.ProviderPaymentID)
		assert.Equal(t, "pi_1", *session.ProviderPaymentID)
		// Resolve never publishes; the webhook owns the authoritative success
		assert.Empty(t, f.publisher.events)
	})

	t.Run("unverified resolve leaves the payment pending", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.resolveResult = &provider.ResolveResult{ProviderStatus: "unpaid", IsVerified: false}
		p := seedPendingPayment(t, f, "cs_1")

		resp, err := f.service.ResolvePayment(ctx, &model.ResolvePaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_1",
		})

		require.NoError(t, err)
		assert.False(t, resp.IsVerified)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Zero(t, f.repo.updates)
	})

	t.Run("repeated resolve is a no-op", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.resolveResult = &provider.ResolveResult{ProviderStatus: "paid", IsVerified: true, ProviderPaymentID: "pi_1"}
		seedPendingPayment(t, f, "cs_1")

		_, err := f.service.ResolvePayment(ctx, &model.ResolvePaymentRequest{Provider: model.ProviderStripe, ProviderOrderID: "cs_1"})
		require.NoError(t, err)
		_, err = f.service.ResolvePayment(ctx, &model.ResolvePaymentRequest{Provider: model.ProviderStripe, ProviderOrderID: "cs_1"})
		require.NoError(t, err)
	})

	t.Run("unknown provider order", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.resolveResult = &provider.ResolveResult{IsVerified: true}

		_, err := f.service.ResolvePayment(ctx, &model.ResolvePaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_missing",
		})

		assert.ErrorIs(t, err, model.ErrPaymentNotFound)
	})
}

// =====================================================
// CANCEL PAYMENT
// =====================================================

func TestCancelPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a pending payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.cancelResult = &provider.CancelResult{Success: true}
		p := seedPendingPayment(t, f, "cs_1")

		err := f.service.CancelPayment(ctx, &model.CancelPaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_1",
		})

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, p.Status)
		assert.Equal(t, model.SessionStatusFailed, p.Sessions[0].Status)
		assert.Equal(t, []uuid.UUID{p.ID}, f.cache.cancelled)
		assert.Equal(t, []string{model.TopicOrderPaymentFailed}, f.publisher.topics())
	})

	t.Run("only pending payments are cancellable", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")
		require.NoError(t, p.TransitionTo(model.PaymentStatusSuccess))

		err := f.service.CancelPayment(ctx, &model.CancelPaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_1",
		})

		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("provider refusal surfaces and keeps the payment pending", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.cancelResult = &provider.CancelResult{Success: false}
		p := seedPendingPayment(t, f, "cs_1")

		err := f.service.CancelPayment(ctx, &model.CancelPaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_1",
		})

		assert.ErrorIs(t, err, model.ErrProviderCancelFailed)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
	})

	t.Run("provider outage does not block cancellation", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		f.adapter.cancelErr = errors.New("provider unreachable")
		p := seedPendingPayment(t, f, "cs_1")

		err := f.service.CancelPayment(ctx, &model.CancelPaymentRequest{
			Provider:        model.ProviderStripe,
			ProviderOrderID: "cs_1",
		})

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, p.Status)
		assert.Equal(t, model.SessionStatusFailed, p.Sessions[0].Status)
		assert.Equal(t, []uuid.UUID{p.ID}, f.cache.cancelled)
		assert.Equal(t, []string{model.TopicOrderPaymentFailed}, f.publisher.topics())
	})
}

// =====================================================
// WEBHOOK-DRIVEN FINALIZATION
// =====================================================

func TestSuccessPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("finalizes a pending payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")

		err := f.service.SuccessPayment(ctx, model.ProviderStripe, "cs_1")

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusSuccess, p.Status)
		assert.Equal(t, model.SessionStatusCaptured, p.Sessions[0].Status)
		assert.Equal(t, []uuid.UUID{p.ID}, f.cache.cancelled)
		assert.Equal(t, []string{model.TopicOrderPaymentSucceeded}, f.publisher.topics())
	})

	t.Run("finalizes a resolved payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")
		require.NoError(t, p.TransitionTo(model.PaymentStatusResolved))

		require.NoError(t, f.service.SuccessPayment(ctx, model.ProviderStripe, "cs_1"))
		assert.Equal(t, model.PaymentStatusSuccess, p.Status)
	})

	t.Run("redelivered success is a no-op", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")

		require.NoError(t, f.service.SuccessPayment(ctx, model.ProviderStripe, "cs_1"))
		f.publisher.events = nil

		require.NoError(t, f.service.SuccessPayment(ctx, model.ProviderStripe, "cs_1"))
		assert.Equal(t, model.PaymentStatusSuccess, p.Status)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("success after cancellation is an invalid transition", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")
		require.NoError(t, p.TransitionTo(model.PaymentStatusCancelled))

		err := f.service.SuccessPayment(ctx, model.ProviderStripe, "cs_1")
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("unknown provider order", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		err := f.service.SuccessPayment(ctx, model.ProviderStripe, "cs_missing")
		assert.ErrorIs(t, err, model.ErrOrderNotFound)
	})
}

func TestFailurePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("fails a pending payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")

		err := f.service.FailurePayment(ctx, model.ProviderStripe, "cs_1")

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusFailed, p.Status)
		assert.Equal(t, model.SessionStatusFailed, p.Sessions[0].Status)
		assert.Equal(t, []string{model.TopicOrderPaymentFailed}, f.publisher.topics())
	})

	t.Run("redelivered failure is a no-op", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		seedPendingPayment(t, f, "cs_1")

		require.NoError(t, f.service.FailurePayment(ctx, model.ProviderStripe, "cs_1"))
		f.publisher.events = nil

		require.NoError(t, f.service.FailurePayment(ctx, model.ProviderStripe, "cs_1"))
		assert.Empty(t, f.publisher.events)
	})

	t.Run("failure after resolution is an invalid transition", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")
		require.NoError(t, p.TransitionTo(model.PaymentStatusResolved))

		err := f.service.FailurePayment(ctx, model.ProviderStripe, "cs_1")
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})
}

// =====================================================
// TIMEOUT
// =====================================================

func TestHandlePaymentTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("expires a pending payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")

		err := f.service.HandlePaymentTimeout(ctx, p.ID)

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusExpired, p.Status)
		assert.Equal(t, []string{model.TopicOrderPaymentTimeout}, f.publisher.topics())
	})

	t.Run("no-op once the payment left pending", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")
		require.NoError(t, p.TransitionTo(model.PaymentStatusSuccess))

		err := f.service.HandlePaymentTimeout(ctx, p.ID)

		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusSuccess, p.Status)
		assert.Empty(t, f.publisher.events)
	})
}

func TestExpireOverduePayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(stripeAdapter(nil), nil)

	overdue := seedPendingPayment(t, f, "cs_overdue")
	overdue.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	fresh, err := model.NewPayment(uuid.New(), uuid.New(), 1000, "USD", "fresh-key")
	require.NoError(t, err)
	require.NoError(t, f.repo.CreateWithSessions(ctx, fresh))

	expired, err := f.service.ExpireOverduePayments(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, model.PaymentStatusExpired, overdue.Status)
	assert.Equal(t, model.PaymentStatusPending, fresh.Status)
}

// =====================================================
// REFUND
// =====================================================

func TestRefundPayment(t *testing.T) {
	ctx := context.Background()

	capturedFixture := func(t *testing.T) (*fixture, *model.Payment) {
		t.Helper()
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")
		require.NoError(t, p.Sessions[0].MarkCaptured("pi_1"))
		require.NoError(t, p.TransitionTo(model.PaymentStatusSuccess))
		return f, p
	}

	t.Run("refunds the captured session", func(t *testing.T) {
		f, p := capturedFixture(t)
		f.adapter.refundResult = &provider.RefundResult{ProviderRefundID: "re_1", Status: "succeeded"}

		resp, err := f.service.RefundPayment(ctx, &model.RefundPaymentRequest{PaymentID: p.ID}, "refund-key")

		require.NoError(t, err)
		assert.Equal(t, model.RefundStatusSuccess, resp.Status)
		require.NotNil(t, resp.ProviderRefundID)
		assert.Equal(t, "re_1", *resp.ProviderRefundID)
		assert.Equal(t, int64(5000), resp.Amount)
		assert.Equal(t, 1, f.refunds.creates)
	})

	t.Run("no captured session to refund", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")

		_, err := f.service.RefundPayment(ctx, &model.RefundPaymentRequest{PaymentID: p.ID}, "refund-key")

		assert.ErrorIs(t, err, model.ErrSessionNotRefundable)
		assert.Zero(t, f.refunds.creates)
	})

	t.Run("at most one refund per session", func(t *testing.T) {
		f, p := capturedFixture(t)
		f.adapter.refundResult = &provider.RefundResult{ProviderRefundID: "re_1"}

		_, err := f.service.RefundPayment(ctx, &model.RefundPaymentRequest{PaymentID: p.ID}, "refund-key")
		require.NoError(t, err)

		_, err = f.service.RefundPayment(ctx, &model.RefundPaymentRequest{PaymentID: p.ID}, "refund-key-2")
		assert.ErrorIs(t, err, model.ErrRefundAlreadyExists)
	})

	t.Run("provider failure marks the refund failed", func(t *testing.T) {
		f, p := capturedFixture(t)
		f.adapter.refundErr = errors.New("insufficient balance")

		_, err := f.service.RefundPayment(ctx, &model.RefundPaymentRequest{PaymentID: p.ID}, "refund-key")

		require.Error(t, err)
		recorded := f.refunds.bySession[p.Sessions[0].ID]
		require.NotNil(t, recorded)
		assert.Equal(t, model.RefundStatusFailed, recorded.Status)
	})
}

// =====================================================
// STATUS
// =====================================================

func TestGetPaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the aggregate with sessions", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)
		p := seedPendingPayment(t, f, "cs_1")

		resp, err := f.service.GetPaymentStatus(ctx, p.ID)

		require.NoError(t, err)
		assert.Equal(t, p.ID, resp.PaymentID)
		assert.Equal(t, model.PaymentStatusPending, resp.Status)
		require.Len(t, resp.Sessions, 1)
		assert.Equal(t, "cs_1", *resp.Sessions[0].ProviderOrderID)
	})

	t.Run("unknown payment", func(t *testing.T) {
		f := newFixture(stripeAdapter(nil), nil)

		_, err := f.service.GetPaymentStatus(ctx, uuid.New())

		assert.ErrorIs(t, err, model.ErrPaymentNotFound)
	})
}
