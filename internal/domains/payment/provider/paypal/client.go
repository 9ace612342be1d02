package paypal

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/plutov/paypal/v4"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
)

// =====================================================
// PAYPAL ADAPTER
// =====================================================

type Config struct {
	ClientID  string
	Secret    string
	APIBase   string // paypal.APIBaseSandBox or paypal.APIBaseLive
	WebhookID string // configured webhook resource ID, part of the signed message
}

type Adapter struct {
	config    *Config
	client    *paypal.Client
	http      *resty.Client
	certCache *cache.Cache // cert URL -> parsed leaf certificate
}

// New creates the PayPal adapter. Token acquisition and refresh is handled
// inside the SDK client.
func New(config *Config) (*Adapter, error) {
	c, err := paypal.NewClient(config.ClientID, config.Secret, config.APIBase)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		config:    config,
		client:    c,
		http:      resty.New().SetTimeout(10 * time.Second),
		certCache: cache.New(model.PayPalCertTTL, model.PayPalCertTTL),
	}, nil
}

func (a *Adapter) Name() model.Provider { return model.ProviderPayPal }

// =====================================================
// CREATE SESSION
// =====================================================

// CreateSession creates a CAPTURE-intent order and returns the approval link
// the buyer is redirected to.
func (a *Adapter) CreateSession(ctx context.Context, req provider.CreateSessionRequest) (*provider.Session, error) {
	items := make([]paypal.Item, 0, len(req.Items))
	var itemTotal int64
	for _, item := range req.Items {
		items = append(items, paypal.Item{
			Name: item.Name,
			UnitAmount: &paypal.Money{
				Currency: item.Currency,
				Value:    model.MinorToMajorString(item.UnitAmount),
			},
			Quantity: strconv.FormatInt(item.Quantity, 10),
		})
		itemTotal += item.UnitAmount * item.Quantity
	}

	unit := paypal.PurchaseUnitRequest{
		ReferenceID: req.OrderID.String(),
		Description: req.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    model.MinorToMajorString(req.Amount),
		},
	}
	if len(items) > 0 && itemTotal == req.Amount {
		unit.Items = items
		unit.Amount.Breakdown = &paypal.PurchaseUnitAmountBreakdown{
			ItemTotal: &paypal.Money{
				Currency: req.Currency,
				Value:    model.MinorToMajorString(itemTotal),
			},
		}
	}

	order, err := a.client.CreateOrderWithPaypalRequestID(ctx,
		paypal.OrderIntentCapture,
		[]paypal.PurchaseUnitRequest{unit},
		nil,
		&paypal.ApplicationContext{
			ReturnURL:          req.SuccessURL,
			CancelURL:          req.CancelURL,
			UserAction:         paypal.UserActionPayNow,
			BrandName:          "payment-service",
			ShippingPreference: paypal.ShippingPreferenceNoShipping,
		},
		req.IdempotencyKey,
	)
	if err != nil {
		return nil, err
	}

	result := &provider.Session{
		Provider:        model.ProviderPayPal,
		ProviderOrderID: order.ID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Metadata: map[string]interface{}{
			"order_status": order.Status,
		},
	}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			href := link.Href
			result.ApprovalURL = &href
			break
		}
	}
	return result, nil
}

// =====================================================
// RESOLVE
// =====================================================

// Resolve captures the approved order. Capture is idempotent on PayPal's
// side for an already-captured order ID.
func (a *Adapter) Resolve(ctx context.Context, req provider.ResolveRequest) (*provider.ResolveResult, error) {
	resp, err := a.client.CaptureOrder(ctx, req.ProviderOrderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, err
	}

	result := &provider.ResolveResult{
		ProviderStatus: resp.Status,
		IsVerified:     resp.Status == "COMPLETED",
	}
	for _, unit := range resp.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			result.ProviderPaymentID = unit.Payments.Captures[0].ID
			break
		}
	}
	return result, nil
}

// =====================================================
// CANCEL
// =====================================================

// Cancel marks the order abandoned. The Orders API has no void call for an
// unapproved order: it simply expires, so local cancellation is enough once
// we confirm the order is not already captured.
func (a *Adapter) Cancel(ctx context.Context, providerOrderID, reason string) (*provider.CancelResult, error) {
	order, err := a.client.GetOrder(ctx, providerOrderID)
	if err != nil {
		return &provider.CancelResult{Success: false}, err
	}
	if order.Status == "COMPLETED" {
		return &provider.CancelResult{Success: false}, nil
	}
	return &provider.CancelResult{Success: true}, nil
}

// =====================================================
// REFUND
// =====================================================

func (a *Adapter) Refund(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	resp, err := a.client.RefundCapture(ctx, req.ProviderPaymentID, paypal.RefundCaptureRequest{
		Amount: &paypal.Money{
			Currency: req.Currency,
			Value:    model.MinorToMajorString(req.Amount),
		},
		NoteToPayer: req.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &provider.RefundResult{
		ProviderRefundID: resp.ID,
		Status:           resp.Status,
	}, nil
}

// =====================================================
// CURRENCIES / AVAILABILITY
// =====================================================

func (a *Adapter) SupportedCurrencies() []string {
	return model.SupportedCurrencies[model.ProviderPayPal]
}

func (a *Adapter) IsCurrencySupported(code string) bool {
	return provider.CurrencySupported(model.ProviderPayPal, code)
}

// IsAvailable requests a fresh token, which exercises auth and reachability.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.client.GetAccessToken(ctx)
	return err == nil
}
