package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// ORDER SERVICE CLIENT
// =====================================================

// Amount is the order total breakdown, minor units.
type Amount struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
	SalesTax *int64 `json:"salesTax,omitempty"`
	Discount *int64 `json:"discount,omitempty"`
}

// Item is one purchased position on the order.
type Item struct {
	CourseID uuid.UUID `json:"courseId"`
	Price    int64     `json:"price"`
	Currency string    `json:"currency"`
}

// Order is the order service's view of a purchase.
type Order struct {
	ID     uuid.UUID `json:"id"`
	Amount Amount    `json:"amount"`
	Status string    `json:"status"`
	Items  []Item    `json:"items"`
}

// Client looks orders up in the order service.
type Client interface {
	// GetOrderByID fetches an order scoped to its owner
	GetOrderByID(ctx context.Context, orderID, userID uuid.UUID) (*Order, error)
}

// lookupDeadline is the hard ceiling on one lookup, retries included.
const lookupDeadline = 10 * time.Second

type client struct {
	http *resty.Client
}

func NewClient(baseURL string) Client {
	return &client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(lookupDeadline).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(4 * time.Second),
	}
}

func (c *client) GetOrderByID(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupDeadline)
	defer cancel()

	var order Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", userID.String()).
		SetResult(&order).
		Get("/internal/orders/" + orderID.String())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, model.NewDeadlineExceededError("order lookup", err)
		}
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, model.NewOrderNotFoundError(orderID.String())
	case resp.IsError():
		return nil, fmt.Errorf("order service returned status %d", resp.StatusCode())
	}
	return &order, nil
}
