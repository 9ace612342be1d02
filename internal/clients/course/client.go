package course

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"payment-service/internal/domains/payment/model"
)

// =====================================================
// COURSE SERVICE CLIENT
// =====================================================

// Course is the catalog metadata used for provider line items.
type Course struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Thumbnail   *string `json:"thumbnail,omitempty"`
}

// Client batch-resolves course metadata from the catalog service.
type Client interface {
	// GetCoursesByIDs resolves metadata for a set of course IDs
	GetCoursesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Course, error)
}

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

func (c *client) GetCoursesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Course, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupDeadline)
	defer cancel()

	var result map[uuid.UUID]Course
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string][]uuid.UUID{"ids": ids}).
		SetResult(&result).
		Post("/internal/courses/batch")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, model.NewDeadlineExceededError("course lookup", err)
		}
		return nil, fmt.Errorf("course lookup failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("course service returned status %d", resp.StatusCode())
	}
	return result, nil
}
