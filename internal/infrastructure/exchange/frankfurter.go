package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"payment-service/internal/domains/payment/model"
	"payment-service/pkg/logger"
)

// =====================================================
// EXCHANGE RATE CLIENT
// =====================================================

// RateProvider supplies the conversion rate between two ISO-4217 codes.
type RateProvider interface {
	// GetRate returns the base -> target rate and the time it was fetched
	GetRate(ctx context.Context, base, target string) (decimal.Decimal, time.Time, error)
}

const defaultBaseURL = "https://api.frankfurter.dev/v1"

type rateEntry struct {
	Rate      decimal.Decimal
	FetchedAt time.Time
}

// frankfurterClient reads rates from the Frankfurter API with a short fresh
// cache in front. Every successful fetch is also kept without expiry so an
// API outage degrades to a stale rate instead of a failed payment.
type frankfurterClient struct {
	http  *resty.Client
	fresh *cache.Cache
	stale *cache.Cache
}

func NewFrankfurterClient(baseURL string) RateProvider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &frankfurterClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		fresh: cache.New(model.FxRateTTL, 5*time.Minute),
		stale: cache.New(cache.NoExpiration, 0),
	}
}

func (c *frankfurterClient) GetRate(ctx context.Context, base, target string) (decimal.Decimal, time.Time, error) {
	if base == target {
		return decimal.NewFromInt(1), time.Now().UTC(), nil
	}

	key := base + "/" + target
	if cached, ok := c.fresh.Get(key); ok {
		entry := cached.(rateEntry)
		return entry.Rate, entry.FetchedAt, nil
	}

	entry, err := c.fetch(ctx, base, target)
	if err != nil {
		if cached, ok := c.stale.Get(key); ok {
			stale := cached.(rateEntry)
			logger.Info("exchange rate fetch failed, using stale rate", map[string]interface{}{
				"pair":       key,
				"fetched_at": stale.FetchedAt,
			})
			return stale.Rate, stale.FetchedAt, nil
		}
		return decimal.Zero, time.Time{}, model.NewCurrencyConversionError(base, target, err)
	}

	c.fresh.Set(key, entry, model.FxRateTTL)
	c.stale.Set(key, entry, cache.NoExpiration)
	return entry.Rate, entry.FetchedAt, nil
}

func (c *frankfurterClient) fetch(ctx context.Context, base, target string) (rateEntry, error) {
	var result struct {
		Base  string                     `json:"base"`
		Rates map[string]decimal.Decimal `json:"rates"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"base":    base,
			"symbols": target,
		}).
		SetResult(&result).
		Get("/latest")
	if err != nil {
		return rateEntry{}, err
	}
	if resp.IsError() {
		return rateEntry{}, fmt.Errorf("rate endpoint returned status %d", resp.StatusCode())
	}

	rate, ok := result.Rates[target]
	if !ok || rate.IsZero() {
		return rateEntry{}, fmt.Errorf("no rate for %s in response", target)
	}
	return rateEntry{Rate: rate, FetchedAt: time.Now().UTC()}, nil
}
