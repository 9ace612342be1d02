package service

import (
	"context"
	"time"
)

// withRetry runs fn up to retries+1 times with exponential backoff from a
// one second base: 1s, 2s, 4s, ... Context cancellation aborts the wait.
func withRetry(ctx context.Context, retries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := time.Second * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
