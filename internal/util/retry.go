package util

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times with doubling backoff starting at
// baseDelay, returning nil on the first success or the last error otherwise.
// Only use it for idempotent venue calls (queries, cancels); retrying a
// submit can duplicate an order.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var last error

	for attempt := 1; ; attempt++ {
		if last = fn(); last == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return last
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
