package util

import (
	"context"
	"sync"
	"time"
)

// pollInterval is how often a blocked Wait re-checks the bucket.
const pollInterval = 10 * time.Millisecond

// RateLimiter paces venue requests with a token bucket refilled at a fixed
// rate. Capacity is one token, so calls space out evenly rather than
// bursting after an idle stretch.
type RateLimiter struct {
	mu     sync.Mutex
	rate   float64 // tokens per second
	tokens float64
	last   time.Time
}

// NewRateLimiter allows perMinute operations per minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		rate:   float64(perMinute) / 60.0,
		tokens: 1,
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (rl *RateLimiter) take() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.last).Seconds() * rl.rate
	if rl.tokens > 1 {
		rl.tokens = 1
	}
	rl.last = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
