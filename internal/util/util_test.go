package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	want := errors.New("persistent")
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Retry error = %v, want %v", err, want)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Minute, func() error {
		return errors.New("always")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiterAllowsFirstToken(t *testing.T) {
	rl := NewRateLimiter(60)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait returned error: %v", err)
	}
}

func TestSessionClock(t *testing.T) {
	clock, err := NewSessionClock()
	if err != nil {
		t.Fatalf("NewSessionClock: %v", err)
	}

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading ET: %v", err)
	}

	// Tuesday 2026-08-25.
	midday := time.Date(2026, 8, 25, 12, 0, 0, 0, et)
	preMarket := time.Date(2026, 8, 25, 8, 0, 0, 0, et)
	overnight := time.Date(2026, 8, 25, 2, 0, 0, 0, et)
	saturday := time.Date(2026, 8, 29, 12, 0, 0, 0, et)

	if !clock.InRegularHours(midday) {
		t.Error("midday Tuesday should be regular hours")
	}
	if clock.InRegularHours(preMarket) {
		t.Error("8:00 ET should not be regular hours")
	}
	if !clock.InExtendedHours(preMarket) {
		t.Error("8:00 ET should be extended hours")
	}
	if clock.InExtendedHours(overnight) {
		t.Error("2:00 ET should not be extended hours")
	}
	if clock.InRegularHours(saturday) || clock.InExtendedHours(saturday) {
		t.Error("Saturday should never be a trading session")
	}
}
