// Package trigger decides when a breakout watcher enters. Two paths read the
// same market data: the slow path waits for a closed bar above the level and
// confirms on the next bar's open; the fast path reacts inside the minute to
// a tight break under a decaying distance threshold. Whichever fires first
// claims the watcher's single entry atomically.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"breakwatch/internal/domain"
	"breakwatch/internal/events"
)

// Kind classifies an evaluation result.
type Kind string

const (
	NoAction      Kind = "no_action"
	BreakDetected Kind = "break_detected"
	Confirmed     Kind = "confirmed"
	FastTriggered Kind = "fast_triggered"
	Rejected      Kind = "rejected"
)

// Firing reports whether the decision submits an entry.
func (k Kind) Firing() bool { return k == Confirmed || k == FastTriggered }

// Terminal reports whether the evaluator is finished for this watcher.
func (k Kind) Terminal() bool { return k.Firing() || k == Rejected }

// Rejection reasons.
const (
	ReasonQuoteMissing    = "quote_missing"
	ReasonQuoteStale      = "quote_stale"
	ReasonNoFollowThrough = "no_follow_through"
)

// Decision is the outcome of evaluating one bar.
type Decision struct {
	Kind Kind

	// PriceHint is the suggested entry price for a firing decision: the
	// fresh ask for limit entries, the triggering close for market entries.
	PriceHint float64

	Reason string // set for Rejected
}

// FastBands tunes the fast path.
type FastBands struct {
	// ArmBand is how close to the level the price must come before the
	// fast path starts its decay clock.
	ArmBand float64

	// MaxDistance is the widest break above the level the fast path will
	// still chase, at the moment of arming. It decays linearly to zero
	// over DecayWindow.
	MaxDistance float64

	DecayWindow time.Duration

	// SpreadLimit caps the bar's high-low range, a proxy for a quote
	// spread blowout during the break.
	SpreadLimit float64
}

// Validate checks the band geometry.
func (b FastBands) Validate() error {
	if b.ArmBand < 0 || b.MaxDistance <= 0 || b.SpreadLimit <= 0 {
		return fmt.Errorf("fast bands: arm %.4f, distance %.4f, spread %.4f must be positive", b.ArmBand, b.MaxDistance, b.SpreadLimit)
	}
	if b.DecayWindow <= 0 {
		return fmt.Errorf("fast bands: decay window %s must be positive", b.DecayWindow)
	}
	return nil
}

// QuoteFunc fetches the current quote for the watcher's symbol.
type QuoteFunc func(ctx context.Context) (*domain.Quote, error)

type slowState int

const (
	slowIdle slowState = iota
	slowBreakSeen
)

// Evaluator runs both trigger paths for one watcher. OnBar and OnFastBar may
// be called from different goroutines; the fired flag is the only shared
// write and the claim on it is atomic, so the two paths can never both fire.
type Evaluator struct {
	watcherID string
	cfg       domain.WatcherConfig
	bands     FastBands
	quoteFn   QuoteFunc
	maxAge    time.Duration

	fired atomic.Bool

	slow slowState

	fastArmed   bool
	fastExpired bool
	fastArmedAt time.Time

	sink events.Sink
	log  *slog.Logger
}

// NewEvaluator builds the evaluator for one watcher. quoteFn is consulted at
// the decision moment for limit-style entries and never before.
func NewEvaluator(watcherID string, cfg domain.WatcherConfig, bands FastBands, quoteFn QuoteFunc, quoteMaxAge time.Duration, sink events.Sink, log *slog.Logger) *Evaluator {
	return &Evaluator{
		watcherID: watcherID,
		cfg:       cfg,
		bands:     bands,
		quoteFn:   quoteFn,
		maxAge:    quoteMaxAge,
		sink:      sink,
		log:       log.With("component", "trigger", "watcher", watcherID, "symbol", cfg.Symbol),
	}
}

// Fired reports whether the single entry has been claimed.
func (e *Evaluator) Fired() bool { return e.fired.Load() }

// claim takes the watcher's one firing right. Exactly one caller ever wins.
func (e *Evaluator) claim() bool { return e.fired.CompareAndSwap(false, true) }

// OnBar evaluates one closed bar on the slow path.
func (e *Evaluator) OnBar(ctx context.Context, bar domain.Bar) Decision {
	if e.fired.Load() {
		return Decision{Kind: NoAction}
	}

	switch e.slow {
	case slowIdle:
		if bar.High < e.cfg.Level {
			return Decision{Kind: NoAction}
		}
		e.slow = slowBreakSeen
		e.sink.Publish(events.New(events.KindBreakDetected, e.watcherID, e.cfg.Symbol, map[string]any{
			"bar_high": bar.High, "level": e.cfg.Level,
		}))
		e.log.Info("break detected, awaiting confirmation bar", "bar_high", bar.High, "level", e.cfg.Level)
		return Decision{Kind: BreakDetected}

	case slowBreakSeen:
		if bar.Open < e.cfg.Level {
			if !e.claim() {
				return Decision{Kind: NoAction}
			}
			return e.reject(ReasonNoFollowThrough)
		}
		if !e.claim() {
			return Decision{Kind: NoAction}
		}
		hint, reason := e.priceHint(ctx, bar.Close)
		if reason != "" {
			return e.reject(reason)
		}
		e.sink.Publish(events.New(events.KindTriggerConfirmed, e.watcherID, e.cfg.Symbol, map[string]any{
			"bar_open": bar.Open, "price_hint": hint,
		}))
		e.log.Info("slow path confirmed", "bar_open", bar.Open, "price_hint", hint)
		return Decision{Kind: Confirmed, PriceHint: hint}
	}
	return Decision{Kind: NoAction}
}

// OnFastBar evaluates the most recent sub-minute bar on the fast path.
func (e *Evaluator) OnFastBar(ctx context.Context, bar domain.Bar) Decision {
	if e.fired.Load() || e.fastExpired {
		return Decision{Kind: NoAction}
	}

	if !e.fastArmed {
		if bar.High < e.cfg.Level-e.bands.ArmBand {
			return Decision{Kind: NoAction}
		}
		e.fastArmed = true
		e.fastArmedAt = bar.Timestamp
	}

	elapsed := bar.Timestamp.Sub(e.fastArmedAt)
	if elapsed > e.bands.DecayWindow {
		e.fastExpired = true
		e.log.Debug("fast path expired", "elapsed", elapsed)
		return Decision{Kind: NoAction}
	}

	// The acceptable break distance shrinks linearly to zero across the
	// decay window, so a stale arm never chases a runaway price.
	threshold := e.bands.MaxDistance * (1 - float64(elapsed)/float64(e.bands.DecayWindow))
	dist := bar.Close - e.cfg.Level
	if dist < 0 || dist > threshold {
		return Decision{Kind: NoAction}
	}
	if bar.High-bar.Low > e.bands.SpreadLimit {
		return Decision{Kind: NoAction}
	}

	if !e.claim() {
		return Decision{Kind: NoAction}
	}
	hint, reason := e.priceHint(ctx, bar.Close)
	if reason != "" {
		return e.reject(reason)
	}
	e.sink.Publish(events.New(events.KindFastTriggered, e.watcherID, e.cfg.Symbol, map[string]any{
		"close": bar.Close, "distance": dist, "threshold": threshold, "price_hint": hint,
	}))
	e.log.Info("fast path triggered", "close", bar.Close, "distance", dist, "threshold", threshold)
	return Decision{Kind: FastTriggered, PriceHint: hint}
}

// priceHint resolves the entry price input. Limit entries require a fresh
// quote at the decision moment; market entries use the triggering close.
func (e *Evaluator) priceHint(ctx context.Context, barClose float64) (float64, string) {
	if e.cfg.Entry == domain.EntryMarket {
		return barClose, ""
	}
	q, err := e.quoteFn(ctx)
	if err != nil || q == nil || q.Ask <= 0 {
		if err != nil {
			e.log.Warn("quote fetch failed", "error", err)
		}
		return 0, ReasonQuoteMissing
	}
	if !q.Fresh(time.Now(), e.maxAge) {
		return 0, ReasonQuoteStale
	}
	return q.Ask, ""
}

func (e *Evaluator) reject(reason string) Decision {
	e.sink.Publish(events.New(events.KindTriggerRejected, e.watcherID, e.cfg.Symbol, map[string]any{
		"reason": reason,
	}))
	e.log.Info("trigger rejected", "reason", reason)
	return Decision{Kind: Rejected, Reason: reason}
}
