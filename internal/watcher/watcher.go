// Package watcher runs one breakout watcher end to end: trigger evaluation
// over the feed, entry submission with confirmed-fill gating, and handoff to
// the exit ladder. One watcher owns its config and ladder exclusively.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"breakwatch/internal/broker"
	"breakwatch/internal/domain"
	"breakwatch/internal/events"
	"breakwatch/internal/feed"
	"breakwatch/internal/ladder"
	"breakwatch/internal/trigger"
	"breakwatch/internal/util"
)

// State is the watcher's coarse lifecycle phase.
type State string

const (
	StateWatching  State = "watching"
	StateEntering  State = "entering"
	StateManaging  State = "managing"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Params carries the tuning shared by all watchers.
type Params struct {
	Bands        trigger.FastBands
	QuoteMaxAge  time.Duration
	EntryTimeout time.Duration

	// FillGrace is how long a partially filled entry may wait for its
	// remainder before the rest is cut and the ladder shrinks to the
	// actual fill.
	FillGrace time.Duration

	// Sessions gates the trigger by the config's session policy; nil
	// disables gating for tests and replay.
	Sessions *util.SessionClock

	TIF       string
	PaperMode bool
}

// Snapshot is a point-in-time view for the command surface.
type Snapshot struct {
	ID         string               `json:"id"`
	Symbol     string               `json:"symbol"`
	State      State                `json:"state"`
	Config     domain.WatcherConfig `json:"config"`
	EntryQty   int                  `json:"entry_qty,omitempty"`
	EntryPrice float64              `json:"entry_price,omitempty"`
	FailReason string               `json:"fail_reason,omitempty"`
	Ladder     *ladder.Snapshot     `json:"ladder,omitempty"`
}

// Watcher is one symbol/level breakout task.
type Watcher struct {
	ID string

	cfg    domain.WatcherConfig
	params Params
	feed   feed.Feed
	port   broker.Port
	sink   events.Sink
	log    *slog.Logger

	mu         sync.Mutex
	state      State
	entryQty   int
	entryPrice float64
	failReason string
	machine    *ladder.Machine
	exec       *ladder.Executor

	cancelOnce sync.Once
	cancelCh   chan struct{}
	doneCh     chan struct{}
}

// New builds a watcher with a fresh id. The config must already be valid.
func New(cfg domain.WatcherConfig, f feed.Feed, port broker.Port, params Params, sink events.Sink, log *slog.Logger) *Watcher {
	id := uuid.NewString()
	return &Watcher{
		ID:       id,
		cfg:      cfg,
		params:   params,
		feed:     f,
		port:     port,
		sink:     sink,
		log:      log.With("component", "watcher", "watcher", id, "symbol", cfg.Symbol),
		state:    StateWatching,
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Cancel requests a cooperative stop. While watching it just ends the task;
// while managing it tears the ladder down at the broker.
func (w *Watcher) Cancel() { w.cancelOnce.Do(func() { close(w.cancelCh) }) }

// Done closes when the watcher has fully stopped.
func (w *Watcher) Done() <-chan struct{} { return w.doneCh }

// Snapshot copies the current state.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := Snapshot{
		ID:         w.ID,
		Symbol:     w.cfg.Symbol,
		State:      w.state,
		Config:     w.cfg,
		EntryQty:   w.entryQty,
		EntryPrice: w.entryPrice,
		FailReason: w.failReason,
	}
	if w.machine != nil {
		ls := w.machine.Snapshot()
		snap.Ladder = &ls
	}
	return snap
}

// LadderSnapshot returns the ladder view when one exists.
func (w *Watcher) LadderSnapshot() (ladder.Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.machine == nil {
		return ladder.Snapshot{}, false
	}
	return w.machine.Snapshot(), true
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run drives the watcher until it terminates. It consumes the feed, fires
// the trigger at most once, confirms the entry fill, then manages the ladder
// to completion.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.doneCh)

	w.sink.Publish(events.New(events.KindWatcherStarted, w.ID, w.cfg.Symbol, map[string]any{
		"level": w.cfg.Level, "qty": w.cfg.Qty,
	}))
	w.log.Info("watcher started", "level", w.cfg.Level, "qty", w.cfg.Qty)

	eval := trigger.NewEvaluator(w.ID, w.cfg, w.params.Bands, w.feed.LatestQuote,
		w.params.QuoteMaxAge, w.sink, w.log)

	decision, err := w.watch(ctx, eval)
	if err != nil {
		return err
	}
	if !decision.Kind.Firing() {
		return nil
	}

	// 1) Claim-then-submit is one non-interruptible operation: once the
	// trigger fired, a watcher cancel must not orphan the submission.
	w.setState(StateEntering)
	entryCtx := context.WithoutCancel(ctx)
	filled, avg := w.enter(entryCtx, decision)
	if filled == 0 {
		w.fail("entry_not_filled")
		return nil
	}

	// 2) Inventory is confirmed; only now may exits arm.
	return w.manage(ctx, filled, avg)
}

// watch consumes the feed until the trigger reaches a terminal decision or
// the watcher is stopped.
func (w *Watcher) watch(ctx context.Context, eval *trigger.Evaluator) (trigger.Decision, error) {
	bars := w.feed.Bars()
	var fastBars <-chan domain.Bar
	if w.cfg.FastEntry {
		// A nil channel never selects; the fast path only runs when asked.
		fastBars = w.feed.FastBars()
	}
	for {
		var d trigger.Decision
		select {
		case <-ctx.Done():
			w.setState(StateCancelled)
			w.stop("context cancelled")
			return trigger.Decision{}, ctx.Err()
		case <-w.cancelCh:
			w.setState(StateCancelled)
			w.stop("user cancel")
			return trigger.Decision{}, nil
		case bar, ok := <-bars:
			if !ok {
				w.setState(StateCancelled)
				w.stop("feed closed")
				return trigger.Decision{}, nil
			}
			if !w.inSession(bar.Timestamp) {
				continue
			}
			d = eval.OnBar(ctx, bar)
		case bar, ok := <-fastBars:
			if !ok {
				fastBars = nil
				continue
			}
			if !w.inSession(bar.Timestamp) {
				continue
			}
			d = eval.OnFastBar(ctx, bar)
		}
		if d.Kind.Firing() {
			return d, nil
		}
		if d.Kind == trigger.Rejected {
			w.fail(d.Reason)
			return trigger.Decision{}, nil
		}
	}
}

// inSession applies the config's session policy to a bar timestamp. A nil
// clock (tests, replay) disables gating.
func (w *Watcher) inSession(t time.Time) bool {
	if w.params.Sessions == nil {
		return true
	}
	if w.cfg.Session == domain.SessionExtended {
		return w.params.Sessions.InExtendedHours(t)
	}
	return w.params.Sessions.InRegularHours(t)
}

// enter submits the entry and blocks until it is filled, rejected, or timed
// out. Returns the confirmed fill quantity and average price; zero quantity
// means no inventory and no ladder.
func (w *Watcher) enter(ctx context.Context, d trigger.Decision) (int, float64) {
	spec := domain.OrderSpec{
		Symbol:    w.cfg.Symbol,
		Qty:       w.cfg.Qty,
		Side:      domain.SideBuy,
		Type:      domain.TypeMarket,
		TIF:       w.params.TIF,
		Extended:  w.cfg.Session == domain.SessionExtended,
		ClientTag: w.cfg.Tag(),
	}
	if w.cfg.Entry == domain.EntryLimitAtAsk {
		spec.Type = domain.TypeLimit
		spec.LimitPrice = d.PriceHint
	}

	w.sink.Publish(events.New(events.KindEntrySubmitted, w.ID, w.cfg.Symbol, map[string]any{
		"qty": spec.Qty, "type": string(spec.Type), "limit": spec.LimitPrice,
	}))
	h, err := w.port.Submit(ctx, spec)
	if err != nil {
		w.log.Error("entry submit failed", "error", err)
		w.sink.Publish(events.New(events.KindEntryFailed, w.ID, w.cfg.Symbol, map[string]any{
			"reason": fmt.Sprintf("submit: %v", err),
		}))
		return 0, 0
	}

	filled := 0
	notional := 0.0
	deadline := time.NewTimer(w.params.EntryTimeout)
	defer deadline.Stop()
	var graceC <-chan time.Time

	finish := func() (int, float64) {
		avg := 0.0
		if filled > 0 {
			avg = notional / float64(filled)
			w.sink.Publish(events.New(events.KindEntryFilled, w.ID, w.cfg.Symbol, map[string]any{
				"qty": filled, "avg_price": avg, "requested": spec.Qty,
			}))
			w.log.Info("entry filled", "qty", filled, "avg_price", avg, "requested", spec.Qty)
		}
		return filled, avg
	}

	for {
		select {
		case up, ok := <-h.Events():
			if !ok {
				return finish()
			}
			switch up.Kind {
			case domain.UpdateFilled:
				filled += up.FillQty
				notional += float64(up.FillQty) * up.FillPrice
				if filled >= spec.Qty {
					return finish()
				}
			case domain.UpdateRejected:
				if filled == 0 {
					w.sink.Publish(events.New(events.KindEntryFailed, w.ID, w.cfg.Symbol, map[string]any{
						"reason": "rejected", "code": up.Code,
					}))
				}
				return finish()
			case domain.UpdateCancelled:
				return finish()
			}
		case <-deadline.C:
			if filled == 0 {
				_ = w.port.Cancel(ctx, h)
				w.sink.Publish(events.New(events.KindEntryFailed, w.ID, w.cfg.Symbol, map[string]any{
					"reason": "timeout",
				}))
				w.log.Warn("entry timed out unfilled")
				return 0, 0
			}
			// Partially filled: give the remainder a grace period, then
			// cut it and run the ladder on what actually filled.
			g := time.NewTimer(w.params.FillGrace)
			defer g.Stop()
			graceC = g.C
		case <-graceC:
			_ = w.port.Cancel(ctx, h)
			w.log.Warn("entry remainder cut after grace", "filled", filled, "requested", spec.Qty)
			return finish()
		}
	}
}

// manage arms the exit ladder for the confirmed fill and runs it to the end.
func (w *Watcher) manage(ctx context.Context, filled int, avg float64) error {
	legQty, tps := w.legSplit(filled)
	m, err := ladder.NewMachine(w.ID, w.cfg.Symbol, filled, avg, legQty, tps,
		w.cfg.StopLoss, w.cfg.StopUpdates, w.sink, w.log)
	if err != nil {
		w.fail(fmt.Sprintf("ladder: %v", err))
		return err
	}
	exec := ladder.NewExecutor(m, w.port, w.sink, w.cfg.Tag(), w.params.TIF, w.params.PaperMode, w.log)

	w.mu.Lock()
	w.state = StateManaging
	w.entryQty = filled
	w.entryPrice = avg
	w.machine = m
	w.exec = exec
	w.mu.Unlock()

	// Exits must go out even if the watcher's context just got cancelled;
	// an unprotected fill is worse than an extra teardown round-trip.
	armCtx := context.WithoutCancel(ctx)
	if err := exec.Arm(armCtx); err != nil {
		w.fail(fmt.Sprintf("arm: %v", err))
		return err
	}

	for {
		select {
		case <-exec.Done():
			w.setState(StateDone)
			w.stop("ladder complete")
			return nil
		case <-w.cancelCh:
			exec.CancelAll(armCtx)
			w.awaitTeardown(exec)
			return nil
		case <-ctx.Done():
			exec.CancelAll(armCtx)
			w.awaitTeardown(exec)
			return ctx.Err()
		}
	}
}

// awaitTeardown waits briefly for the cancel-all to settle.
func (w *Watcher) awaitTeardown(exec *ladder.Executor) {
	select {
	case <-exec.Done():
		w.setState(StateCancelled)
		w.stop("cancelled")
	case <-time.After(10 * time.Second):
		w.setState(StateCancelled)
		w.stop("cancel timeout")
		w.log.Warn("ladder teardown timed out")
	}
}

// legSplit shrinks the configured split to the actual filled quantity. When
// the fill cannot honor the configured leg count, the ladder collapses to a
// single leg at the first take-profit rather than invent a geometry.
func (w *Watcher) legSplit(filled int) ([]int, []float64) {
	tps := w.cfg.TakeProfit
	n := len(tps)

	if filled == w.cfg.Qty && len(w.cfg.LegQty) == n {
		return append([]int(nil), w.cfg.LegQty...), tps
	}

	ratios := make([]float64, 0, n)
	if len(w.cfg.LegQty) == n {
		for _, q := range w.cfg.LegQty {
			ratios = append(ratios, float64(q)/float64(w.cfg.Qty))
		}
	} else if r, err := ladder.DefaultRatios(n); err == nil {
		ratios = r
	} else {
		ratios = []float64{1.0}
	}

	qty, err := ladder.SplitQty(filled, ratios)
	if err != nil {
		w.log.Warn("split collapsed to single leg", "filled", filled, "error", err)
		return []int{filled}, tps[:1]
	}
	return qty, tps[:len(qty)]
}

func (w *Watcher) fail(reason string) {
	w.mu.Lock()
	w.state = StateFailed
	w.failReason = reason
	w.mu.Unlock()
	w.stop(reason)
}

func (w *Watcher) stop(reason string) {
	w.sink.Publish(events.New(events.KindWatcherStopped, w.ID, w.cfg.Symbol, map[string]any{
		"reason": reason,
	}))
	w.log.Info("watcher stopped", "reason", reason)
}
