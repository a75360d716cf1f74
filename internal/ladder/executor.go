package ladder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"breakwatch/internal/broker"
	"breakwatch/internal/domain"
	"breakwatch/internal/events"
)

// Executor carries the machine's decisions to the broker port. The machine
// decides under its lock; the executor talks to the venue strictly outside
// it, so a slow or hung broker call can never block fill processing.
type Executor struct {
	machine   *Machine
	port      broker.Port
	sink      events.Sink
	log       *slog.Logger
	paperMode bool
	clientTag string
	tif       string

	// cancelGrace is how long an unexplained cancel event waits for the
	// sibling fill that may explain it before it becomes an incident.
	cancelGrace time.Duration

	mu        sync.Mutex
	tpHandles map[int]*broker.Handle
	slHandles map[int]*broker.Handle
	emergency *broker.Handle

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewExecutor wires a machine to a broker port. clientTag stamps every order
// the executor places so reconciliation can attribute them.
func NewExecutor(m *Machine, port broker.Port, sink events.Sink, clientTag, tif string, paperMode bool, log *slog.Logger) *Executor {
	return &Executor{
		machine:     m,
		port:        port,
		sink:        sink,
		log:         log.With("component", "ladder_exec", "watcher", m.watcherID, "symbol", m.symbol),
		paperMode:   paperMode,
		clientTag:   clientTag,
		tif:         tif,
		cancelGrace: 250 * time.Millisecond,
		tpHandles:   make(map[int]*broker.Handle),
		slHandles:   make(map[int]*broker.Handle),
		done:        make(chan struct{}),
	}
}

// Done closes when the ladder retires.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Arm places every exit pair and starts the per-order event pumps. A pair
// that cannot be placed is handled as an incident on its leg so the machine
// can cover the gap.
func (e *Executor) Arm(ctx context.Context) error {
	specs := e.machine.PairSpecs()
	for i, spec := range specs {
		spec.ClientTag = e.clientTag
		spec.TIF = e.tif
		pair, err := e.port.SubmitPair(ctx, spec)
		if err != nil {
			e.log.Error("exit pair submit failed", "leg", i, "error", err)
			e.apply(ctx, e.machine.OnRejected(i, SideSL, domain.CodeRejected))
			continue
		}
		e.mu.Lock()
		e.tpHandles[i] = pair.TP
		e.slHandles[i] = pair.SL
		e.mu.Unlock()
		e.machine.MarkArmed(i)

		e.pump(ctx, i, SideTP, pair.TP)
		e.pump(ctx, i, SideSL, pair.SL)
	}
	e.sink.Publish(events.New(events.KindLadderArmed, e.machine.watcherID, e.machine.symbol, map[string]any{
		"legs": len(specs),
	}))
	return nil
}

// CancelAll tears the ladder down on user request.
func (e *Executor) CancelAll(ctx context.Context) {
	e.apply(ctx, e.machine.CancelAll())
}

// Wait blocks until every pump goroutine exits.
func (e *Executor) Wait() { e.wg.Wait() }

// pump drains one order's update stream into the machine.
func (e *Executor) pump(ctx context.Context, leg int, side Side, h *broker.Handle) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for up := range h.Events() {
			switch up.Kind {
			case domain.UpdateAcknowledged:
				e.machine.OnExitAcked(leg, side)
			case domain.UpdateFilled:
				if side == SideTP {
					e.apply(ctx, e.machine.OnTPFill(leg, up.FillQty, up.FillPrice))
				} else {
					e.apply(ctx, e.machine.OnSLFill(leg, up.FillQty, up.FillPrice))
				}
			case domain.UpdateCancelled:
				e.apply(ctx, e.machine.OnCancelled(leg, side, up.Code))
			case domain.UpdateRejected:
				e.apply(ctx, e.machine.OnRejected(leg, side, up.Code))
			}
		}
	}()
}

// apply executes decisions in order, outside the machine's lock.
func (e *Executor) apply(ctx context.Context, decisions []Decision) {
	for _, d := range decisions {
		switch d := d.(type) {
		case CancelLeg:
			e.cancelLeg(ctx, d)
		case RepriceBatch:
			e.reprice(ctx, d)
		case EmergencyStop:
			e.emergencyStop(ctx, d)
		case Flatten:
			e.flatten(ctx, d)
		case RecheckCancel:
			e.wg.Add(1)
			time.AfterFunc(e.cancelGrace, func() {
				defer e.wg.Done()
				e.apply(ctx, e.machine.ResolveCancel(d.LegIndex, d.Side, d.Code))
			})
		case Retire:
			e.doneOnce.Do(func() { close(e.done) })
		}
	}
}

func (e *Executor) cancelLeg(ctx context.Context, d CancelLeg) {
	h := e.handle(d.LegIndex, d.Side)
	if h == nil {
		return
	}
	if err := e.port.Cancel(ctx, h); err != nil {
		// Already filled or already gone at the venue is the common case
		// here; the pump sees the authoritative update either way.
		e.log.Debug("cancel returned error", "leg", d.LegIndex, "side", d.Side, "error", err)
	}
}

// reprice applies one batch of stop moves sequentially. The first rejected
// replace abandons the remainder and the batch never reports success.
func (e *Executor) reprice(ctx context.Context, batch RepriceBatch) {
	for n, cmd := range batch.Cmds {
		h := e.handle(cmd.LegIndex, SideSL)
		if h == nil {
			e.skipReprice(batch, n, fmt.Errorf("no stop handle for leg %d", cmd.LegIndex))
			return
		}
		if err := e.port.Replace(ctx, h, domain.ReplaceSpec{StopPrice: cmd.NewStop}); err != nil {
			e.skipReprice(batch, n, err)
			return
		}
		e.machine.OnRepriceApplied(cmd.LegIndex, cmd.NewStop)
		e.sink.Publish(events.NewLeg(events.KindRepriceApplied, e.machine.watcherID, e.machine.symbol,
			cmd.LegIndex, map[string]any{"stop": cmd.NewStop, "milestone": batch.Milestone}))
	}
	e.sink.Publish(events.New(events.KindLadderRepriced, e.machine.watcherID, e.machine.symbol, map[string]any{
		"milestone": batch.Milestone, "legs": len(batch.Cmds),
	}))
	e.log.Info("ladder repriced", "milestone", batch.Milestone, "legs", len(batch.Cmds))
}

// skipReprice reports the failed command and every abandoned one after it.
func (e *Executor) skipReprice(batch RepriceBatch, failedAt int, err error) {
	e.log.Warn("reprice batch abandoned",
		"milestone", batch.Milestone, "failed_leg", batch.Cmds[failedAt].LegIndex, "error", err)
	for _, cmd := range batch.Cmds[failedAt:] {
		e.sink.Publish(events.NewLeg(events.KindRepriceSkipped, e.machine.watcherID, e.machine.symbol,
			cmd.LegIndex, map[string]any{"stop": cmd.NewStop, "milestone": batch.Milestone}))
	}
}

func (e *Executor) emergencyStop(ctx context.Context, d EmergencyStop) {
	spec := domain.OrderSpec{
		Symbol:    e.machine.symbol,
		Qty:       d.Qty,
		Side:      domain.SideSell,
		Type:      domain.TypeStop,
		StopPrice: d.Price,
		TIF:       e.tif,
		ClientTag: e.clientTag,
	}
	h, err := e.port.Submit(ctx, spec)
	if err != nil {
		e.log.Error("emergency stop submit failed", "qty", d.Qty, "error", err)
		e.apply(ctx, e.machine.OnEmergencyFailed(e.paperMode))
		return
	}
	e.mu.Lock()
	e.emergency = h
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for up := range h.Events() {
			switch up.Kind {
			case domain.UpdateAcknowledged:
				e.apply(ctx, e.machine.OnEmergencyAcked())
			case domain.UpdateFilled:
				e.apply(ctx, e.machine.OnEmergencyFill(up.FillQty, up.FillPrice))
			case domain.UpdateRejected:
				e.apply(ctx, e.machine.OnEmergencyFailed(e.paperMode))
			}
		}
	}()
}

func (e *Executor) flatten(ctx context.Context, d Flatten) {
	spec := domain.OrderSpec{
		Symbol:    e.machine.symbol,
		Qty:       d.Qty,
		Side:      domain.SideSell,
		Type:      domain.TypeMarket,
		TIF:       e.tif,
		ClientTag: e.clientTag,
	}
	h, err := e.port.Submit(ctx, spec)
	if err != nil {
		e.log.Error("flatten submit failed, position uncovered", "qty", d.Qty, "error", err)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for up := range h.Events() {
			if up.Kind == domain.UpdateFilled {
				e.apply(ctx, e.machine.OnEmergencyFill(up.FillQty, up.FillPrice))
			}
		}
	}()
}

func (e *Executor) handle(leg int, side Side) *broker.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if side == SideTP {
		return e.tpHandles[leg]
	}
	return e.slHandles[leg]
}
