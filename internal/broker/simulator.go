package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"breakwatch/internal/domain"
)

// Compile-time interface check.
var _ Port = (*SimulatorPort)(nil)

// SimulatorPort implements the Port interface in memory for paper trading
// and tests. Fills, rejects, and cancel races are driven explicitly through
// the Fill/Reject/CancelArrives methods, which push updates onto the same
// per-order event streams a live broker would.
type SimulatorPort struct {
	mu        sync.Mutex
	nextID    int
	orders    map[string]*simOrder
	positions map[string]float64

	holdAcks       bool
	failSubmits    int
	rejectReplace  map[string]bool
	heldAckOrders  []string
}

type simOrder struct {
	h       *Handle
	spec    domain.OrderSpec
	filled  int
	status  string // "open", "filled", "cancelled", "rejected"
	sibling string // OCA-linked order id, "" when unlinked
}

// NewSimulatorPort creates an empty simulator.
func NewSimulatorPort() *SimulatorPort {
	return &SimulatorPort{
		orders:        make(map[string]*simOrder),
		positions:     make(map[string]float64),
		rejectReplace: make(map[string]bool),
	}
}

// Name returns "simulator".
func (p *SimulatorPort) Name() string { return "simulator" }

// Submit records the order and acknowledges it unless acks are held or a
// scripted submit failure is pending.
func (p *SimulatorPort) Submit(_ context.Context, spec domain.OrderSpec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating order: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSubmits > 0 {
		p.failSubmits--
		return nil, fmt.Errorf("simulated submit failure for %s", spec.Symbol)
	}
	return p.addOrderLocked(spec, ""), nil
}

// SubmitPair records an OCA-linked TP/SL sell pair.
func (p *SimulatorPort) SubmitPair(_ context.Context, spec domain.PairSpec) (*Pair, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating exit pair: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSubmits > 0 {
		p.failSubmits--
		return nil, fmt.Errorf("simulated submit failure for %s", spec.Symbol)
	}

	tp := p.addOrderLocked(domain.OrderSpec{
		Symbol:     spec.Symbol,
		Qty:        spec.Qty,
		Side:       domain.SideSell,
		Type:       domain.TypeLimit,
		LimitPrice: spec.TPPrice,
		TIF:        spec.TIF,
		ClientTag:  spec.ClientTag,
	}, "")
	sl := p.addOrderLocked(domain.OrderSpec{
		Symbol:    spec.Symbol,
		Qty:       spec.Qty,
		Side:      domain.SideSell,
		Type:      domain.TypeStop,
		StopPrice: spec.StopPrice,
		TIF:       spec.TIF,
		ClientTag: spec.ClientTag,
	}, "")

	p.orders[tp.ID()].sibling = sl.ID()
	p.orders[sl.ID()].sibling = tp.ID()
	return &Pair{TP: tp, SL: sl}, nil
}

// Replace amends an open order unless a scripted rejection is set for it.
func (p *SimulatorPort) Replace(_ context.Context, h *Handle, rep domain.ReplaceSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[h.ID()]
	if !ok {
		return fmt.Errorf("replace: unknown order %s", h.ID())
	}
	if p.rejectReplace[h.ID()] {
		return fmt.Errorf("simulated replace rejection for order %s", h.ID())
	}
	if o.status != "open" {
		return fmt.Errorf("replace: order %s is %s", h.ID(), o.status)
	}

	if rep.StopPrice > 0 {
		o.spec.StopPrice = rep.StopPrice
	}
	if rep.LimitPrice > 0 {
		o.spec.LimitPrice = rep.LimitPrice
	}
	if rep.Qty > 0 {
		o.spec.Qty = rep.Qty
	}
	return nil
}

// Cancel marks the order cancelled and pushes a cancel update.
func (p *SimulatorPort) Cancel(_ context.Context, h *Handle) error {
	return p.cancelID(h.ID())
}

// CancelByID cancels an order by id.
func (p *SimulatorPort) CancelByID(_ context.Context, orderID string) error {
	return p.cancelID(orderID)
}

// OpenOrders returns all open simulated orders.
func (p *SimulatorPort) OpenOrders(_ context.Context) ([]domain.OrderSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var snaps []domain.OrderSnapshot
	for id, o := range p.orders {
		if o.status != "open" {
			continue
		}
		snaps = append(snaps, domain.OrderSnapshot{
			OrderID:      id,
			Symbol:       o.spec.Symbol,
			Side:         o.spec.Side,
			Type:         o.spec.Type,
			Status:       o.status,
			ClientTag:    o.spec.ClientTag,
			Qty:          float64(o.spec.Qty),
			FilledQty:    float64(o.filled),
			RemainingQty: float64(o.spec.Qty - o.filled),
			StopPrice:    o.spec.StopPrice,
			LimitPrice:   o.spec.LimitPrice,
		})
	}
	return snaps, nil
}

// Position returns the simulated position for a symbol.
func (p *SimulatorPort) Position(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[strings.ToUpper(symbol)], nil
}

// ---------------------------------------------------------------------------
// Scripted broker behaviour (test and paper drivers)
// ---------------------------------------------------------------------------

// Fill executes qty shares of an open order at price, adjusting the position
// and cross-cancelling an OCA sibling when the order completes.
func (p *SimulatorPort) Fill(orderID string, qty int, price float64) error {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("fill: unknown order %s", orderID)
	}
	o.filled += qty
	symbol := strings.ToUpper(o.spec.Symbol)
	if o.spec.Side == domain.SideBuy {
		p.positions[symbol] += float64(qty)
	} else {
		p.positions[symbol] -= float64(qty)
	}
	complete := o.filled >= o.spec.Qty
	var sibling *simOrder
	if complete {
		o.status = "filled"
		if o.sibling != "" {
			if s, ok := p.orders[o.sibling]; ok && s.status == "open" {
				s.status = "cancelled"
				sibling = s
			}
		}
	}
	p.mu.Unlock()

	o.h.push(domain.OrderUpdate{Kind: domain.UpdateFilled, FillQty: qty, FillPrice: price})
	if sibling != nil {
		sibling.h.push(domain.OrderUpdate{Kind: domain.UpdateCancelled, Code: domain.CodeCancelled})
	}
	return nil
}

// Reject marks an order rejected with the given broker code.
func (p *SimulatorPort) Reject(orderID string, code int) error {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("reject: unknown order %s", orderID)
	}
	o.status = "rejected"
	p.mu.Unlock()

	o.h.push(domain.OrderUpdate{Kind: domain.UpdateRejected, Code: code})
	return nil
}

// HoldAcks suspends automatic acknowledgement of submitted orders until
// ReleaseAcks is called. Used to exercise the Recovering protection state.
func (p *SimulatorPort) HoldAcks() {
	p.mu.Lock()
	p.holdAcks = true
	p.mu.Unlock()
}

// ReleaseAcks acknowledges all orders submitted while acks were held.
func (p *SimulatorPort) ReleaseAcks() {
	p.mu.Lock()
	held := p.heldAckOrders
	p.heldAckOrders = nil
	p.holdAcks = false
	var handles []*Handle
	for _, id := range held {
		if o, ok := p.orders[id]; ok && o.status == "open" {
			handles = append(handles, o.h)
		}
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.ack(domain.OrderUpdate{Kind: domain.UpdateAcknowledged})
	}
}

// FailNextSubmits makes the next n Submit/SubmitPair calls fail.
func (p *SimulatorPort) FailNextSubmits(n int) {
	p.mu.Lock()
	p.failSubmits = n
	p.mu.Unlock()
}

// RejectReplace makes every Replace for the given order fail.
func (p *SimulatorPort) RejectReplace(orderID string) {
	p.mu.Lock()
	p.rejectReplace[orderID] = true
	p.mu.Unlock()
}

// SetPosition overrides the simulated position for a symbol.
func (p *SimulatorPort) SetPosition(symbol string, qty float64) {
	p.mu.Lock()
	p.positions[strings.ToUpper(symbol)] = qty
	p.mu.Unlock()
}

// StopPriceOf returns the current stop price of an order (test inspection).
func (p *SimulatorPort) StopPriceOf(orderID string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return 0, false
	}
	return o.spec.StopPrice, true
}

// StatusOf returns the current status of an order (test inspection).
func (p *SimulatorPort) StatusOf(orderID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return "", false
	}
	return o.status, true
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (p *SimulatorPort) addOrderLocked(spec domain.OrderSpec, sibling string) *Handle {
	p.nextID++
	id := "sim-" + strconv.Itoa(p.nextID)
	h := newHandle(id, spec.ClientTag)
	p.orders[id] = &simOrder{h: h, spec: spec, status: "open", sibling: sibling}

	if p.holdAcks {
		p.heldAckOrders = append(p.heldAckOrders, id)
	} else {
		h.ack(domain.OrderUpdate{Kind: domain.UpdateAcknowledged})
	}
	return h
}

func (p *SimulatorPort) cancelID(orderID string) error {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("cancel: unknown order %s", orderID)
	}
	if o.status != "open" {
		p.mu.Unlock()
		return nil // cancel after fill/cancel is a no-op, as at the venue
	}
	o.status = "cancelled"
	p.mu.Unlock()

	o.h.push(domain.OrderUpdate{Kind: domain.UpdateCancelled, Code: domain.CodeCancelled})
	return nil
}
