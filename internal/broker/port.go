// Package broker defines the Port interface through which the trading core
// submits, replaces, and cancels orders, and provides the Alpaca and
// simulator implementations. Each submitted order yields a Handle whose event
// stream carries the broker's asynchronous acknowledgements, fills, rejects,
// and cancels for that order.
package broker

import (
	"context"
	"sync"

	"breakwatch/internal/domain"
)

// Port abstracts brokerage operations for order execution and account state.
// All mutation requests funnel through it; each watcher only mutates orders
// it created.
type Port interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// Submit sends a single order for execution and returns its Handle.
	Submit(ctx context.Context, spec domain.OrderSpec) (*Handle, error)

	// SubmitPair sends one OCA-linked take-profit/stop-loss sell pair and
	// returns a Handle per side. Filling one side cancels the other at the
	// broker.
	SubmitPair(ctx context.Context, spec domain.PairSpec) (*Pair, error)

	// Replace amends an open order. The returned error reports broker
	// rejection of the replace itself; the order keeps its prior terms on
	// failure.
	Replace(ctx context.Context, h *Handle, rep domain.ReplaceSpec) error

	// Cancel requests cancellation of an open order.
	Cancel(ctx context.Context, h *Handle) error

	// CancelByID cancels an order the core did not submit in this process
	// (reconciliation orphan handling).
	CancelByID(ctx context.Context, orderID string) error

	// OpenOrders returns the broker's view of all open orders.
	OpenOrders(ctx context.Context) ([]domain.OrderSnapshot, error)

	// Position returns the signed open position quantity for a symbol, 0 if
	// flat.
	Position(ctx context.Context, symbol string) (float64, error)
}

// Pair holds the two Handles of one OCA exit pair.
type Pair struct {
	TP *Handle
	SL *Handle
}

// Handle identifies one broker order and exposes its event stream. Events
// for a single handle are delivered in broker arrival order.
type Handle struct {
	id        string
	clientTag string

	ackOnce sync.Once
	ch      chan domain.OrderUpdate
}

const handleBuffer = 32

func newHandle(id, clientTag string) *Handle {
	return &Handle{
		id:        id,
		clientTag: clientTag,
		ch:        make(chan domain.OrderUpdate, handleBuffer),
	}
}

// ID returns the broker-assigned order id.
func (h *Handle) ID() string { return h.id }

// ClientTag returns the client attribution tag the order was submitted with.
func (h *Handle) ClientTag() string { return h.clientTag }

// Events returns the order's update stream.
func (h *Handle) Events() <-chan domain.OrderUpdate { return h.ch }

// push delivers an update to the handle's stream. It blocks if the consumer
// falls more than handleBuffer events behind, preserving delivery.
func (h *Handle) push(u domain.OrderUpdate) {
	h.ch <- u
}

// ack delivers the Acknowledged update exactly once, regardless of whether it
// originates from the submit response or the trade-update stream.
func (h *Handle) ack(u domain.OrderUpdate) {
	h.ackOnce.Do(func() {
		h.push(u)
	})
}
