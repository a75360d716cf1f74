// Package domain defines the core types shared across the breakwatch system:
// market data, order specifications, broker events, and watcher configuration.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one closed OHLC bar. Bars arrive in strictly increasing time order
// per feed; only closed bars are ever evaluated.
type Bar struct {
	Symbol    string
	Timestamp time.Time // bar start
	Duration  time.Duration
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Quote is a best bid/ask snapshot.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	BidSize   float64
	AskSize   float64
	Timestamp time.Time
}

// Fresh reports whether the quote is younger than maxAge as of now.
func (q *Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	if q == nil {
		return false
	}
	return now.Sub(q.Timestamp) <= maxAge
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
	TypeStop   OrderType = "stop"
)

// EntryStyle selects how a watcher's entry order is priced.
type EntryStyle string

const (
	EntryMarket     EntryStyle = "market"
	EntryLimitAtAsk EntryStyle = "limit_at_ask"
)

// SessionPolicy controls when a watcher is allowed to act.
type SessionPolicy string

const (
	SessionRegularHours SessionPolicy = "rth"
	SessionExtended     SessionPolicy = "extended"
)

// OrderSpec describes a single order to be submitted through the broker port.
type OrderSpec struct {
	Symbol     string
	Qty        int
	Side       OrderSide
	Type       OrderType
	LimitPrice float64 // required for limit orders
	StopPrice  float64 // required for stop orders
	TIF        string  // time in force, default "day"
	Extended   bool    // eligible outside regular hours
	ClientTag  string  // watcher attribution tag
}

// Validate checks the spec for structural errors before it reaches a broker.
func (s OrderSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.Qty <= 0 {
		return fmt.Errorf("qty must be greater than zero")
	}
	switch s.Type {
	case TypeMarket:
		if s.LimitPrice != 0 {
			return fmt.Errorf("limit price is not valid for market orders")
		}
	case TypeLimit:
		if s.LimitPrice <= 0 {
			return fmt.Errorf("limit price must be greater than zero")
		}
	case TypeStop:
		if s.StopPrice <= 0 {
			return fmt.Errorf("stop price must be greater than zero")
		}
	default:
		return fmt.Errorf("invalid order type %q", s.Type)
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("invalid order side %q", s.Side)
	}
	return nil
}

// PairSpec describes one OCA-linked take-profit/stop-loss exit pair. Filling
// one side cancels the other broker-side.
type PairSpec struct {
	Symbol    string
	Qty       int
	TPPrice   float64
	StopPrice float64
	TIF       string
	ClientTag string
}

// Validate checks the pair spec.
func (s PairSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.Qty <= 0 {
		return fmt.Errorf("qty must be greater than zero")
	}
	if s.TPPrice <= 0 {
		return fmt.Errorf("take-profit price must be greater than zero")
	}
	if s.StopPrice <= 0 {
		return fmt.Errorf("stop price must be greater than zero")
	}
	if s.TPPrice <= s.StopPrice {
		return fmt.Errorf("take-profit %.4f must be above stop %.4f", s.TPPrice, s.StopPrice)
	}
	return nil
}

// ReplaceSpec carries the mutable fields of an order replace request.
type ReplaceSpec struct {
	StopPrice  float64 // new stop price, 0 = unchanged
	LimitPrice float64 // new limit price, 0 = unchanged
	Qty        int     // new quantity, 0 = unchanged
}

// ---------------------------------------------------------------------------
// Broker events
// ---------------------------------------------------------------------------

// UpdateKind classifies an asynchronous order update from the broker.
type UpdateKind string

const (
	UpdateAcknowledged UpdateKind = "acknowledged"
	UpdateFilled       UpdateKind = "filled" // partial or full
	UpdateRejected     UpdateKind = "rejected"
	UpdateCancelled    UpdateKind = "cancelled"
)

// Well-known broker condition codes carried on rejects and cancels. These
// mirror the venue's child-order failure codes.
const (
	CodeRejected    = 201
	CodeCancelled   = 202
	CodeUnknownID   = 404
	CodeReplaceFail = 461
)

// OrderUpdate is one event on an order's event stream.
type OrderUpdate struct {
	Kind      UpdateKind
	FillQty   int     // shares in this fill event
	FillPrice float64 // average price of this fill event
	Code      int     // broker condition code for rejects/cancels
	At        time.Time
}

// ---------------------------------------------------------------------------
// Broker snapshots (reconciliation inputs)
// ---------------------------------------------------------------------------

// OrderSnapshot is the broker's view of one open (or recently closed) order.
type OrderSnapshot struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Status       string
	ClientTag    string
	Qty          float64
	FilledQty    float64
	RemainingQty float64
	StopPrice    float64
	LimitPrice   float64
}

// Remaining returns the unfilled quantity, preferring the broker-reported
// remaining figure when present.
func (o OrderSnapshot) Remaining() float64 {
	if o.RemainingQty > 0 {
		return o.RemainingQty
	}
	if rem := o.Qty - o.FilledQty; rem > 0 {
		return rem
	}
	return 0
}

// PositionSnapshot is the broker's view of one open position.
type PositionSnapshot struct {
	Symbol  string
	Account string
	Qty     float64
}

// ---------------------------------------------------------------------------
// Watcher configuration
// ---------------------------------------------------------------------------

// WatcherConfig is the immutable configuration of one breakout watcher. It is
// created by the command surface and owned exclusively by the watcher for its
// entire life.
type WatcherConfig struct {
	Symbol     string        `json:"symbol" yaml:"symbol"`
	Level      float64       `json:"level" yaml:"level"`     // breakout trigger level
	Qty        int           `json:"qty" yaml:"qty"`         // total entry quantity
	Entry      EntryStyle    `json:"entry" yaml:"entry"`     // market | limit_at_ask
	TakeProfit []float64     `json:"take_profits" yaml:"take_profits"` // 1-3 ascending levels
	LegQty     []int         `json:"leg_qtys,omitempty" yaml:"leg_qtys,omitempty"` // per-leg split, sums to Qty
	StopLoss   float64       `json:"stop_loss" yaml:"stop_loss"`
	// StopUpdates[i] is the stop price applied to later legs once leg i
	// fully fills. When empty, the completed leg's TP price is used.
	StopUpdates []float64     `json:"stop_updates,omitempty" yaml:"stop_updates,omitempty"`
	Session     SessionPolicy `json:"session" yaml:"session"`
	FastEntry   bool          `json:"fast_entry" yaml:"fast_entry"`
}

// Tag returns the client order tag that attributes broker orders to this
// watcher's breakout, e.g. "breakout:AAPL:187.5".
func (c WatcherConfig) Tag() string {
	return fmt.Sprintf("breakout:%s:%g", strings.ToUpper(c.Symbol), c.Level)
}

// TagPrefix is the client-tag namespace shared by all breakwatch orders.
// Reconciliation only inspects broker state carrying this prefix.
const TagPrefix = "breakout:"
