package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"breakwatch/internal/domain"
	"breakwatch/internal/util"
)

// Compile-time interface check.
var _ Port = (*AlpacaPort)(nil)

// AlpacaPort implements the Port interface against the Alpaca trading API.
// Trade updates arrive on a single account-wide stream and are dispatched to
// the per-order Handles registered at submit time.
type AlpacaPort struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	mu         sync.Mutex
	handles    map[string]*Handle // broker order id → handle
	lastFilled map[string]int64   // broker order id → cumulative filled shares seen
}

// NewAlpacaPort creates an AlpacaPort configured with the given credentials
// and API endpoint. ratePerMin bounds mutation requests to the venue.
func NewAlpacaPort(apiKey, apiSecret, baseURL string, ratePerMin int, log *slog.Logger) *AlpacaPort {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}

	return &AlpacaPort{
		client:     alpaca.NewClient(opts),
		limiter:    util.NewRateLimiter(ratePerMin),
		log:        log.With("broker", "alpaca"),
		handles:    make(map[string]*Handle),
		lastFilled: make(map[string]int64),
	}
}

// Name returns "alpaca".
func (p *AlpacaPort) Name() string { return "alpaca" }

// Run consumes the account trade-update stream and dispatches updates to the
// registered order handles. It blocks until ctx is cancelled.
func (p *AlpacaPort) Run(ctx context.Context) error {
	return p.client.StreamTradeUpdates(ctx, p.onTradeUpdate, alpaca.StreamTradeUpdatesRequest{})
}

// Submit sends a single order to Alpaca and returns its Handle. The submit
// response acknowledges the order immediately when the venue accepts it.
func (p *AlpacaPort) Submit(ctx context.Context, spec domain.OrderSpec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating order: %w", err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(spec.Symbol),
		Qty:           qtyPtr(spec.Qty),
		Side:          alpaca.Side(spec.Side),
		TimeInForce:   timeInForce(spec.TIF),
		ClientOrderID: spec.ClientTag,
		ExtendedHours: spec.Extended,
	}
	switch spec.Type {
	case domain.TypeMarket:
		req.Type = alpaca.Market
	case domain.TypeLimit:
		req.Type = alpaca.Limit
		req.LimitPrice = pricePtr(spec.LimitPrice)
	case domain.TypeStop:
		req.Type = alpaca.Stop
		req.StopPrice = pricePtr(spec.StopPrice)
	}

	order, err := p.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("placing order for %s: %w", spec.Symbol, err)
	}

	h := p.register(order.ID, spec.ClientTag)
	p.ackIfAccepted(h, string(order.Status))
	return h, nil
}

// SubmitPair places one OCO sell order (TP limit primary, stop-loss leg) and
// registers a Handle per side. The venue cancel-links the two sides.
func (p *AlpacaPort) SubmitPair(ctx context.Context, spec domain.PairSpec) (*Pair, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating exit pair: %w", err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(spec.Symbol),
		Qty:           qtyPtr(spec.Qty),
		Side:          alpaca.Sell,
		Type:          alpaca.Limit,
		TimeInForce:   timeInForce(spec.TIF),
		LimitPrice:    pricePtr(spec.TPPrice),
		ClientOrderID: spec.ClientTag,
		OrderClass:    alpaca.OCO,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: pricePtr(spec.TPPrice)},
		StopLoss:      &alpaca.StopLoss{StopPrice: pricePtr(spec.StopPrice)},
	}

	order, err := p.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("placing OCO pair for %s: %w", spec.Symbol, err)
	}
	if len(order.Legs) == 0 {
		return nil, fmt.Errorf("OCO response for %s carried no stop leg", spec.Symbol)
	}

	tp := p.register(order.ID, spec.ClientTag)
	sl := p.register(order.Legs[0].ID, spec.ClientTag)
	p.ackIfAccepted(tp, string(order.Status))
	p.ackIfAccepted(sl, string(order.Legs[0].Status))
	return &Pair{TP: tp, SL: sl}, nil
}

// Replace amends an open order's prices or quantity.
func (p *AlpacaPort) Replace(ctx context.Context, h *Handle, rep domain.ReplaceSpec) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	req := alpaca.ReplaceOrderRequest{}
	if rep.StopPrice > 0 {
		req.StopPrice = pricePtr(rep.StopPrice)
	}
	if rep.LimitPrice > 0 {
		req.LimitPrice = pricePtr(rep.LimitPrice)
	}
	if rep.Qty > 0 {
		req.Qty = qtyPtr(rep.Qty)
	}

	replaced, err := p.client.ReplaceOrder(h.ID(), req)
	if err != nil {
		return fmt.Errorf("replacing order %s: %w", h.ID(), err)
	}

	// A replace retires the old id and assigns a new one; re-key the handle
	// so stream updates keep reaching it.
	p.rekey(h, replaced.ID)
	return nil
}

// Cancel requests cancellation of an open order.
func (p *AlpacaPort) Cancel(ctx context.Context, h *Handle) error {
	return p.CancelByID(ctx, h.ID())
}

// CancelByID cancels an order by its broker id.
func (p *AlpacaPort) CancelByID(ctx context.Context, orderID string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	// Cancellation is idempotent at the venue; transient failures retry.
	err := util.Retry(ctx, 3, 200*time.Millisecond, func() error {
		return p.client.CancelOrder(orderID)
	})
	if err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// OpenOrders returns the broker's view of all open orders, nested legs
// flattened.
func (p *AlpacaPort) OpenOrders(ctx context.Context) ([]domain.OrderSnapshot, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var orders []alpaca.Order
	err := util.Retry(ctx, 3, 200*time.Millisecond, func() error {
		var qerr error
		orders, qerr = p.client.GetOrders(alpaca.GetOrdersRequest{
			Status: "open",
			Nested: true,
		})
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("listing open orders: %w", err)
	}

	var snaps []domain.OrderSnapshot
	for i := range orders {
		snaps = append(snaps, orderSnapshot(&orders[i]))
		for j := range orders[i].Legs {
			snaps = append(snaps, orderSnapshot(&orders[i].Legs[j]))
		}
	}
	return snaps, nil
}

// Position returns the open position quantity for a symbol, 0 when flat.
func (p *AlpacaPort) Position(ctx context.Context, symbol string) (float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var positions []alpaca.Position
	err := util.Retry(ctx, 3, 200*time.Millisecond, func() error {
		var qerr error
		positions, qerr = p.client.GetPositions()
		return qerr
	})
	if err != nil {
		return 0, fmt.Errorf("listing positions: %w", err)
	}
	symbol = strings.ToUpper(symbol)
	for i := range positions {
		if positions[i].Symbol == symbol {
			return positions[i].Qty.InexactFloat64(), nil
		}
	}
	return 0, nil
}

// ---------------------------------------------------------------------------
// Trade update dispatch
// ---------------------------------------------------------------------------

func (p *AlpacaPort) onTradeUpdate(tu alpaca.TradeUpdate) {
	p.mu.Lock()
	h, ok := p.handles[tu.Order.ID]
	p.mu.Unlock()
	if !ok {
		// Not one of ours (or submitted by another process); recon owns it.
		return
	}

	switch tu.Event {
	case "new", "accepted", "pending_new":
		h.ack(domain.OrderUpdate{Kind: domain.UpdateAcknowledged, At: tu.At})
	case "fill", "partial_fill":
		delta := p.fillDelta(tu.Order.ID, tu.Order.FilledQty.IntPart())
		if delta <= 0 {
			return
		}
		price := 0.0
		if tu.Price != nil {
			price = tu.Price.InexactFloat64()
		} else if tu.Order.FilledAvgPrice != nil {
			price = tu.Order.FilledAvgPrice.InexactFloat64()
		}
		h.push(domain.OrderUpdate{
			Kind:      domain.UpdateFilled,
			FillQty:   int(delta),
			FillPrice: price,
			At:        tu.At,
		})
	case "canceled", "expired", "done_for_day":
		h.push(domain.OrderUpdate{Kind: domain.UpdateCancelled, Code: domain.CodeCancelled, At: tu.At})
	case "rejected":
		h.push(domain.OrderUpdate{Kind: domain.UpdateRejected, Code: domain.CodeRejected, At: tu.At})
	default:
		p.log.Debug("unhandled trade update", "event", tu.Event, "orderID", tu.Order.ID)
	}
}

func (p *AlpacaPort) register(orderID, clientTag string) *Handle {
	h := newHandle(orderID, clientTag)
	p.mu.Lock()
	p.handles[orderID] = h
	p.mu.Unlock()
	return h
}

func (p *AlpacaPort) rekey(h *Handle, newID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, h.id)
	if filled, ok := p.lastFilled[h.id]; ok {
		delete(p.lastFilled, h.id)
		p.lastFilled[newID] = filled
	}
	h.id = newID
	p.handles[newID] = h
}

// fillDelta converts Alpaca's cumulative filled quantity into the shares
// filled by this event.
func (p *AlpacaPort) fillDelta(orderID string, cumulative int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	delta := cumulative - p.lastFilled[orderID]
	if delta > 0 {
		p.lastFilled[orderID] = cumulative
	}
	return delta
}

func (p *AlpacaPort) ackIfAccepted(h *Handle, status string) {
	switch strings.ToLower(status) {
	case "new", "accepted", "partially_filled", "filled":
		h.ack(domain.OrderUpdate{Kind: domain.UpdateAcknowledged})
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func orderSnapshot(o *alpaca.Order) domain.OrderSnapshot {
	snap := domain.OrderSnapshot{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      domain.OrderSide(o.Side),
		Type:      domain.OrderType(o.Type),
		Status:    string(o.Status),
		ClientTag: o.ClientOrderID,
		FilledQty: o.FilledQty.InexactFloat64(),
	}
	if o.Qty != nil {
		snap.Qty = o.Qty.InexactFloat64()
	}
	if o.StopPrice != nil {
		snap.StopPrice = o.StopPrice.InexactFloat64()
	}
	if o.LimitPrice != nil {
		snap.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	snap.RemainingQty = snap.Qty - snap.FilledQty
	return snap
}

func qtyPtr(qty int) *decimal.Decimal {
	d := decimal.NewFromInt(int64(qty))
	return &d
}

func pricePtr(price float64) *decimal.Decimal {
	d := decimal.NewFromFloat(price)
	return &d
}

func timeInForce(tif string) alpaca.TimeInForce {
	switch strings.ToLower(tif) {
	case "", "day":
		return alpaca.Day
	case "gtc":
		return alpaca.GTC
	default:
		return alpaca.TimeInForce(strings.ToLower(tif))
	}
}
