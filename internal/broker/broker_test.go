package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"breakwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func marketBuy(qty int) domain.OrderSpec {
	return domain.OrderSpec{
		Symbol:    "AAPL",
		Qty:       qty,
		Side:      domain.SideBuy,
		Type:      domain.TypeMarket,
		ClientTag: "breakout:AAPL:187.5:entry",
	}
}

func TestSimulatorSubmitAcksAndFills(t *testing.T) {
	p := NewSimulatorPort()
	ctx := context.Background()

	h, err := p.Submit(ctx, marketBuy(100))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if u := <-h.Events(); u.Kind != domain.UpdateAcknowledged {
		t.Fatalf("first update = %q, want acknowledged", u.Kind)
	}

	if err := p.Fill(h.ID(), 100, 2.05); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	u := <-h.Events()
	if u.Kind != domain.UpdateFilled || u.FillQty != 100 || u.FillPrice != 2.05 {
		t.Fatalf("fill update = %+v", u)
	}

	pos, err := p.Position(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 100 {
		t.Errorf("position = %v, want 100", pos)
	}
}

func TestSimulatorPairCrossCancel(t *testing.T) {
	p := NewSimulatorPort()
	ctx := context.Background()
	p.SetPosition("AAPL", 70)

	pair, err := p.SubmitPair(ctx, domain.PairSpec{
		Symbol: "AAPL", Qty: 70, TPPrice: 2.10, StopPrice: 1.95,
		ClientTag: "breakout:AAPL:2:leg0",
	})
	if err != nil {
		t.Fatalf("SubmitPair: %v", err)
	}
	<-pair.TP.Events() // acks
	<-pair.SL.Events()

	if err := p.Fill(pair.TP.ID(), 70, 2.10); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if u := <-pair.TP.Events(); u.Kind != domain.UpdateFilled {
		t.Fatalf("TP update = %q, want filled", u.Kind)
	}
	// OCA: completing the TP cancels the stop broker-side.
	u := <-pair.SL.Events()
	if u.Kind != domain.UpdateCancelled || u.Code != domain.CodeCancelled {
		t.Fatalf("SL update = %+v, want cancelled(202)", u)
	}

	if status, _ := p.StatusOf(pair.SL.ID()); status != "cancelled" {
		t.Errorf("SL status = %q, want cancelled", status)
	}
}

func TestSimulatorReplaceUpdatesStop(t *testing.T) {
	p := NewSimulatorPort()
	ctx := context.Background()

	pair, err := p.SubmitPair(ctx, domain.PairSpec{
		Symbol: "AAPL", Qty: 30, TPPrice: 2.20, StopPrice: 1.95,
	})
	if err != nil {
		t.Fatalf("SubmitPair: %v", err)
	}

	if err := p.Replace(ctx, pair.SL, domain.ReplaceSpec{StopPrice: 2.10}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if stop, _ := p.StopPriceOf(pair.SL.ID()); stop != 2.10 {
		t.Errorf("stop = %v, want 2.10", stop)
	}
}

func TestSimulatorRejectReplace(t *testing.T) {
	p := NewSimulatorPort()
	ctx := context.Background()

	pair, err := p.SubmitPair(ctx, domain.PairSpec{
		Symbol: "AAPL", Qty: 30, TPPrice: 2.20, StopPrice: 1.95,
	})
	if err != nil {
		t.Fatalf("SubmitPair: %v", err)
	}

	p.RejectReplace(pair.SL.ID())
	if err := p.Replace(ctx, pair.SL, domain.ReplaceSpec{StopPrice: 2.10}); err == nil {
		t.Fatal("expected scripted replace rejection")
	}
	// Order keeps its prior terms on failure.
	if stop, _ := p.StopPriceOf(pair.SL.ID()); stop != 1.95 {
		t.Errorf("stop = %v, want unchanged 1.95", stop)
	}
}

func TestSimulatorHeldAcks(t *testing.T) {
	p := NewSimulatorPort()
	ctx := context.Background()

	p.HoldAcks()
	h, err := p.Submit(ctx, marketBuy(10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case u := <-h.Events():
		t.Fatalf("unexpected update %+v before ReleaseAcks", u)
	default:
	}

	p.ReleaseAcks()
	if u := <-h.Events(); u.Kind != domain.UpdateAcknowledged {
		t.Fatalf("update = %q, want acknowledged", u.Kind)
	}
}

func TestSimulatorCancelIsIdempotentAfterFill(t *testing.T) {
	p := NewSimulatorPort()
	ctx := context.Background()

	h, err := p.Submit(ctx, marketBuy(10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-h.Events()
	if err := p.Fill(h.ID(), 10, 1.0); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	<-h.Events()

	if err := p.Cancel(ctx, h); err != nil {
		t.Fatalf("Cancel after fill should be a no-op, got %v", err)
	}
	select {
	case u := <-h.Events():
		t.Fatalf("unexpected update %+v after no-op cancel", u)
	default:
	}
}

func TestAlpacaPortName(t *testing.T) {
	p := NewAlpacaPort("key", "secret", "https://paper-api.alpaca.markets", 60, discardLogger())
	if got := p.Name(); got != "alpaca" {
		t.Errorf("Name() = %q, want %q", got, "alpaca")
	}
}

func TestAlpacaFillDelta(t *testing.T) {
	p := NewAlpacaPort("key", "secret", "", 60, discardLogger())

	if d := p.fillDelta("o1", 40); d != 40 {
		t.Errorf("first delta = %d, want 40", d)
	}
	if d := p.fillDelta("o1", 100); d != 60 {
		t.Errorf("second delta = %d, want 60", d)
	}
	// Duplicate cumulative report yields no new fill.
	if d := p.fillDelta("o1", 100); d != 0 {
		t.Errorf("duplicate delta = %d, want 0", d)
	}
}
