package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"breakwatch/internal/domain"
	"breakwatch/internal/util"
)

// Recorder archives closed bars as they arrive. Implemented by the parquet
// bar store; a nil Recorder disables archiving.
type Recorder interface {
	RecordBars(bars []domain.Bar) error
}

// AlpacaFeed polls the Alpaca market-data REST API for one symbol. Closed
// 1-minute bars go to Bars; the latest minute bar in progress goes to
// FastBars so the fast trigger path can react inside the minute.
type AlpacaFeed struct {
	client   *md.Client
	symbol   string
	limiter  *util.RateLimiter
	recorder Recorder
	log      *slog.Logger

	bars     chan domain.Bar
	fastBars chan domain.Bar

	lastClosed time.Time
	lastFast   time.Time
}

var _ Feed = (*AlpacaFeed)(nil)

// NewAlpacaFeed creates a polling feed for symbol. ratePerMin bounds the
// request rate against the data API; recorder may be nil.
func NewAlpacaFeed(apiKey, apiSecret, dataURL, symbol string, ratePerMin int, recorder Recorder, log *slog.Logger) *AlpacaFeed {
	client := md.NewClient(md.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   dataURL,
	})
	return &AlpacaFeed{
		client:   client,
		symbol:   symbol,
		limiter:  util.NewRateLimiter(ratePerMin),
		recorder: recorder,
		log:      log.With("component", "feed", "symbol", symbol),
		bars:     make(chan domain.Bar, 16),
		fastBars: make(chan domain.Bar, 16),
	}
}

// Bars returns the closed 1-minute bar stream.
func (f *AlpacaFeed) Bars() <-chan domain.Bar { return f.bars }

// FastBars returns the in-progress minute bar stream.
func (f *AlpacaFeed) FastBars() <-chan domain.Bar { return f.fastBars }

// LatestQuote fetches the current best bid/ask.
func (f *AlpacaFeed) LatestQuote(ctx context.Context) (*domain.Quote, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q, err := f.client.GetLatestQuote(f.symbol, md.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("get latest quote %s: %w", f.symbol, err)
	}
	if q == nil || (q.BidPrice == 0 && q.AskPrice == 0) {
		return nil, nil
	}
	return &domain.Quote{
		Symbol:    f.symbol,
		Bid:       q.BidPrice,
		Ask:       q.AskPrice,
		BidSize:   float64(q.BidSize),
		AskSize:   float64(q.AskSize),
		Timestamp: q.Timestamp,
	}, nil
}

// Run polls until ctx is cancelled. Closed bars are fetched on a slow cadence
// and the in-progress bar on a fast one.
func (f *AlpacaFeed) Run(ctx context.Context) error {
	f.lastClosed = time.Now().Add(-2 * time.Minute).Truncate(time.Minute)

	slowTick := time.NewTicker(5 * time.Second)
	defer slowTick.Stop()
	fastTick := time.NewTicker(time.Second)
	defer fastTick.Stop()

	f.log.Info("feed started")
	for {
		select {
		case <-ctx.Done():
			close(f.bars)
			close(f.fastBars)
			return ctx.Err()
		case <-slowTick.C:
			if err := f.pollClosed(ctx); err != nil && ctx.Err() == nil {
				f.log.Warn("closed bar poll failed", "error", err)
			}
		case <-fastTick.C:
			if err := f.pollFast(ctx); err != nil && ctx.Err() == nil {
				f.log.Warn("latest bar poll failed", "error", err)
			}
		}
	}
}

// pollClosed fetches 1-minute bars since the last closed bar and emits the
// ones whose minute has fully elapsed.
func (f *AlpacaFeed) pollClosed(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := f.client.GetBars(f.symbol, md.GetBarsRequest{
		TimeFrame: md.OneMin,
		Start:     f.lastClosed.Add(time.Minute),
	})
	if err != nil {
		return fmt.Errorf("get bars %s: %w", f.symbol, err)
	}
	cutoff := time.Now().Add(-time.Minute)
	for _, b := range raw {
		if !b.Timestamp.After(f.lastClosed) {
			continue
		}
		if b.Timestamp.After(cutoff) {
			break // minute still in progress
		}
		bar := f.toDomain(b)
		if f.recorder != nil {
			if err := f.recorder.RecordBars([]domain.Bar{bar}); err != nil {
				f.log.Warn("bar archive failed", "error", err)
			}
		}
		select {
		case f.bars <- bar:
			f.lastClosed = b.Timestamp
		default:
			f.log.Warn("bar channel full, dropping", "timestamp", b.Timestamp)
			f.lastClosed = b.Timestamp
		}
	}
	return nil
}

// pollFast fetches the latest minute bar. The bar in progress keeps the same
// timestamp while its high and close move, so every poll is emitted and the
// trigger evaluator dedupes through its single-fire claim.
func (f *AlpacaFeed) pollFast(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	b, err := f.client.GetLatestBar(f.symbol, md.GetLatestBarRequest{})
	if err != nil {
		return fmt.Errorf("get latest bar %s: %w", f.symbol, err)
	}
	if b == nil || b.Timestamp.Before(f.lastFast) {
		return nil
	}
	f.lastFast = b.Timestamp
	select {
	case f.fastBars <- f.toDomain(*b):
	default:
	}
	return nil
}

func (f *AlpacaFeed) toDomain(b md.Bar) domain.Bar {
	return domain.Bar{
		Symbol:    f.symbol,
		Timestamp: b.Timestamp,
		Duration:  time.Minute,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    int64(b.Volume),
	}
}
