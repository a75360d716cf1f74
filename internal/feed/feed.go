// Package feed supplies closed bars and best bid/ask quotes for one symbol.
// The trigger evaluator consumes the 1-minute Bars stream for its slow
// confirmation path and the sub-minute FastBars stream for its fast path.
package feed

import (
	"context"
	"sync"

	"breakwatch/internal/domain"
)

// Feed is the market-data source for one watcher.
type Feed interface {
	// Bars yields closed 1-minute bars in strictly increasing time order.
	Bars() <-chan domain.Bar

	// FastBars yields the most recent sub-minute bars, best effort.
	FastBars() <-chan domain.Bar

	// LatestQuote returns the current best bid/ask, or nil when the venue
	// has none. Callers judge freshness against their own threshold.
	LatestQuote(ctx context.Context) (*domain.Quote, error)
}

// ---------------------------------------------------------------------------
// ChannelFeed — an in-memory Feed driven by the caller.
// ---------------------------------------------------------------------------

// ChannelFeed implements Feed over plain channels. Tests and replay tooling
// push bars and set quotes explicitly.
type ChannelFeed struct {
	bars     chan domain.Bar
	fastBars chan domain.Bar

	mu    sync.Mutex
	quote *domain.Quote
}

// NewChannelFeed creates a ChannelFeed with the given channel buffer size.
func NewChannelFeed(buf int) *ChannelFeed {
	return &ChannelFeed{
		bars:     make(chan domain.Bar, buf),
		fastBars: make(chan domain.Bar, buf),
	}
}

// Bars returns the closed-bar stream.
func (f *ChannelFeed) Bars() <-chan domain.Bar { return f.bars }

// FastBars returns the sub-minute bar stream.
func (f *ChannelFeed) FastBars() <-chan domain.Bar { return f.fastBars }

// LatestQuote returns the most recently set quote.
func (f *ChannelFeed) LatestQuote(_ context.Context) (*domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, nil
}

// PushBar delivers one closed bar.
func (f *ChannelFeed) PushBar(bar domain.Bar) { f.bars <- bar }

// PushFastBar delivers one sub-minute bar.
func (f *ChannelFeed) PushFastBar(bar domain.Bar) { f.fastBars <- bar }

// SetQuote replaces the current quote. A nil quote simulates a venue with no
// quote available.
func (f *ChannelFeed) SetQuote(q *domain.Quote) {
	f.mu.Lock()
	f.quote = q
	f.mu.Unlock()
}

// Close closes both bar streams.
func (f *ChannelFeed) Close() {
	close(f.bars)
	close(f.fastBars)
}
