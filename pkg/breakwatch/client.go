// Package breakwatch provides a Go SDK for the breakwatch daemon API.
package breakwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// WatcherRequest creates one breakout watcher. Either LegQty or Ratio splits
// the exit ladder; when both are empty the server applies its default split.
type WatcherRequest struct {
	Symbol      string    `json:"symbol"`
	Level       float64   `json:"level"`
	Qty         int       `json:"qty"`
	Entry       string    `json:"entry,omitempty"` // market | limit_at_ask
	TakeProfit  []float64 `json:"take_profits"`
	LegQty      []int     `json:"leg_qtys,omitempty"`
	Ratio       string    `json:"ratio,omitempty"` // e.g. "70-30"
	StopLoss    float64   `json:"stop_loss"`
	StopUpdates []float64 `json:"stop_updates,omitempty"`
	Session     string    `json:"session,omitempty"`
	FastEntry   bool      `json:"fast_entry,omitempty"`
}

// Watcher is the server's view of one watcher.
type Watcher struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	State      string          `json:"state"`
	Config     json.RawMessage `json:"config"`
	EntryQty   int             `json:"entry_qty,omitempty"`
	EntryPrice float64         `json:"entry_price,omitempty"`
	FailReason string          `json:"fail_reason,omitempty"`
	Ladder     json.RawMessage `json:"ladder,omitempty"`
}

// Orphan is an exit order with no position behind it.
type Orphan struct {
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Type    string  `json:"type"`
	Qty     float64 `json:"qty"`
}

// Gap is a position with less resting stop coverage than its size.
type Gap struct {
	Symbol      string  `json:"symbol"`
	PositionQty float64 `json:"position_qty"`
	CoveredQty  float64 `json:"covered_qty"`
}

// ReconReport is the result of one reconciliation scan.
type ReconReport struct {
	At      time.Time `json:"at"`
	Orphans []Orphan  `json:"orphans,omitempty"`
	Gaps    []Gap     `json:"gaps,omitempty"`
}

// Clean reports whether the scan found nothing.
func (r ReconReport) Clean() bool { return len(r.Orphans) == 0 && len(r.Gaps) == 0 }

// Event is one entry in the lifecycle event stream.
type Event struct {
	Kind      string         `json:"kind"`
	WatcherID string         `json:"watcher_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Leg       int            `json:"leg"`
	At        time.Time      `json:"at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("breakwatch api: %d: %s", e.StatusCode, e.Message)
}

// Client talks to a breakwatch daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at baseURL, e.g.
// "http://localhost:8089".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithHTTP creates a client using the given http.Client.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: hc}
}

// CreateWatcher starts a new breakout watcher.
func (c *Client) CreateWatcher(ctx context.Context, req WatcherRequest) (Watcher, error) {
	return doJSON[Watcher](ctx, c, http.MethodPost, "/api/v1/watchers", req)
}

// ListWatchers returns all known watchers.
func (c *Client) ListWatchers(ctx context.Context) ([]Watcher, error) {
	return doJSON[[]Watcher](ctx, c, http.MethodGet, "/api/v1/watchers", nil)
}

// GetWatcher returns one watcher by id.
func (c *Client) GetWatcher(ctx context.Context, id string) (Watcher, error) {
	return doJSON[Watcher](ctx, c, http.MethodGet, "/api/v1/watchers/"+url.PathEscape(id), nil)
}

// CancelWatcher requests a cooperative stop. Calling it again on a stopped
// watcher removes it from the daemon's registry.
func (c *Client) CancelWatcher(ctx context.Context, id string) (Watcher, error) {
	return doJSON[Watcher](ctx, c, http.MethodDelete, "/api/v1/watchers/"+url.PathEscape(id), nil)
}

// ReconReport returns the latest reconciliation report without scanning.
func (c *Client) ReconReport(ctx context.Context) (ReconReport, error) {
	return doJSON[ReconReport](ctx, c, http.MethodGet, "/api/v1/recon", nil)
}

// ReconScan runs a reconciliation scan and returns the fresh report.
func (c *Client) ReconScan(ctx context.Context) (ReconReport, error) {
	return doJSON[ReconReport](ctx, c, http.MethodPost, "/api/v1/recon/scan", nil)
}

// Events returns recent lifecycle events, newest first. A non-empty
// watcherID filters to one watcher in append order.
func (c *Client) Events(ctx context.Context, watcherID string, limit int) ([]Event, error) {
	path := "/api/v1/events"
	q := url.Values{}
	if watcherID != "" {
		q.Set("watcher", watcherID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return doJSON[[]Event](ctx, c, http.MethodGet, path, nil)
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	_, err := doJSON[map[string]string](ctx, c, http.MethodGet, "/healthz", nil)
	return err
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return zero, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return zero, &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
