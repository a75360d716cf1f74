package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"breakwatch/internal/broker"
	"breakwatch/internal/domain"
	"breakwatch/internal/events"
	"breakwatch/internal/feed"
	"breakwatch/internal/recon"
	"breakwatch/internal/trigger"
	"breakwatch/internal/watcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() watcher.Params {
	return watcher.Params{
		Bands: trigger.FastBands{
			ArmBand:     0.05,
			MaxDistance: 0.10,
			DecayWindow: time.Minute,
			SpreadLimit: 0.08,
		},
		QuoteMaxAge:  5 * time.Second,
		EntryTimeout: 2 * time.Second,
		FillGrace:    100 * time.Millisecond,
		TIF:          "day",
		PaperMode:    true,
	}
}

// newTestServer wires a server against a simulator broker and an idle feed.
// Watchers it creates stay in the watching state; the tests exercise the
// command surface, not the trading path.
func newTestServer(t *testing.T) (*httptest.Server, *broker.SimulatorPort, *watcher.Registry) {
	t.Helper()
	sim := broker.NewSimulatorPort()
	cf := feed.NewChannelFeed(8)
	registry := watcher.NewRegistry()
	monitor := recon.NewMonitor(sim, registry, time.Minute, false, events.Discard{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	start := func(cfg domain.WatcherConfig) (*watcher.Watcher, error) {
		wt := watcher.New(cfg, cf, sim, testParams(), events.Discard{}, discardLogger())
		go wt.Run(ctx)
		return wt, nil
	}

	srv := NewServer("127.0.0.1:0", registry, monitor, nil, nil, start, discardLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts, sim, registry
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func validConfig() map[string]any {
	return map[string]any{
		"symbol":       "test",
		"level":        2.00,
		"qty":          100,
		"entry":        "market",
		"take_profits": []float64{2.10, 2.20},
		"leg_qtys":     []int{70, 30},
		"stop_loss":    1.95,
	}
}

func TestCreateAndListWatchers(t *testing.T) {
	ts, _, registry := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/watchers", validConfig())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	snap := decodeBody[watcher.Snapshot](t, resp)
	if snap.ID == "" {
		t.Fatal("created watcher has empty id")
	}
	if snap.Symbol != "TEST" {
		t.Fatalf("symbol = %q, want TEST (normalized)", snap.Symbol)
	}
	if registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", registry.Len())
	}

	listResp, err := http.Get(ts.URL + "/api/v1/watchers")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	list := decodeBody[[]watcher.Snapshot](t, listResp)
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Fatalf("list = %+v", list)
	}

	oneResp, err := http.Get(ts.URL + "/api/v1/watchers/" + snap.ID)
	if err != nil {
		t.Fatalf("GET one: %v", err)
	}
	one := decodeBody[watcher.Snapshot](t, oneResp)
	if one.ID != snap.ID {
		t.Fatalf("got id %q, want %q", one.ID, snap.ID)
	}
}

func TestCreateWatcherRejectsInvalidConfig(t *testing.T) {
	ts, _, _ := newTestServer(t)

	cfg := validConfig()
	cfg["qty"] = 0
	resp := postJSON(t, ts.URL+"/api/v1/watchers", cfg)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	cfg = validConfig()
	cfg["stop_loss"] = 2.50 // above the level
	resp = postJSON(t, ts.URL+"/api/v1/watchers", cfg)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestCreateWatcherWithRatio(t *testing.T) {
	ts, _, _ := newTestServer(t)

	cfg := validConfig()
	delete(cfg, "leg_qtys")
	cfg["ratio"] = "60-40"
	resp := postJSON(t, ts.URL+"/api/v1/watchers", cfg)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	snap := decodeBody[watcher.Snapshot](t, resp)
	if len(snap.Config.LegQty) != 2 || snap.Config.LegQty[0] != 60 || snap.Config.LegQty[1] != 40 {
		t.Fatalf("leg qtys = %v, want [60 40]", snap.Config.LegQty)
	}
}

func TestCancelWatcher(t *testing.T) {
	ts, _, registry := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/watchers", validConfig())
	snap := decodeBody[watcher.Snapshot](t, resp)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/watchers/"+snap.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202", delResp.StatusCode)
	}

	wt, ok := registry.Get(snap.ID)
	if !ok {
		t.Fatal("watcher gone from registry before teardown")
	}
	select {
	case <-wt.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}

	// A second DELETE on a stopped watcher evicts it.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/watchers/"+snap.ID, nil)
	delResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE again: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("evict status = %d, want 200", delResp.StatusCode)
	}
	if registry.Len() != 0 {
		t.Fatalf("registry len = %d after evict, want 0", registry.Len())
	}

	getResp, err := http.Get(ts.URL + "/api/v1/watchers/" + snap.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d after evict, want 404", getResp.StatusCode)
	}
}

func TestReconEndpoints(t *testing.T) {
	ts, sim, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/recon/scan", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status = %d, want 200", resp.StatusCode)
	}
	report := decodeBody[recon.Report](t, resp)
	if !report.Clean() {
		t.Fatalf("report not clean: %+v", report)
	}

	// Plant an orphan exit: a tagged stop order with no position behind it.
	sim.SetPosition("TEST", 0)
	_, err := sim.Submit(context.Background(), domain.OrderSpec{
		Symbol: "TEST", Side: domain.SideSell, Type: domain.TypeStop,
		Qty: 30, StopPrice: 1.95, ClientTag: "breakout:TEST:2", TIF: "day",
	})
	if err != nil {
		t.Fatalf("planting orphan: %v", err)
	}

	resp = postJSON(t, ts.URL+"/api/v1/recon/scan", nil)
	report = decodeBody[recon.Report](t, resp)
	if len(report.Orphans) != 1 {
		t.Fatalf("orphans = %d, want 1", len(report.Orphans))
	}

	// The last report endpoint reflects the scan.
	lastResp, err := http.Get(ts.URL + "/api/v1/recon")
	if err != nil {
		t.Fatalf("GET recon: %v", err)
	}
	last := decodeBody[recon.Report](t, lastResp)
	if len(last.Orphans) != 1 {
		t.Fatalf("last report orphans = %d, want 1", len(last.Orphans))
	}
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("healthz = %v", body)
	}
}
