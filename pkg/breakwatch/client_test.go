package breakwatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateWatcherRoundTrip(t *testing.T) {
	var gotPath, gotMethod string
	var gotReq WatcherRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Watcher{ID: "w-1", Symbol: "TEST", State: "watching"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	wt, err := c.CreateWatcher(context.Background(), WatcherRequest{
		Symbol:     "test",
		Level:      2.00,
		Qty:        100,
		TakeProfit: []float64{2.10, 2.20},
		Ratio:      "70-30",
		StopLoss:   1.95,
	})
	if err != nil {
		t.Fatalf("CreateWatcher: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/watchers" {
		t.Fatalf("request was %s %s", gotMethod, gotPath)
	}
	if gotReq.Ratio != "70-30" || gotReq.Qty != 100 {
		t.Fatalf("server saw request %+v", gotReq)
	}
	if wt.ID != "w-1" || wt.State != "watching" {
		t.Fatalf("watcher = %+v", wt)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "qty 0 must be positive", http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.CreateWatcher(context.Background(), WatcherRequest{Symbol: "TEST"})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "qty 0 must be positive" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestEventsQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("watcher") != "w-9" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Event{{Kind: "trigger_confirmed", WatcherID: "w-9", Leg: -1}})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	evs, err := c.Events(context.Background(), "w-9", 5)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != "trigger_confirmed" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestReconScan(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/recon/scan" {
			t.Errorf("request was %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ReconReport{
			Orphans: []Orphan{{OrderID: "o-1", Symbol: "TEST", Qty: 30}},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	report, err := c.ReconScan(context.Background())
	if err != nil {
		t.Fatalf("ReconScan: %v", err)
	}
	if report.Clean() || len(report.Orphans) != 1 {
		t.Fatalf("report = %+v", report)
	}
}
