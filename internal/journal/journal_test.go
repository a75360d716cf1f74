package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"breakwatch/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAppendAndQuery(t *testing.T) {
	j := openTestJournal(t)

	evs := []events.Event{
		events.New(events.KindWatcherStarted, "w-1", "TEST", map[string]any{"level": 2.0}),
		events.NewLeg(events.KindLegFilled, "w-1", "TEST", 0, map[string]any{"qty": 70}),
		events.New(events.KindWatcherStarted, "w-2", "OTHR", nil),
	}
	for _, ev := range evs {
		if err := j.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := j.ByWatcher("w-1")
	if err != nil {
		t.Fatalf("ByWatcher: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ByWatcher returned %d events, want 2", len(got))
	}
	if got[0].Kind != events.KindWatcherStarted || got[1].Kind != events.KindLegFilled {
		t.Fatalf("unexpected order: %s, %s", got[0].Kind, got[1].Kind)
	}
	if got[1].Leg != 0 {
		t.Fatalf("leg = %d, want 0", got[1].Leg)
	}
	if qty, ok := got[1].Fields["qty"].(float64); !ok || qty != 70 {
		t.Fatalf("fields qty = %v", got[1].Fields["qty"])
	}
	if got[0].At.IsZero() || got[0].At.Location() != time.UTC {
		t.Fatalf("timestamp not stored as UTC: %v", got[0].At)
	}

	recent, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(recent))
	}
	if recent[0].WatcherID != "w-2" {
		t.Fatalf("Recent[0].WatcherID = %q, want w-2 (newest first)", recent[0].WatcherID)
	}
}

func TestJournalDrainsBus(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewBus()

	// The subscription is live as soon as Drain returns, so an event
	// published before the pump goroutine is scheduled is still recorded.
	pump := j.Drain(bus)
	bus.Publish(events.New(events.KindTriggerConfirmed, "w-9", "TEST", map[string]any{"price": 2.03}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pump(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := j.ByWatcher("w-9")
		if err != nil {
			t.Fatalf("ByWatcher: %v", err)
		}
		if len(got) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never journaled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}
