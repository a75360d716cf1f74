package store

import (
	"testing"
	"time"

	"breakwatch/internal/domain"
)

func bar(symbol string, ts time.Time, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Duration:  time.Minute,
		Open:      close - 0.01,
		High:      close + 0.01,
		Low:       close - 0.02,
		Close:     close,
		Volume:    1000,
	}
}

func TestBarArchiveRoundTrip(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	bars := []domain.Bar{
		bar("TEST", t0, 2.00),
		bar("TEST", t0.Add(time.Minute), 2.02),
		bar("OTHR", t0, 9.50),
	}
	if err := a.RecordBars(bars); err != nil {
		t.Fatalf("RecordBars: %v", err)
	}

	got, err := a.ReadBars("TEST", t0, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d bars, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(t0) || got[0].Close != 2.00 {
		t.Fatalf("first bar = %+v", got[0])
	}
	if got[1].Close != 2.02 {
		t.Fatalf("second bar close = %v, want 2.02", got[1].Close)
	}

	syms, err := a.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(syms) != 2 {
		t.Fatalf("Symbols = %v, want 2 entries", syms)
	}
}

func TestBarArchiveMergeReplacesDuplicates(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	if err := a.RecordBars([]domain.Bar{bar("TEST", t0, 2.00)}); err != nil {
		t.Fatalf("RecordBars: %v", err)
	}
	// Same minute recorded again with a revised close, plus a new bar.
	if err := a.RecordBars([]domain.Bar{
		bar("TEST", t0, 2.05),
		bar("TEST", t0.Add(time.Minute), 2.10),
	}); err != nil {
		t.Fatalf("RecordBars merge: %v", err)
	}

	got, err := a.ReadBars("TEST", t0.Add(-time.Hour), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d bars, want 2 after dedupe", len(got))
	}
	if got[0].Close != 2.05 {
		t.Fatalf("duplicate bar not replaced: close = %v", got[0].Close)
	}
}

func TestBarArchiveSpansDays(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	d1 := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 3, 0, 1, 0, 0, time.UTC)

	if err := a.RecordBars([]domain.Bar{bar("TEST", d1, 2.00), bar("TEST", d2, 2.01)}); err != nil {
		t.Fatalf("RecordBars: %v", err)
	}
	got, err := a.ReadBars("TEST", d1, d2.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d bars across days, want 2", len(got))
	}
}

func TestBarArchiveEmptyRange(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	got, err := a.ReadBars("NONE", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("read %d bars from empty archive", len(got))
	}
}
