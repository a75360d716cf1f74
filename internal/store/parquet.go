// Package store persists market data captured while watchers run. Bars go
// to Parquet files on disk, one file per symbol and trading day, so replay
// and post-trade analysis can read them back without the venue.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"breakwatch/internal/domain"
)

// BarRecord is the on-disk Parquet schema for minute bars.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// BarArchive writes and reads minute bars under a data directory.
// Layout: <dataDir>/bars/<SYMBOL>/<YYYY-MM-DD>.parquet
type BarArchive struct {
	dataDir string

	// Merging a day file is read-modify-write; one writer at a time.
	mu sync.Mutex
}

// NewBarArchive creates an archive rooted at dataDir.
func NewBarArchive(dataDir string) *BarArchive {
	return &BarArchive{dataDir: dataDir}
}

// RecordBars appends bars to their day files, deduplicating by timestamp.
// Re-recording an already archived bar replaces it.
func (a *BarArchive) RecordBars(bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	type key struct {
		symbol string
		day    string
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), day: b.Timestamp.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    strings.ToUpper(b.Symbol),
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}

	for k, records := range groups {
		path := a.barPath(k.symbol, k.day)
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s: %w", k.symbol, k.day, err)
		}
	}
	return nil
}

// ReadBars returns the archived bars for symbol between start and end,
// inclusive, in timestamp order.
func (a *BarArchive) ReadBars(symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for day := start.UTC().Truncate(24 * time.Hour); !day.After(end); day = day.Add(24 * time.Hour) {
		path := a.barPath(strings.ToUpper(symbol), day.Format("2006-01-02"))
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			continue // no file for this day
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Duration:  time.Minute,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    int64(r.Volume),
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// Symbols lists the symbols with archived bars.
func (a *BarArchive) Symbols() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.dataDir, "bars"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (a *BarArchive) barPath(symbol, day string) string {
	return filepath.Join(a.dataDir, "bars", symbol, day+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by (symbol, timestamp), preferring incoming
// records, and returns the result in timestamp order.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}
