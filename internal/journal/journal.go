// Package journal appends the lifecycle event stream to a SQLite database,
// giving every state transition a durable audit trail that survives the
// process.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"breakwatch/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	watcher_id TEXT NOT NULL DEFAULT '',
	symbol     TEXT NOT NULL DEFAULT '',
	leg        INTEGER NOT NULL DEFAULT -1,
	fields     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_watcher ON events(watcher_id);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Journal is the append-only event store.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, log *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db, log: log.With("component", "journal")}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Append writes one event.
func (j *Journal) Append(ev events.Event) error {
	fields := "{}"
	if len(ev.Fields) > 0 {
		raw, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("encoding event fields: %w", err)
		}
		fields = string(raw)
	}
	_, err := j.db.Exec(
		`INSERT INTO events (at, kind, watcher_id, symbol, leg, fields) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.At.UTC().Format(time.RFC3339Nano), string(ev.Kind), ev.WatcherID, ev.Symbol, ev.Leg, fields,
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first.
func (j *Journal) Recent(limit int) ([]events.Event, error) {
	rows, err := j.db.Query(
		`SELECT at, kind, watcher_id, symbol, leg, fields FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByWatcher returns a watcher's events in append order.
func (j *Journal) ByWatcher(watcherID string) ([]events.Event, error) {
	rows, err := j.db.Query(
		`SELECT at, kind, watcher_id, symbol, leg, fields FROM events WHERE watcher_id = ? ORDER BY id`,
		watcherID)
	if err != nil {
		return nil, fmt.Errorf("querying watcher events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var (
			at, kind, watcherID, symbol, fields string
			leg                                 int
		)
		if err := rows.Scan(&at, &kind, &watcherID, &symbol, &leg, &fields); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev := events.Event{
			Kind:      events.Kind(kind),
			WatcherID: watcherID,
			Symbol:    symbol,
			Leg:       leg,
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		if fields != "" && fields != "{}" {
			_ = json.Unmarshal([]byte(fields), &ev.Fields)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Drain subscribes to the bus immediately and returns the pump that copies
// events into the journal until ctx is cancelled. The subscription exists
// before the pump runs, so events published during startup are recorded.
// Append errors are logged, not fatal; the live trading path never blocks
// on disk.
func (j *Journal) Drain(bus *events.Bus) func(ctx context.Context) error {
	id, ch := bus.Subscribe(1024)
	return func(ctx context.Context) error {
		defer bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				if err := j.Append(ev); err != nil {
					j.log.Warn("event append failed", "kind", ev.Kind, "error", err)
				}
			}
		}
	}
}
