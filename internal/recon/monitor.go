package recon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"breakwatch/internal/broker"
	"breakwatch/internal/domain"
	"breakwatch/internal/events"
	"breakwatch/internal/watcher"
)

// Monitor runs scans on a timer, independent of any single watcher. Findings
// are reported; remediation happens only under the explicit auto-cancel
// policy, and then only for orphans this system's tag owns.
type Monitor struct {
	port     broker.Port
	registry *watcher.Registry
	sink     events.Sink
	log      *slog.Logger

	interval   time.Duration
	autoCancel bool

	// Periodic scans, on-demand scans, and report reads come from
	// different goroutines.
	mu         sync.Mutex
	lastReport Report
}

// NewMonitor builds a reconciliation monitor over the shared broker port and
// watcher registry.
func NewMonitor(port broker.Port, registry *watcher.Registry, interval time.Duration, autoCancel bool, sink events.Sink, log *slog.Logger) *Monitor {
	return &Monitor{
		port:       port,
		registry:   registry,
		sink:       sink,
		log:        log.With("component", "recon"),
		interval:   interval,
		autoCancel: autoCancel,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info("reconciliation monitor started", "interval", m.interval, "auto_cancel", m.autoCancel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Scan(ctx); err != nil {
				m.log.Warn("scan failed", "error", err)
			}
		}
	}
}

// Scan fetches broker state, reconciles it against tracked ladders, and
// reports the findings. It is safe to call concurrently with live fills: it
// reads ladder snapshots, never leg bookkeeping.
func (m *Monitor) Scan(ctx context.Context) (Report, error) {
	orders, err := m.port.OpenOrders(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("open orders: %w", err)
	}

	positions, err := m.positions(ctx, orders)
	if err != nil {
		return Report{}, err
	}

	report := Reconcile(positions, orders)
	m.publish(report)

	if m.autoCancel {
		for _, orphan := range report.Orphans {
			if err := m.port.CancelByID(ctx, orphan.OrderID); err != nil {
				m.log.Warn("orphan cancel failed", "order_id", orphan.OrderID, "error", err)
				continue
			}
			m.log.Info("orphan cancelled", "order_id", orphan.OrderID, "symbol", orphan.Symbol)
		}
	}

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()
	return report, nil
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// positions fetches the broker position for every symbol the scan touches:
// symbols with tagged open orders plus symbols with an active ladder.
func (m *Monitor) positions(ctx context.Context, orders []domain.OrderSnapshot) ([]domain.PositionSnapshot, error) {
	symbols := make(map[string]struct{})
	for _, o := range orders {
		if strings.HasPrefix(o.ClientTag, domain.TagPrefix) {
			symbols[strings.ToUpper(o.Symbol)] = struct{}{}
		}
	}
	for _, ls := range m.registry.Ladders() {
		if !ls.Done {
			symbols[strings.ToUpper(ls.Symbol)] = struct{}{}
		}
	}

	out := make([]domain.PositionSnapshot, 0, len(symbols))
	for symbol := range symbols {
		qty, err := m.port.Position(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", symbol, err)
		}
		out = append(out, domain.PositionSnapshot{Symbol: symbol, Qty: qty})
	}
	return out, nil
}

func (m *Monitor) publish(report Report) {
	for _, orphan := range report.Orphans {
		m.sink.Publish(events.New(events.KindOrphanDetected, "", orphan.Symbol, map[string]any{
			"order_id": orphan.OrderID, "qty": orphan.Qty, "type": string(orphan.Type),
		}))
		m.log.Warn("orphan exit detected", "order_id", orphan.OrderID, "symbol", orphan.Symbol, "qty", orphan.Qty)
	}
	for _, gap := range report.Gaps {
		m.sink.Publish(events.New(events.KindProtectionGap, "", gap.Symbol, map[string]any{
			"position_qty": gap.PositionQty, "covered_qty": gap.CoveredQty, "uncovered": gap.Uncovered(),
		}))
		m.log.Error("protection gap detected", "symbol", gap.Symbol,
			"position_qty", gap.PositionQty, "covered_qty", gap.CoveredQty)
	}
	if report.Clean() {
		m.sink.Publish(events.New(events.KindReconClean, "", "", nil))
	}
}
