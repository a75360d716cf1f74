// Package metrics exposes Prometheus counters for the watcher lifecycle,
// served at /metrics in the Prometheus text exposition format.
//
// Primary series:
//   - breakwatch_triggers_total{path}        – trigger outcomes (confirmed|fast|rejected)
//   - breakwatch_entries_total{result}       – entry orders by result (filled|failed)
//   - breakwatch_leg_fills_total{side}       – exit leg fills (tp|sl|emergency)
//   - breakwatch_reprices_total{result}      – stop replaces (applied|skipped)
//   - breakwatch_incidents_total             – broker incidents entering recovery
//   - breakwatch_invariant_violations_total  – fill overshoots surfaced
//   - breakwatch_recon_findings_total{class} – reconciliation findings (orphan|gap)
//   - breakwatch_active_watchers             – currently tracked watchers (gauge)
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"breakwatch/internal/events"
)

var (
	mtxTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_triggers_total",
			Help: "Trigger outcomes",
		},
		[]string{"path"},
	)

	mtxEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_entries_total",
			Help: "Entry orders by result",
		},
		[]string{"result"},
	)

	mtxLegFills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_leg_fills_total",
			Help: "Exit leg fills by side",
		},
		[]string{"side"},
	)

	mtxReprices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_reprices_total",
			Help: "Stop replaces by result",
		},
		[]string{"result"},
	)

	mtxIncidents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_incidents_total",
			Help: "Broker incidents entering recovery",
		},
	)

	mtxInvariants = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_invariant_violations_total",
			Help: "Fill overshoots surfaced, never clamped",
		},
	)

	mtxReconFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_recon_findings_total",
			Help: "Reconciliation findings by class",
		},
		[]string{"class"},
	)

	mtxActiveWatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakwatch_active_watchers",
			Help: "Currently tracked watchers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTriggers,
		mtxEntries,
		mtxLegFills,
		mtxReprices,
		mtxIncidents,
		mtxInvariants,
		mtxReconFindings,
		mtxActiveWatchers,
	)
}

// Collector drains the event bus into the Prometheus series above.
type Collector struct {
	bus *events.Bus
}

// NewCollector subscribes the metrics series to the bus.
func NewCollector(bus *events.Bus) *Collector {
	return &Collector{bus: bus}
}

// Run consumes events until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	id, ch := c.bus.Subscribe(256)
	defer c.bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			Observe(ev)
		}
	}
}

// Observe updates the series for one event.
func Observe(ev events.Event) {
	switch ev.Kind {
	case events.KindWatcherStarted:
		mtxActiveWatchers.Inc()
	case events.KindWatcherStopped:
		mtxActiveWatchers.Dec()
	case events.KindTriggerConfirmed:
		mtxTriggers.WithLabelValues("confirmed").Inc()
	case events.KindFastTriggered:
		mtxTriggers.WithLabelValues("fast").Inc()
	case events.KindTriggerRejected:
		mtxTriggers.WithLabelValues("rejected").Inc()
	case events.KindEntryFilled:
		mtxEntries.WithLabelValues("filled").Inc()
	case events.KindEntryFailed:
		mtxEntries.WithLabelValues("failed").Inc()
	case events.KindLegFilled:
		side, _ := ev.Fields["side"].(string)
		if side == "" {
			side = "unknown"
		}
		mtxLegFills.WithLabelValues(side).Inc()
	case events.KindRepriceApplied:
		mtxReprices.WithLabelValues("applied").Inc()
	case events.KindRepriceSkipped:
		mtxReprices.WithLabelValues("skipped").Inc()
	case events.KindIncident:
		mtxIncidents.Inc()
	case events.KindInvariantViolation:
		mtxInvariants.Inc()
	case events.KindOrphanDetected:
		mtxReconFindings.WithLabelValues("orphan").Inc()
	case events.KindProtectionGap:
		mtxReconFindings.WithLabelValues("gap").Inc()
	}
}
