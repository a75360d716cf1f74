// Package events defines the append-only lifecycle event stream emitted by
// the trading core, and an in-process bus that fans events out to the
// journal, the websocket hub, and metrics. Every state transition in the
// trigger, entry, ladder, and reconciliation machinery produces exactly one
// event, enabling external audit.
package events

import (
	"time"
)

// Kind identifies one lifecycle transition.
type Kind string

const (
	KindWatcherStarted     Kind = "watcher_started"
	KindBreakDetected      Kind = "break_detected"
	KindTriggerConfirmed   Kind = "trigger_confirmed"
	KindFastTriggered      Kind = "fast_triggered"
	KindTriggerRejected    Kind = "trigger_rejected"
	KindEntrySubmitted     Kind = "entry_submitted"
	KindEntryFilled        Kind = "entry_filled"
	KindEntryFailed        Kind = "entry_failed"
	KindLadderArmed        Kind = "ladder_armed"
	KindLegFilled          Kind = "leg_filled"
	KindLegCancelled       Kind = "leg_cancelled"
	KindRepriceApplied     Kind = "reprice_applied"
	KindRepriceSkipped     Kind = "reprice_skipped"
	KindLadderRepriced     Kind = "ladder_repriced"
	KindProtectionChanged  Kind = "protection_changed"
	KindIncident           Kind = "incident"
	KindInvariantViolation Kind = "invariant_violation"
	KindEmergencySubmitted Kind = "emergency_submitted"
	KindFlattenSubmitted   Kind = "flatten_submitted"
	KindLadderDone         Kind = "ladder_done"
	KindOrphanDetected     Kind = "orphan_detected"
	KindProtectionGap      Kind = "protection_gap"
	KindReconClean         Kind = "recon_clean"
	KindWatcherStopped     Kind = "watcher_stopped"
)

// Event is one entry in the lifecycle stream. Fields carries kind-specific
// details (prices, quantities, broker codes, reasons) keyed by short names.
type Event struct {
	Kind      Kind           `json:"kind"`
	WatcherID string         `json:"watcher_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Leg       int            `json:"leg"` // -1 when not leg-scoped
	At        time.Time      `json:"at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New builds an event stamped with the current time. Leg defaults to -1.
func New(kind Kind, watcherID, symbol string, fields map[string]any) Event {
	return Event{
		Kind:      kind,
		WatcherID: watcherID,
		Symbol:    symbol,
		Leg:       -1,
		At:        time.Now().UTC(),
		Fields:    fields,
	}
}

// NewLeg builds a leg-scoped event stamped with the current time.
func NewLeg(kind Kind, watcherID, symbol string, leg int, fields map[string]any) Event {
	ev := New(kind, watcherID, symbol, fields)
	ev.Leg = leg
	return ev
}

// Sink receives lifecycle events. The Bus implements Sink; tests substitute
// an in-memory recorder.
type Sink interface {
	Publish(ev Event)
}

// Discard is a Sink that drops every event.
type Discard struct{}

// Publish drops the event.
func (Discard) Publish(Event) {}
