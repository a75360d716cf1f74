package ladder

import (
	"fmt"
	"log/slog"
	"sync"

	"breakwatch/internal/domain"
	"breakwatch/internal/events"
)

// LegState is the lifecycle state of one take-profit/stop-loss pair.
type LegState string

const (
	LegUnarmed   LegState = "unarmed"
	LegArmed     LegState = "armed"
	LegTpFilled  LegState = "tp_filled"
	LegSlFilled  LegState = "sl_filled"
	LegCancelled LegState = "cancelled"
)

// Terminal reports whether the leg needs no further broker activity.
func (s LegState) Terminal() bool {
	return s == LegTpFilled || s == LegSlFilled || s == LegCancelled
}

// ProtectionState says whether remaining inventory has confirmed resting
// stop coverage.
type ProtectionState string

const (
	ProtectionRecovering  ProtectionState = "recovering"
	ProtectionProtected   ProtectionState = "protected"
	ProtectionUnprotected ProtectionState = "unprotected"
)

// Side distinguishes the two orders of a pair.
type Side string

const (
	SideTP Side = "tp"
	SideSL Side = "sl"
)

// Leg is the bookkeeping for one exit pair.
type Leg struct {
	Index     int
	TargetQty int
	TPPrice   float64

	// SLPrice is the stop currently believed resting at the broker. It
	// moves only after an accepted replace.
	SLPrice float64

	FilledTPQty int
	FilledSLQty int
	TPFillPrice float64
	SLFillPrice float64
	State       LegState

	// Inconsistent marks a leg whose reported fills exceed its target.
	// The raw quantities above keep the broker-effective values.
	Inconsistent bool

	tpAcked bool
	slAcked bool
}

// liveQty is the quantity this leg's resting orders still cover.
func (l *Leg) liveQty() int {
	if l.State != LegArmed && l.State != LegUnarmed {
		return 0
	}
	q := l.TargetQty - l.FilledTPQty - l.FilledSLQty
	if q < 0 {
		return 0
	}
	return q
}

// ---------------------------------------------------------------------------
// Decisions — the machine never touches the broker; it emits these and the
// Executor carries them out in order.
// ---------------------------------------------------------------------------

// Decision is one broker action requested by the machine.
type Decision interface{ decision() }

// CancelLeg asks the executor to cancel one side of a pair. Cancelling an
// already-gone order must be a no-op at the port.
type CancelLeg struct {
	LegIndex int
	Side     Side
}

// RepriceCmd is one stop move inside a batch.
type RepriceCmd struct {
	LegIndex int
	NewStop  float64
}

// RepriceBatch is an ordered list of stop moves. The executor applies them
// sequentially and abandons the remainder on the first rejected replace.
type RepriceBatch struct {
	Milestone int
	Cmds      []RepriceCmd
}

// EmergencyStop asks for a fresh protective stop covering quantity the
// ladder no longer covers.
type EmergencyStop struct {
	Qty   int
	Price float64
}

// Flatten asks for a market exit of uncovered quantity. Only issued as the
// last resort when an emergency stop itself failed, and only in paper mode.
type Flatten struct {
	Qty int
}

// RecheckCancel defers judgment on a cancel event that might be the venue's
// cross-cancel racing ahead of its sibling's fill on another stream. The
// executor waits a grace period, then calls ResolveCancel.
type RecheckCancel struct {
	LegIndex int
	Side     Side
	Code     int
}

// Retire signals the ladder reached its terminal condition.
type Retire struct{}

func (CancelLeg) decision()     {}
func (RepriceBatch) decision()  {}
func (EmergencyStop) decision() {}
func (Flatten) decision()       {}
func (RecheckCancel) decision() {}
func (Retire) decision()        {}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Outcome is the realized result reported when the ladder retires.
type Outcome struct {
	Symbol      string
	EntryQty    int
	EntryPrice  float64
	TPFilledQty int
	SLFilledQty int
	// Realized is the signed proceeds versus entry across all exit fills.
	Realized float64
	Legs     []LegResult
}

// LegResult summarizes one leg at retirement.
type LegResult struct {
	Index        int
	State        LegState
	TPQty        int
	TPPrice      float64
	SLQty        int
	SLPrice      float64
	Inconsistent bool
}

// Snapshot is a point-in-time copy for status queries and reconciliation.
type Snapshot struct {
	WatcherID      string
	Symbol         string
	EntryQty       int
	EntryPrice     float64
	MilestoneIndex int
	Protection     ProtectionState
	RemainingQty   int
	UncoveredQty   int
	Done           bool
	Legs           []Leg
}

// Machine is the exit state machine for one filled entry. Every mutation
// happens under mu, one event at a time in arrival order; methods return the
// decisions the caller must execute after the lock is released.
type Machine struct {
	mu sync.Mutex

	watcherID string
	symbol    string

	entryQty   int
	entryPrice float64

	legs           []*Leg
	stopOverrides  []float64
	tpPrices       []float64
	milestoneIndex int
	// repriceApplied guards each milestone's batch so a duplicate fill
	// event can never issue the same reprice twice.
	repriceApplied []bool

	protection ProtectionState

	// Emergency stop bookkeeping. A second incident while one emergency
	// submission is outstanding must not stack another order on top.
	emergencyPending bool
	emergencyQty     int
	emergencyAcked   bool
	emergencyFilled  int

	cancelRequested bool
	done            bool

	sink events.Sink
	log  *slog.Logger
}

// NewMachine builds the ladder for an entry that filled entryQty shares at
// entryPrice. legQty is the per-leg split, already shrunk to the actual fill.
func NewMachine(watcherID, symbol string, entryQty int, entryPrice float64,
	legQty []int, tps []float64, stop float64, stopOverrides []float64,
	sink events.Sink, log *slog.Logger) (*Machine, error) {

	if len(legQty) != len(tps) {
		return nil, fmt.Errorf("ladder: %d leg quantities vs %d take-profits", len(legQty), len(tps))
	}
	total := 0
	for _, q := range legQty {
		total += q
	}
	if total != entryQty {
		return nil, fmt.Errorf("ladder: leg quantities sum to %d, entry filled %d", total, entryQty)
	}

	m := &Machine{
		watcherID:      watcherID,
		symbol:         symbol,
		entryQty:       entryQty,
		entryPrice:     entryPrice,
		tpPrices:       append([]float64(nil), tps...),
		stopOverrides:  append([]float64(nil), stopOverrides...),
		repriceApplied: make([]bool, len(tps)),
		protection:     ProtectionRecovering,
		sink:           sink,
		log:            log.With("component", "ladder", "watcher", watcherID, "symbol", symbol),
	}
	for i := range legQty {
		m.legs = append(m.legs, &Leg{
			Index:     i,
			TargetQty: legQty[i],
			TPPrice:   tps[i],
			SLPrice:   stop,
			State:     LegUnarmed,
		})
	}
	return m, nil
}

// PairSpecs returns the exit orders the executor must place, innermost leg
// first.
func (m *Machine) PairSpecs() []domain.PairSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	specs := make([]domain.PairSpec, 0, len(m.legs))
	for _, l := range m.legs {
		specs = append(specs, domain.PairSpec{
			Symbol:    m.symbol,
			Qty:       l.TargetQty,
			TPPrice:   l.TPPrice,
			StopPrice: l.SLPrice,
		})
	}
	return specs
}

// MarkArmed records that leg i's pair was accepted for submission.
func (m *Machine) MarkArmed(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.leg(i); l != nil && l.State == LegUnarmed {
		l.State = LegArmed
	}
}

// OnExitAcked records a broker acknowledgement for one side of leg i. When
// every stop leg is confirmed resting the ladder leaves Recovering.
func (m *Machine) OnExitAcked(i int, side Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.leg(i)
	if l == nil {
		return
	}
	switch side {
	case SideTP:
		l.tpAcked = true
	case SideSL:
		l.slAcked = true
	}
	if m.protection == ProtectionRecovering && m.allStopsAcked() {
		m.setProtection(ProtectionProtected)
	}
}

// OnTPFill handles a take-profit fill of qty shares at price for leg i.
func (m *Machine) OnTPFill(i int, qty int, price float64) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onFill(i, SideTP, qty, price)
}

// OnSLFill handles a stop fill of qty shares at price for leg i.
func (m *Machine) OnSLFill(i int, qty int, price float64) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onFill(i, SideSL, qty, price)
}

func (m *Machine) onFill(i int, side Side, qty int, price float64) []Decision {
	l := m.leg(i)
	if l == nil || m.done {
		return nil
	}

	// 1) Overshoot check, per leg and across the whole ladder. The raw
	// broker-effective quantity is recorded either way; rounding it down
	// to the target would hide a real oversell.
	already := l.FilledTPQty + l.FilledSLQty
	overshoot := already+qty > l.TargetQty
	globalOvershoot := m.totalExitFilled()+qty > m.entryQty

	switch side {
	case SideTP:
		l.FilledTPQty += qty
		l.TPFillPrice = price
	case SideSL:
		l.FilledSLQty += qty
		l.SLFillPrice = price
	}

	if overshoot || globalOvershoot {
		l.Inconsistent = true
		m.emit(events.NewLeg(events.KindInvariantViolation, m.watcherID, m.symbol, i, map[string]any{
			"side":       string(side),
			"fill_qty":   qty,
			"target_qty": l.TargetQty,
			"total_exit": m.totalExitFilled(),
			"entry_qty":  m.entryQty,
		}))
		m.log.Error("fill exceeds target, leg marked inconsistent",
			"leg", i, "side", side, "qty", qty, "target", l.TargetQty)
		// The sibling is still torn down, but no milestone and no reprice
		// batch may build on inconsistent quantities.
		sibling := SideSL
		if side == SideSL {
			sibling = SideTP
		}
		out := []Decision{CancelLeg{LegIndex: i, Side: sibling}}
		return append(out, m.incidentDecisions(i)...)
	}

	m.emit(events.NewLeg(events.KindLegFilled, m.watcherID, m.symbol, i, map[string]any{
		"side": string(side), "qty": qty, "price": price,
	}))

	filled := l.FilledTPQty + l.FilledSLQty
	if filled < l.TargetQty {
		return nil // partial, wait for the rest
	}

	// 2) Leg complete. Cross-cancel the sibling; the venue's OCA link
	// usually got there first, the explicit cancel is idempotent.
	var out []Decision
	switch side {
	case SideTP:
		l.State = LegTpFilled
		out = append(out, CancelLeg{LegIndex: i, Side: SideSL})
	case SideSL:
		l.State = LegSlFilled
		out = append(out, CancelLeg{LegIndex: i, Side: SideTP})
	}

	// 3) Milestone accounting. A take-profit completing in order moves the
	// remaining stops up; a stop completing just closes that slice.
	if side == SideTP {
		m.milestoneIndex++
		if batch := m.milestoneBatch(i); batch != nil {
			out = append(out, *batch)
		}
	}

	if m.terminal() {
		out = append(out, m.retire()...)
	}
	return out
}

// milestoneBatch builds the reprice commands after leg `completed` filled in
// full, at most once per milestone.
func (m *Machine) milestoneBatch(completed int) *RepriceBatch {
	if completed >= len(m.repriceApplied) || m.repriceApplied[completed] {
		return nil
	}
	m.repriceApplied[completed] = true

	newStop := MilestoneStop(completed, m.tpPrices, m.stopOverrides)
	if newStop <= 0 {
		return nil
	}
	var cmds []RepriceCmd
	for _, l := range m.legs {
		if l.Index <= completed || l.State.Terminal() || l.Inconsistent {
			continue
		}
		if l.SLPrice >= newStop {
			continue // never move a stop down
		}
		cmds = append(cmds, RepriceCmd{LegIndex: l.Index, NewStop: newStop})
	}
	if len(cmds) == 0 {
		return nil
	}
	return &RepriceBatch{Milestone: completed, Cmds: cmds}
}

// OnRepriceApplied records an accepted stop replace for leg i.
func (m *Machine) OnRepriceApplied(i int, newStop float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.leg(i); l != nil {
		l.SLPrice = newStop
	}
}

// OnCancelled handles a broker cancel event for one side of leg i. A cancel
// explained by the sibling's fill, a user cancel-all, or an accepted replace
// is benign; anything else is an incident.
func (m *Machine) OnCancelled(i int, side Side, code int) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.leg(i)
	if l == nil || m.done {
		return nil
	}

	if m.cancelExplained(l, side) {
		if m.cancelRequested && !l.State.Terminal() {
			l.State = LegCancelled
			m.emit(events.NewLeg(events.KindLegCancelled, m.watcherID, m.symbol, i, map[string]any{
				"side": string(side), "reason": "user_cancel",
			}))
		}
		var out []Decision
		if m.terminal() {
			out = append(out, m.retire()...)
		}
		return out
	}

	// A plain cancel may be the OCA cross-cancel arriving before the
	// sibling's fill event. Rejections never have that excuse.
	if code == domain.CodeCancelled {
		return []Decision{RecheckCancel{LegIndex: i, Side: side, Code: code}}
	}
	return m.handleIncident(i, side, code)
}

// ResolveCancel re-judges a deferred cancel after the executor's grace
// period. If the sibling's fill has arrived by now the cancel is benign;
// otherwise it is a real incident.
func (m *Machine) ResolveCancel(i int, side Side, code int) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.leg(i)
	if l == nil || m.done {
		return nil
	}
	if m.cancelExplained(l, side) {
		var out []Decision
		if m.terminal() {
			out = append(out, m.retire()...)
		}
		return out
	}
	return m.handleIncident(i, side, code)
}

// OnRejected handles a broker rejection for one side of leg i. Rejections
// always select the leg for recovery.
func (m *Machine) OnRejected(i int, side Side, code int) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	return m.handleIncident(i, side, code)
}

// cancelExplained reports whether a cancel on `side` of leg l is the expected
// consequence of something this machine already knows about.
func (m *Machine) cancelExplained(l *Leg, side Side) bool {
	if m.cancelRequested {
		return true
	}
	switch l.State {
	case LegTpFilled:
		return side == SideSL // cross-cancel of the stop after the TP filled
	case LegSlFilled:
		return side == SideTP
	case LegCancelled:
		return true
	}
	// An inconsistent leg holds its raw fills without a terminal state; a
	// sibling fill still explains the venue's cross-cancel.
	if side == SideSL && l.FilledTPQty > 0 {
		return true
	}
	if side == SideTP && l.FilledSLQty > 0 {
		return true
	}
	return false
}

// handleIncident is the recovery path for rejects and unexplained cancels.
// Caller holds mu.
func (m *Machine) handleIncident(i int, side Side, code int) []Decision {
	l := m.leg(i)
	if l == nil {
		return nil
	}
	m.emit(events.NewLeg(events.KindIncident, m.watcherID, m.symbol, i, map[string]any{
		"side": string(side), "code": code,
	}))
	m.log.Warn("leg incident", "leg", i, "side", side, "code", code)

	// The affected order is gone and the leg no longer protects its
	// slice. Its sibling is torn down too so recovery coverage is not
	// stacked on top of a half-live pair.
	wasLive := !l.State.Terminal()
	if wasLive {
		l.State = LegCancelled
	}
	if side == SideSL {
		l.slAcked = false
	} else {
		l.tpAcked = false
	}

	var out []Decision
	if wasLive {
		sibling := SideSL
		if side == SideSL {
			sibling = SideTP
		}
		out = append(out, CancelLeg{LegIndex: i, Side: sibling})
	}
	return append(out, m.incidentDecisions(i)...)
}

// incidentDecisions recomputes coverage and asks for an emergency stop when
// inventory is uncovered. Caller holds mu.
func (m *Machine) incidentDecisions(_ int) []Decision {
	uncovered := m.uncoveredQty()
	if uncovered <= 0 {
		var out []Decision
		if m.terminal() {
			out = append(out, m.retire()...)
		}
		return out
	}

	m.setProtection(ProtectionUnprotected)
	if m.emergencyPending {
		// One emergency submission at a time. The pending order's ack or
		// failure re-enters here and re-evaluates coverage.
		return nil
	}
	m.emergencyPending = true
	m.emergencyQty = uncovered
	m.emergencyAcked = false

	price := m.conservativeStop()
	m.emit(events.New(events.KindEmergencySubmitted, m.watcherID, m.symbol, map[string]any{
		"qty": uncovered, "price": price,
	}))
	return []Decision{EmergencyStop{Qty: uncovered, Price: price}}
}

// conservativeStop picks the price for an emergency stop: the lowest stop
// the ladder ever carried. Caller holds mu.
func (m *Machine) conservativeStop() float64 {
	price := 0.0
	for _, l := range m.legs {
		if price == 0 || l.SLPrice < price {
			price = l.SLPrice
		}
	}
	return price
}

// OnEmergencyAcked records the emergency stop resting at the broker.
func (m *Machine) OnEmergencyAcked() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.emergencyPending {
		return nil
	}
	m.emergencyAcked = true
	m.setProtection(ProtectionProtected)
	var out []Decision
	if m.terminal() {
		out = append(out, m.retire()...)
	}
	return out
}

// OnEmergencyFill records shares exiting through the emergency stop.
func (m *Machine) OnEmergencyFill(qty int, price float64) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same overshoot rule as ladder fills: the raw quantity is recorded
	// either way, rounding it down would hide a real oversell.
	overshoot := m.totalExitFilled()+qty > m.entryQty
	m.emergencyFilled += qty

	if overshoot {
		m.emit(events.New(events.KindInvariantViolation, m.watcherID, m.symbol, map[string]any{
			"side":       "emergency",
			"fill_qty":   qty,
			"total_exit": m.totalExitFilled(),
			"entry_qty":  m.entryQty,
		}))
		m.log.Error("emergency fill exceeds entry quantity",
			"qty", qty, "total_exit", m.totalExitFilled(), "entry_qty", m.entryQty)
	} else {
		m.emit(events.New(events.KindLegFilled, m.watcherID, m.symbol, map[string]any{
			"side": "emergency", "qty": qty, "price": price,
		}))
	}
	if m.emergencyFilled >= m.emergencyQty {
		m.emergencyPending = false
	}
	var out []Decision
	if m.terminal() {
		out = append(out, m.retire()...)
	}
	return out
}

// OnEmergencyFailed handles the emergency submission itself failing. In
// paper mode the machine escalates to a market flatten; live, it reports a
// fatal condition and stays Unprotected for the operator.
func (m *Machine) OnEmergencyFailed(paperMode bool) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.emergencyPending {
		return nil
	}
	m.emergencyPending = false
	uncovered := m.uncoveredQty()
	if uncovered <= 0 {
		return nil
	}
	if !paperMode {
		m.emit(events.New(events.KindIncident, m.watcherID, m.symbol, map[string]any{
			"fatal": true, "reason": "emergency_stop_rejected", "uncovered_qty": uncovered,
		}))
		m.log.Error("emergency stop rejected in live mode, operator action required",
			"uncovered_qty", uncovered)
		return nil
	}
	m.emit(events.New(events.KindFlattenSubmitted, m.watcherID, m.symbol, map[string]any{
		"qty": uncovered,
	}))
	return []Decision{Flatten{Qty: uncovered}}
}

// CancelAll starts a user-requested teardown: every live order is cancelled
// at the broker, legs go terminal as the cancels confirm.
func (m *Machine) CancelAll() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done || m.cancelRequested {
		return nil
	}
	m.cancelRequested = true
	var out []Decision
	for _, l := range m.legs {
		if l.State.Terminal() {
			continue
		}
		out = append(out, CancelLeg{LegIndex: l.Index, Side: SideTP})
		out = append(out, CancelLeg{LegIndex: l.Index, Side: SideSL})
	}
	return out
}

// Snapshot copies the current state for status and reconciliation readers.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	legs := make([]Leg, len(m.legs))
	for i, l := range m.legs {
		legs[i] = *l
	}
	return Snapshot{
		WatcherID:      m.watcherID,
		Symbol:         m.symbol,
		EntryQty:       m.entryQty,
		EntryPrice:     m.entryPrice,
		MilestoneIndex: m.milestoneIndex,
		Protection:     m.protection,
		RemainingQty:   m.remainingQty(),
		UncoveredQty:   m.uncoveredQty(),
		Done:           m.done,
		Legs:           legs,
	}
}

// Done reports whether the ladder retired.
func (m *Machine) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Outcome summarizes realized fills. Meaningful once Done.
func (m *Machine) Outcome() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomeLocked()
}

// ---------------------------------------------------------------------------
// internals (caller holds mu)
// ---------------------------------------------------------------------------

func (m *Machine) leg(i int) *Leg {
	if i < 0 || i >= len(m.legs) {
		m.log.Error("event for unknown leg", "leg", i)
		return nil
	}
	return m.legs[i]
}

func (m *Machine) totalExitFilled() int {
	total := m.emergencyFilled
	for _, l := range m.legs {
		total += l.FilledTPQty + l.FilledSLQty
	}
	return total
}

func (m *Machine) remainingQty() int {
	r := m.entryQty - m.totalExitFilled()
	if r < 0 {
		return 0
	}
	return r
}

// uncoveredQty is remaining inventory minus confirmed resting stop quantity.
func (m *Machine) uncoveredQty() int {
	covered := 0
	for _, l := range m.legs {
		if l.slAcked {
			covered += l.liveQty()
		}
	}
	if m.emergencyPending && m.emergencyAcked {
		covered += m.emergencyQty - m.emergencyFilled
	}
	return m.remainingQty() - covered
}

func (m *Machine) allStopsAcked() bool {
	for _, l := range m.legs {
		if !l.State.Terminal() && !l.slAcked {
			return false
		}
	}
	return true
}

func (m *Machine) setProtection(p ProtectionState) {
	if m.protection == p {
		return
	}
	m.protection = p
	m.emit(events.New(events.KindProtectionChanged, m.watcherID, m.symbol, map[string]any{
		"state": string(p),
	}))
}

func (m *Machine) terminal() bool {
	if m.protection == ProtectionRecovering {
		return false
	}
	if m.emergencyPending && !m.emergencyAcked {
		return false
	}
	for _, l := range m.legs {
		if !l.State.Terminal() {
			return false
		}
	}
	// Inventory still open after a user cancel is a deliberate hand-back
	// to the operator, not a reason to hold the ladder alive.
	return m.remainingQty() == 0 || m.cancelRequested
}

func (m *Machine) retire() []Decision {
	if m.done {
		return nil
	}
	m.done = true
	out := m.outcomeLocked()
	m.emit(events.New(events.KindLadderDone, m.watcherID, m.symbol, map[string]any{
		"tp_filled_qty": out.TPFilledQty,
		"sl_filled_qty": out.SLFilledQty,
		"realized":      out.Realized,
	}))
	m.log.Info("ladder retired",
		"tp_filled_qty", out.TPFilledQty, "sl_filled_qty", out.SLFilledQty,
		"realized", out.Realized, "milestones", m.milestoneIndex)
	return []Decision{Retire{}}
}

func (m *Machine) outcomeLocked() Outcome {
	out := Outcome{
		Symbol:     m.symbol,
		EntryQty:   m.entryQty,
		EntryPrice: m.entryPrice,
	}
	for _, l := range m.legs {
		out.TPFilledQty += l.FilledTPQty
		out.SLFilledQty += l.FilledSLQty
		out.Realized += float64(l.FilledTPQty)*(l.TPFillPrice-m.entryPrice) +
			float64(l.FilledSLQty)*(l.SLFillPrice-m.entryPrice)
		out.Legs = append(out.Legs, LegResult{
			Index:        l.Index,
			State:        l.State,
			TPQty:        l.FilledTPQty,
			TPPrice:      l.TPFillPrice,
			SLQty:        l.FilledSLQty,
			SLPrice:      l.SLFillPrice,
			Inconsistent: l.Inconsistent,
		})
	}
	return out
}

func (m *Machine) emit(ev events.Event) {
	m.sink.Publish(ev)
}
