// Package recon compares broker-reported open orders and positions against
// the ladders this process believes it is managing. It reports two gap
// classes: exit orders resting against a flat position (orphans) and open
// inventory with no resting stop covering it (protection gaps). Detection is
// a pure function of the two snapshots, so a second scan over unchanged
// broker state reports exactly the same thing.
package recon

import (
	"strings"
	"time"

	"breakwatch/internal/domain"
)

// Orphan is a resting exit order whose parent position is gone.
type Orphan struct {
	OrderID string           `json:"order_id"`
	Symbol  string           `json:"symbol"`
	Side    domain.OrderSide `json:"side"`
	Type    domain.OrderType `json:"type"`
	Qty     float64          `json:"qty"`
}

// Gap is open inventory without full resting stop coverage.
type Gap struct {
	Symbol      string  `json:"symbol"`
	PositionQty float64 `json:"position_qty"`
	CoveredQty  float64 `json:"covered_qty"`
}

// Uncovered is the quantity missing a stop.
func (g Gap) Uncovered() float64 { return g.PositionQty - g.CoveredQty }

// Report is one scan's findings.
type Report struct {
	At      time.Time `json:"at"`
	Orphans []Orphan  `json:"orphans,omitempty"`
	Gaps    []Gap     `json:"gaps,omitempty"`
}

// Clean reports a zero-delta scan.
func (r Report) Clean() bool { return len(r.Orphans) == 0 && len(r.Gaps) == 0 }

// Reconcile derives the gap report from broker state. Only orders carrying
// this system's tag prefix are considered; foreign orders at the same
// account are never touched or reported.
func Reconcile(positions []domain.PositionSnapshot, orders []domain.OrderSnapshot) Report {
	report := Report{At: time.Now().UTC()}

	posBySymbol := make(map[string]float64, len(positions))
	for _, p := range positions {
		posBySymbol[strings.ToUpper(p.Symbol)] += p.Qty
	}

	// Resting stop coverage per symbol, and orphan detection, in one pass
	// over our tagged open orders.
	coverage := make(map[string]float64)
	for _, o := range orders {
		if !strings.HasPrefix(o.ClientTag, domain.TagPrefix) {
			continue
		}
		if o.Side != domain.SideSell || !openStatus(o.Status) {
			continue
		}
		symbol := strings.ToUpper(o.Symbol)
		if posBySymbol[symbol] <= 0 {
			report.Orphans = append(report.Orphans, Orphan{
				OrderID: o.OrderID,
				Symbol:  symbol,
				Side:    o.Side,
				Type:    o.Type,
				Qty:     o.Remaining(),
			})
			continue
		}
		if o.Type == domain.TypeStop {
			coverage[symbol] += o.Remaining()
		}
	}

	for symbol, qty := range posBySymbol {
		if qty <= 0 {
			continue
		}
		if covered := coverage[symbol]; covered < qty {
			report.Gaps = append(report.Gaps, Gap{
				Symbol:      symbol,
				PositionQty: qty,
				CoveredQty:  covered,
			})
		}
	}
	return report
}

func openStatus(status string) bool {
	switch strings.ToLower(status) {
	case "open", "new", "accepted", "pending_new", "partially_filled", "held":
		return true
	}
	return false
}
