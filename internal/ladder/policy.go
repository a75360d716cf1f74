// Package ladder owns the exit side of a filled breakout entry: N take-profit
// and stop-loss order pairs, milestone repricing of the remaining stops, and
// recovery when the venue rejects or drops a protective order.
package ladder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"breakwatch/internal/domain"
)

// defaultRatios maps leg count to the default take-profit quantity split.
var defaultRatios = map[int][]float64{
	1: {1.0},
	2: {0.7, 0.3},
	3: {0.6, 0.3, 0.1},
}

// maxLegs bounds the ladder depth.
const maxLegs = 3

// DefaultRatios returns the standard quantity split for n take-profit legs.
func DefaultRatios(n int) ([]float64, error) {
	r, ok := defaultRatios[n]
	if !ok {
		return nil, fmt.Errorf("unsupported leg count %d (want 1..%d)", n, maxLegs)
	}
	out := make([]float64, len(r))
	copy(out, r)
	return out, nil
}

// ParseRatios parses a dash-separated percentage split such as "70-30" or
// "60-30-10". Parts must be positive and sum to 100.
func ParseRatios(s string) ([]float64, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) == 0 || len(parts) > maxLegs {
		return nil, fmt.Errorf("ratio %q: want 1..%d parts", s, maxLegs)
	}
	ratios := make([]float64, len(parts))
	sum := 0.0
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("ratio %q: part %d: %w", s, i, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("ratio %q: part %d must be positive", s, i)
		}
		ratios[i] = v / 100.0
		sum += v
	}
	if math.Abs(sum-100.0) > 1e-9 {
		return nil, fmt.Errorf("ratio %q: parts sum to %.4g, want 100", s, sum)
	}
	return ratios, nil
}

// SplitQty divides total shares across the ratio list using largest-remainder
// rounding so the parts always sum to total and every leg gets at least the
// floor of its share.
func SplitQty(total int, ratios []float64) ([]int, error) {
	if total <= 0 {
		return nil, fmt.Errorf("split qty: total %d must be positive", total)
	}
	if len(ratios) == 0 {
		return nil, fmt.Errorf("split qty: empty ratio list")
	}
	if total < len(ratios) {
		return nil, fmt.Errorf("split qty: total %d smaller than %d legs", total, len(ratios))
	}

	qty := make([]int, len(ratios))
	rem := make([]float64, len(ratios))
	assigned := 0
	for i, r := range ratios {
		exact := float64(total) * r
		qty[i] = int(math.Floor(exact))
		rem[i] = exact - float64(qty[i])
		assigned += qty[i]
	}
	// Hand leftover shares to the largest fractional remainders, earliest
	// leg first on ties.
	for assigned < total {
		best := 0
		for i := 1; i < len(rem); i++ {
			if rem[i] > rem[best] {
				best = i
			}
		}
		qty[best]++
		rem[best] = -1
		assigned++
	}
	for i, q := range qty {
		if q <= 0 {
			return nil, fmt.Errorf("split qty: leg %d resolves to zero shares", i)
		}
	}
	return qty, nil
}

// ValidateLevels checks the price geometry of a ladder: take-profit prices
// strictly increasing and above the trigger level, stop strictly below it.
func ValidateLevels(level, stop float64, tps []float64) error {
	if len(tps) == 0 || len(tps) > maxLegs {
		return fmt.Errorf("want 1..%d take-profit levels, got %d", maxLegs, len(tps))
	}
	if stop <= 0 || stop >= level {
		return fmt.Errorf("stop %.4f must be below trigger level %.4f", stop, level)
	}
	prev := level
	for i, tp := range tps {
		if tp <= prev {
			return fmt.Errorf("take-profit %d at %.4f must exceed %.4f", i, tp, prev)
		}
		prev = tp
	}
	return nil
}

// CompleteConfig validates a watcher config from the command surface and
// fills the derived fields. ratio, when given (e.g. "70-30"), overrides any
// explicit per-leg quantities.
func CompleteConfig(cfg *domain.WatcherConfig, ratio string) error {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if cfg.Qty <= 0 {
		return fmt.Errorf("qty %d must be positive", cfg.Qty)
	}
	if cfg.Level <= 0 {
		return fmt.Errorf("trigger level %.4f must be positive", cfg.Level)
	}
	if err := ValidateLevels(cfg.Level, cfg.StopLoss, cfg.TakeProfit); err != nil {
		return err
	}
	if cfg.Entry == "" {
		cfg.Entry = domain.EntryMarket
	}
	if cfg.Session == "" {
		cfg.Session = domain.SessionRegularHours
	}
	if len(cfg.StopUpdates) > len(cfg.TakeProfit) {
		return fmt.Errorf("%d stop updates for %d take-profit legs", len(cfg.StopUpdates), len(cfg.TakeProfit))
	}

	n := len(cfg.TakeProfit)
	switch {
	case ratio != "":
		ratios, err := ParseRatios(ratio)
		if err != nil {
			return err
		}
		if len(ratios) != n {
			return fmt.Errorf("ratio %q has %d parts for %d take-profit legs", ratio, len(ratios), n)
		}
		qty, err := SplitQty(cfg.Qty, ratios)
		if err != nil {
			return err
		}
		cfg.LegQty = qty
	case len(cfg.LegQty) == 0:
		ratios, err := DefaultRatios(n)
		if err != nil {
			return err
		}
		qty, err := SplitQty(cfg.Qty, ratios)
		if err != nil {
			return err
		}
		cfg.LegQty = qty
	default:
		if len(cfg.LegQty) != n {
			return fmt.Errorf("%d leg quantities for %d take-profit legs", len(cfg.LegQty), n)
		}
		sum := 0
		for i, q := range cfg.LegQty {
			if q <= 0 {
				return fmt.Errorf("leg %d quantity must be positive", i)
			}
			sum += q
		}
		if sum != cfg.Qty {
			return fmt.Errorf("leg quantities sum to %d, total qty is %d", sum, cfg.Qty)
		}
	}
	return nil
}

// MilestoneStop returns the stop price the still-open legs move to after leg
// `completed` fills in full. The default is the completed leg's take-profit
// price; an override list supplies venue- or strategy-specific levels instead
// (index by completed leg, zero means no override).
func MilestoneStop(completed int, tps, overrides []float64) float64 {
	if completed < len(overrides) && overrides[completed] > 0 {
		return overrides[completed]
	}
	if completed < len(tps) {
		return tps[completed]
	}
	return 0
}
