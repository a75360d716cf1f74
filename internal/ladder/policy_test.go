package ladder

import (
	"reflect"
	"testing"

	"breakwatch/internal/domain"
)

func TestDefaultRatios(t *testing.T) {
	tests := []struct {
		n    int
		want []float64
		ok   bool
	}{
		{1, []float64{1.0}, true},
		{2, []float64{0.7, 0.3}, true},
		{3, []float64{0.6, 0.3, 0.1}, true},
		{0, nil, false},
		{4, nil, false},
	}
	for _, tt := range tests {
		got, err := DefaultRatios(tt.n)
		if (err == nil) != tt.ok {
			t.Errorf("DefaultRatios(%d) error = %v, ok = %v", tt.n, err, tt.ok)
			continue
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("DefaultRatios(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestParseRatios(t *testing.T) {
	tests := []struct {
		in   string
		want []float64
		ok   bool
	}{
		{"100", []float64{1.0}, true},
		{"70-30", []float64{0.7, 0.3}, true},
		{"60-30-10", []float64{0.6, 0.3, 0.1}, true},
		{"70-31", nil, false},  // sums to 101
		{"70--30", nil, false}, // empty part
		{"0-100", nil, false},  // non-positive part
		{"25-25-25-25", nil, false},
		{"abc", nil, false},
	}
	for _, tt := range tests {
		got, err := ParseRatios(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseRatios(%q) error = %v, ok = %v", tt.in, err, tt.ok)
			continue
		}
		if !tt.ok {
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParseRatios(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("ParseRatios(%q)[%d] = %v, want %v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSplitQty(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		ratios []float64
		want   []int
		ok     bool
	}{
		{"two leg even", 100, []float64{0.7, 0.3}, []int{70, 30}, true},
		{"three leg even", 100, []float64{0.6, 0.3, 0.1}, []int{60, 30, 10}, true},
		{"remainder to largest fraction", 101, []float64{0.7, 0.3}, []int{71, 30}, true},
		{"remainder three legs", 10, []float64{0.6, 0.3, 0.1}, []int{6, 3, 1}, true},
		{"odd split", 7, []float64{0.7, 0.3}, []int{5, 2}, true},
		{"single leg", 100, []float64{1.0}, []int{100}, true},
		{"zero total", 0, []float64{1.0}, nil, false},
		{"fewer shares than legs", 2, []float64{0.6, 0.3, 0.1}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitQty(tt.total, tt.ratios)
			if (err == nil) != tt.ok {
				t.Fatalf("SplitQty(%d, %v) error = %v, ok = %v", tt.total, tt.ratios, err, tt.ok)
			}
			if !tt.ok {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SplitQty(%d, %v) = %v, want %v", tt.total, tt.ratios, got, tt.want)
			}
			sum := 0
			for _, q := range got {
				sum += q
			}
			if sum != tt.total {
				t.Fatalf("split %v does not sum to %d", got, tt.total)
			}
		})
	}
}

func TestValidateLevels(t *testing.T) {
	tests := []struct {
		name  string
		level float64
		stop  float64
		tps   []float64
		ok    bool
	}{
		{"good two legs", 2.00, 1.95, []float64{2.10, 2.20}, true},
		{"no legs", 2.00, 1.95, nil, false},
		{"too many legs", 2.00, 1.95, []float64{2.1, 2.2, 2.3, 2.4}, false},
		{"stop above level", 2.00, 2.05, []float64{2.10}, false},
		{"tp below level", 2.00, 1.95, []float64{1.99}, false},
		{"tps not increasing", 2.00, 1.95, []float64{2.20, 2.10}, false},
		{"duplicate tp", 2.00, 1.95, []float64{2.10, 2.10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLevels(tt.level, tt.stop, tt.tps)
			if (err == nil) != tt.ok {
				t.Fatalf("ValidateLevels(%v, %v, %v) error = %v, ok = %v",
					tt.level, tt.stop, tt.tps, err, tt.ok)
			}
		})
	}
}

func TestMilestoneStop(t *testing.T) {
	tps := []float64{2.10, 2.20, 2.30}

	if got := MilestoneStop(0, tps, nil); got != 2.10 {
		t.Errorf("default milestone 0 stop = %v, want 2.10", got)
	}
	if got := MilestoneStop(1, tps, nil); got != 2.20 {
		t.Errorf("default milestone 1 stop = %v, want 2.20", got)
	}
	// Overrides win when set; zero means fall through to the default.
	if got := MilestoneStop(0, tps, []float64{2.00}); got != 2.00 {
		t.Errorf("override milestone 0 stop = %v, want 2.00", got)
	}
	if got := MilestoneStop(1, tps, []float64{2.00, 0}); got != 2.20 {
		t.Errorf("zero override milestone 1 stop = %v, want 2.20", got)
	}
	if got := MilestoneStop(5, tps, nil); got != 0 {
		t.Errorf("out-of-range milestone stop = %v, want 0", got)
	}
}

func TestCompleteConfig(t *testing.T) {
	base := func() domain.WatcherConfig {
		return domain.WatcherConfig{
			Symbol:     " test ",
			Level:      2.00,
			Qty:        100,
			TakeProfit: []float64{2.10, 2.20},
			StopLoss:   1.95,
		}
	}

	t.Run("fills defaults and splits legs", func(t *testing.T) {
		cfg := base()
		if err := CompleteConfig(&cfg, ""); err != nil {
			t.Fatalf("CompleteConfig: %v", err)
		}
		if cfg.Symbol != "TEST" {
			t.Errorf("symbol = %q, want TEST", cfg.Symbol)
		}
		if cfg.Entry != domain.EntryMarket || cfg.Session != domain.SessionRegularHours {
			t.Errorf("defaults not applied: entry=%q session=%q", cfg.Entry, cfg.Session)
		}
		if len(cfg.LegQty) != 2 || cfg.LegQty[0] != 70 || cfg.LegQty[1] != 30 {
			t.Errorf("leg split = %v, want [70 30]", cfg.LegQty)
		}
	})

	t.Run("ratio overrides explicit leg quantities", func(t *testing.T) {
		cfg := base()
		cfg.LegQty = []int{50, 50}
		if err := CompleteConfig(&cfg, "60-40"); err != nil {
			t.Fatalf("CompleteConfig: %v", err)
		}
		if cfg.LegQty[0] != 60 || cfg.LegQty[1] != 40 {
			t.Errorf("leg split = %v, want [60 40]", cfg.LegQty)
		}
	})

	t.Run("explicit leg quantities validated against total", func(t *testing.T) {
		cfg := base()
		cfg.LegQty = []int{70, 40}
		if err := CompleteConfig(&cfg, ""); err == nil {
			t.Fatal("mismatched leg sum accepted")
		}
	})

	t.Run("rejections", func(t *testing.T) {
		bad := []func(*domain.WatcherConfig){
			func(c *domain.WatcherConfig) { c.Symbol = "  " },
			func(c *domain.WatcherConfig) { c.Qty = 0 },
			func(c *domain.WatcherConfig) { c.Level = 0 },
			func(c *domain.WatcherConfig) { c.StopLoss = 2.50 },
			func(c *domain.WatcherConfig) { c.TakeProfit = nil },
			func(c *domain.WatcherConfig) { c.StopUpdates = []float64{2.1, 2.2, 2.3} },
		}
		for i, mutate := range bad {
			cfg := base()
			mutate(&cfg)
			if err := CompleteConfig(&cfg, ""); err == nil {
				t.Errorf("case %d: invalid config accepted", i)
			}
		}
	})

	t.Run("ratio leg count must match take profits", func(t *testing.T) {
		cfg := base()
		if err := CompleteConfig(&cfg, "60-30-10"); err == nil {
			t.Fatal("ratio with wrong leg count accepted")
		}
	})
}
