// Package config loads the breakwatch YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the breakwatch daemon.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Logging Logging      `yaml:"logging"`
	Trading Trading      `yaml:"trading"`
	Recon   Recon        `yaml:"recon"`
	Trigger TriggerBands `yaml:"trigger"`
}

// Storage holds paths for the event journal and the bar audit archive.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	JournalPath string `yaml:"journal_path"`
	RecordBars  bool   `yaml:"record_bars"` // archive streamed bars to parquet
}

// Server holds network listener configuration for the command API.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Trading defines execution parameters shared by all watchers.
type Trading struct {
	PaperMode       bool          `yaml:"paper_mode"`
	TIF             string        `yaml:"tif"`               // default "day"
	EntryTimeout    time.Duration `yaml:"entry_timeout"`     // max wait for entry fill
	FillGracePeriod time.Duration `yaml:"fill_grace_period"` // extra wait on partial fills
	QuoteMaxAge     time.Duration `yaml:"quote_max_age"`     // freshness threshold for quotes
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// Recon configures the reconciliation monitor.
type Recon struct {
	Interval         time.Duration `yaml:"interval"`
	AutoCancelOrphan bool          `yaml:"auto_cancel_orphans"`
}

// TriggerBands configures the fast entry path of the trigger evaluator.
type TriggerBands struct {
	FastArmBand     float64       `yaml:"fast_arm_band"`     // arm when within this of the level
	FastMaxDistance float64       `yaml:"fast_max_distance"` // initial distance ceiling above level
	FastDecayWindow time.Duration `yaml:"fast_decay_window"` // distance decays linearly to zero over this
	FastSpreadLimit float64       `yaml:"fast_spread_limit"` // bar high-low ceiling (spread proxy)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Storage.JournalPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8089
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Trading.TIF == "" {
		cfg.Trading.TIF = "day"
	}
	if cfg.Trading.EntryTimeout == 0 {
		cfg.Trading.EntryTimeout = 30 * time.Second
	}
	if cfg.Trading.FillGracePeriod == 0 {
		cfg.Trading.FillGracePeriod = 10 * time.Second
	}
	if cfg.Trading.QuoteMaxAge == 0 {
		cfg.Trading.QuoteMaxAge = 5 * time.Second
	}
	if cfg.Trading.RateLimitPerMin == 0 {
		cfg.Trading.RateLimitPerMin = 180
	}
	if cfg.Recon.Interval == 0 {
		cfg.Recon.Interval = time.Minute
	}
	if cfg.Trigger.FastDecayWindow == 0 {
		cfg.Trigger.FastDecayWindow = 5 * time.Minute
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.EntryTimeout < 0 || cfg.Trading.FillGracePeriod < 0 {
		return fmt.Errorf("entry_timeout and fill_grace_period must not be negative")
	}
	if cfg.Trigger.FastMaxDistance < 0 || cfg.Trigger.FastSpreadLimit < 0 {
		return fmt.Errorf("trigger bands must not be negative")
	}
	return nil
}
