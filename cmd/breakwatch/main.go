package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"breakwatch/internal/broker"
	"breakwatch/internal/config"
	"breakwatch/internal/domain"
	"breakwatch/internal/events"
	"breakwatch/internal/feed"
	"breakwatch/internal/httpapi"
	"breakwatch/internal/journal"
	"breakwatch/internal/metrics"
	"breakwatch/internal/recon"
	"breakwatch/internal/store"
	"breakwatch/internal/trigger"
	"breakwatch/internal/util"
	"breakwatch/internal/watcher"
)

func main() {
	cfgPath := "config/breakwatch.yaml"
	if p := os.Getenv("BREAKWATCH_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("breakwatch: %v", err)
	}
	logger.Info("breakwatch stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	bus := events.NewBus()

	// Broker. Paper mode still talks to a real endpoint; BaseURL selects
	// the paper or live venue.
	port := broker.NewAlpacaPort(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
		cfg.Trading.RateLimitPerMin, logger)

	// Durable event journal.
	var j *journal.Journal
	if cfg.Storage.JournalPath != "" {
		var err error
		j, err = journal.Open(cfg.Storage.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer j.Close()
	}

	// Bar audit archive.
	var recorder feed.Recorder
	if cfg.Storage.RecordBars && cfg.Storage.DataDir != "" {
		recorder = store.NewBarArchive(cfg.Storage.DataDir)
	}

	sessions, err := util.NewSessionClock()
	if err != nil {
		return fmt.Errorf("loading session timezone: %w", err)
	}

	params := watcher.Params{
		Bands: trigger.FastBands{
			ArmBand:     cfg.Trigger.FastArmBand,
			MaxDistance: cfg.Trigger.FastMaxDistance,
			DecayWindow: cfg.Trigger.FastDecayWindow,
			SpreadLimit: cfg.Trigger.FastSpreadLimit,
		},
		QuoteMaxAge:  cfg.Trading.QuoteMaxAge,
		EntryTimeout: cfg.Trading.EntryTimeout,
		FillGrace:    cfg.Trading.FillGracePeriod,
		Sessions:     sessions,
		TIF:          cfg.Trading.TIF,
		PaperMode:    cfg.Trading.PaperMode,
	}

	registry := watcher.NewRegistry()
	monitor := recon.NewMonitor(port, registry, cfg.Recon.Interval, cfg.Recon.AutoCancelOrphan,
		bus, logger)
	hub := httpapi.NewHub(bus, logger)
	collector := metrics.NewCollector(bus)

	// Each watcher gets its own polling feed, torn down with the watcher.
	start := func(wcfg domain.WatcherConfig) (*watcher.Watcher, error) {
		f := feed.NewAlpacaFeed(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
			wcfg.Symbol, cfg.Trading.RateLimitPerMin, recorder, logger)
		wt := watcher.New(wcfg, f, port, params, bus, logger)

		fctx, fcancel := context.WithCancel(ctx)
		go func() {
			if err := f.Run(fctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed stopped", "symbol", wcfg.Symbol, "error", err)
			}
		}()
		go func() {
			defer fcancel()
			if err := wt.Run(fctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped", "watcher", wt.ID, "error", err)
			}
		}()
		return wt, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := httpapi.NewServer(addr, registry, monitor, j, hub, start, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return port.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return collector.Run(gctx) })
	g.Go(func() error { hub.Run(gctx); return nil })
	if j != nil {
		pump := j.Drain(bus)
		g.Go(func() error { return pump(gctx) })
	}
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	logger.Info("breakwatch started", "addr", addr, "paper", cfg.Trading.PaperMode)
	return g.Wait()
}
