package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"breakwatch/pkg/breakwatch"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: breakwatch-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  watch      Create a breakout watcher\n")
		fmt.Fprintf(os.Stderr, "  list       List watchers\n")
		fmt.Fprintf(os.Stderr, "  get        Show one watcher\n")
		fmt.Fprintf(os.Stderr, "  cancel     Cancel a watcher\n")
		fmt.Fprintf(os.Stderr, "  recon      Show or run a reconciliation scan\n")
		fmt.Fprintf(os.Stderr, "  events     Show recent lifecycle events\n")
		fmt.Fprintf(os.Stderr, "\nThe daemon address comes from BREAKWATCH_ADDR (default http://localhost:8089).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	addr := "http://localhost:8089"
	if a := os.Getenv("BREAKWATCH_ADDR"); a != "" {
		addr = a
	}
	client := breakwatch.NewClient(addr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("breakwatch-cli %s\n", version)

	case "watch":
		err = cmdWatch(ctx, client, os.Args[2:])

	case "list":
		err = cmdList(ctx, client)

	case "get":
		if len(os.Args) < 3 {
			err = fmt.Errorf("usage: breakwatch-cli get <id>")
			break
		}
		err = printJSONResult(client.GetWatcher(ctx, os.Args[2]))

	case "cancel":
		if len(os.Args) < 3 {
			err = fmt.Errorf("usage: breakwatch-cli cancel <id>")
			break
		}
		err = printJSONResult(client.CancelWatcher(ctx, os.Args[2]))

	case "recon":
		err = cmdRecon(ctx, client, os.Args[2:])

	case "events":
		err = cmdEvents(ctx, client, os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdWatch(ctx context.Context, client *breakwatch.Client, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	symbol := fs.String("symbol", "", "ticker symbol (required)")
	level := fs.Float64("level", 0, "breakout trigger level (required)")
	qty := fs.Int("qty", 0, "total entry quantity (required)")
	entry := fs.String("entry", "market", "entry style: market | limit_at_ask")
	tps := fs.String("tp", "", "comma-separated take-profit levels, ascending (required)")
	ratio := fs.String("ratio", "", "leg split like 70-30 (default by leg count)")
	stop := fs.Float64("stop", 0, "initial stop-loss price (required)")
	session := fs.String("session", "rth", "session policy: rth | extended")
	fast := fs.Bool("fast", false, "enable the fast entry path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tpLevels, err := parseFloats(*tps)
	if err != nil {
		return fmt.Errorf("parsing -tp: %w", err)
	}

	wt, err := client.CreateWatcher(ctx, breakwatch.WatcherRequest{
		Symbol:     *symbol,
		Level:      *level,
		Qty:        *qty,
		Entry:      *entry,
		TakeProfit: tpLevels,
		Ratio:      *ratio,
		StopLoss:   *stop,
		Session:    *session,
		FastEntry:  *fast,
	})
	if err != nil {
		return err
	}
	fmt.Printf("watcher %s created: %s @ %g\n", wt.ID, wt.Symbol, *level)
	return nil
}

func cmdList(ctx context.Context, client *breakwatch.Client) error {
	watchers, err := client.ListWatchers(ctx)
	if err != nil {
		return err
	}
	if len(watchers) == 0 {
		fmt.Println("no watchers")
		return nil
	}
	for _, w := range watchers {
		line := fmt.Sprintf("%s  %-6s %-10s", w.ID, w.Symbol, w.State)
		if w.EntryQty > 0 {
			line += fmt.Sprintf("  filled %d @ %.2f", w.EntryQty, w.EntryPrice)
		}
		if w.FailReason != "" {
			line += "  (" + w.FailReason + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func cmdRecon(ctx context.Context, client *breakwatch.Client, args []string) error {
	fs := flag.NewFlagSet("recon", flag.ExitOnError)
	scan := fs.Bool("scan", false, "run a fresh scan instead of showing the last report")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		report breakwatch.ReconReport
		err    error
	)
	if *scan {
		report, err = client.ReconScan(ctx)
	} else {
		report, err = client.ReconReport(ctx)
	}
	if err != nil {
		return err
	}
	if report.Clean() {
		fmt.Println("clean")
		return nil
	}
	for _, o := range report.Orphans {
		fmt.Printf("orphan  %s %s %s %s qty %g\n", o.OrderID, o.Symbol, o.Side, o.Type, o.Qty)
	}
	for _, g := range report.Gaps {
		fmt.Printf("gap     %s position %g covered %g\n", g.Symbol, g.PositionQty, g.CoveredQty)
	}
	return nil
}

func cmdEvents(ctx context.Context, client *breakwatch.Client, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	watcherID := fs.String("watcher", "", "filter to one watcher id")
	limit := fs.Int("limit", 50, "number of events to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	evs, err := client.Events(ctx, *watcherID, *limit)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		line := fmt.Sprintf("%s  %-20s %s", ev.At.Format(time.RFC3339), ev.Kind, ev.Symbol)
		if ev.Leg >= 0 {
			line += fmt.Sprintf(" leg %d", ev.Leg)
		}
		if len(ev.Fields) > 0 {
			raw, _ := json.Marshal(ev.Fields)
			line += " " + string(raw)
		}
		fmt.Println(line)
	}
	return nil
}

func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func printJSONResult(wt breakwatch.Watcher, err error) error {
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(wt, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
