// Command telemetry-logger samples machine health metrics (CPU, per-core
// usage, top processes, battery/power state) on a fixed interval and
// appends them to a SQLite store for later efficiency analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/0xrushi/rpi-energy-logger/internal/collector"
	"github.com/0xrushi/rpi-energy-logger/internal/config"
	"github.com/0xrushi/rpi-energy-logger/internal/sampler"
	"github.com/0xrushi/rpi-energy-logger/internal/storage"
)

// topicHandler wraps an slog.Handler and filters records by a "topic"
// attribute. Records without a topic always pass through (startup messages,
// errors, the per-tick summary). Records with a topic only pass if that
// topic is enabled.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func (h *topicHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.inner.Enabled(context.Background(), level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional TOML config file; flags override its values")
	dbPath := flag.String("db", "", "SQLite database path (default: telemetry.db)")
	interval := flag.Int("interval", 0, "sampling interval in seconds, must be >= 1 (default: 5)")
	topProcs := flag.Int("top-procs", -1, "number of top processes by CPU to log each tick, >= 0 (default: 10)")
	powerSupply := flag.String("power-supply", "", "battery source: 'auto', 'none', or a /sys/class/power_supply entry (default: auto)")
	verbose := flag.Bool("verbose", false, "print one summary line per tick and enable all log topics")
	logFlag := flag.String("log", "", "comma-separated log topics: cpu,battery,process (or 'all')")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
			return 2
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DBPath = *dbPath
		case "interval":
			cfg.IntervalSeconds = *interval
		case "top-procs":
			cfg.TopProcs = *topProcs
		case "power-supply":
			cfg.PowerSupply = *powerSupply
		case "verbose":
			cfg.Verbose = *verbose
		}
	})

	topics := make(map[string]bool)
	if cfg.Verbose {
		topics["all"] = true
	}
	if *logFlag != "" {
		for _, t := range strings.Split(*logFlag, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}
	handler := &topicHandler{
		inner:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	}
	logger := slog.New(handler)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "err", err)
		return 2
	}
	defer store.Close()

	battery := collector.Detect(cfg.PowerSupply)
	if _, ok := battery.(collector.NullSensor); ok && cfg.PowerSupply != "none" {
		logger.Info("no battery found, power fields will be null")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("telemetry-logger started",
		"db", cfg.DBPath,
		"interval_s", cfg.IntervalSeconds,
		"top_procs", cfg.TopProcs)

	if err := sampler.New(cfg, store, battery, logger).Run(ctx); err != nil {
		logger.Error("run failed", "err", err)
		return 2
	}
	return 0
}
