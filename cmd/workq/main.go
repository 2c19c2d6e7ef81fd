// Command workq runs producers and workers over a bounded work queue.
//
// In demo mode it simulates a batch: producers generate random payloads with some
// latency, workers spend a CPU phase and an I/O phase on each. In serve mode it
// exposes a text-analysis job API and drains the queue on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ygrebnov/workq/internal/config"
	"github.com/ygrebnov/workq/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, builds the configuration and runs the selected mode.
// It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workq", flag.ContinueOnError)
	fs.SetOutput(stderr)

	def := config.Defaults()
	var (
		configFile    = fs.String("config", "", "configuration file (YAML or JSON)")
		mode          = fs.String("mode", def.Mode, "demo or serve")
		producers     = fs.Int("producers", def.Demo.Producers, "demo: number of producers")
		workers       = fs.Int("workers", def.Queue.Workers, "number of workers")
		items         = fs.Int("items", def.Demo.Items, "demo: items per producer")
		capacity      = fs.Uint("capacity", def.Queue.Capacity, "queue capacity, 0 for unbounded")
		generateDelay = fs.Duration("generate-delay", def.Demo.GenerateDelay.D(), "demo: time to generate one payload")
		cpuDelay      = fs.Duration("cpu-delay", def.Demo.CPUDelay.D(), "demo: CPU phase per item")
		ioDelay       = fs.Duration("io-delay", def.Demo.IODelay.D(), "demo: I/O phase per item")
		addr          = fs.String("addr", def.HTTP.Addr, "serve: listen address")
		logLevel      = fs.String("log-level", def.Log.Level, "debug, info, warn or error")
		logFormat     = fs.String("log-format", def.Log.Format, "text or json")
		showVersion   = fs.Bool("version", false, "print the version and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, `workq - bounded work queue with a join barrier

Usage:
  workq [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(stderr, `
Examples:
  # 5 producers x 3 items, 5 workers, capacity 10
  workq

  # faster demo
  workq -producers 2 -items 5 -cpu-delay 100ms -io-delay 100ms -generate-delay 50ms

  # job API
  workq -mode serve -addr :8080
`)
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "workq version %s\n", version)
		return 0
	}

	cfg := def
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintf(stderr, "config: %v\n", err)
			return 1
		}
	}

	// Flags given explicitly override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "producers":
			cfg.Demo.Producers = *producers
		case "workers":
			cfg.Queue.Workers = *workers
		case "items":
			cfg.Demo.Items = *items
		case "capacity":
			cfg.Queue.Capacity = *capacity
		case "generate-delay":
			cfg.Demo.GenerateDelay = config.Duration(*generateDelay)
		case "cpu-delay":
			cfg.Demo.CPUDelay = config.Duration(*cpuDelay)
		case "io-delay":
			cfg.Demo.IODelay = config.Duration(*ioDelay)
		case "addr":
			cfg.HTTP.Addr = *addr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	switch cfg.Mode {
	case config.ModeServe:
		err = runServe(ctx, cfg, logger)
	default:
		err = runDemo(ctx, cfg, logger, stdout)
	}
	if err != nil {
		logger.Error("workq failed", slog.Any("error", err))
		return 1
	}
	return 0
}

// sleepCtx waits d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
