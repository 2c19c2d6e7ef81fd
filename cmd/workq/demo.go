package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"time"

	"github.com/ygrebnov/workq"
	"github.com/ygrebnov/workq/internal/config"
	"github.com/ygrebnov/workq/pool"
)

// runDemo runs cfg.Demo.Producers producers emitting cfg.Demo.Items payloads each
// through cfg.Queue.Workers workers, then prints a summary.
func runDemo(ctx context.Context, cfg config.File, logger *slog.Logger, out io.Writer) error {
	opts := []workq.Option{workq.WithLogger(logger)}
	if cfg.Queue.Capacity > 0 {
		opts = append(opts, workq.WithCapacity(cfg.Queue.Capacity))
	}
	c, err := workq.New(ctx, opts...)
	if err != nil {
		return err
	}

	hashers := pool.NewFixed(uint(cfg.Queue.Workers), sha256.New)
	process := demoProcess(cfg.Demo, hashers, logger)
	for range cfg.Queue.Workers {
		if err := c.SpawnWorker(process); err != nil {
			return err
		}
	}
	gen := demoGenerate(cfg.Demo.GenerateDelay.D())
	for range cfg.Demo.Producers {
		if err := c.SpawnProducer(cfg.Demo.Items, gen); err != nil {
			return err
		}
	}

	report, err := c.Run(ctx)
	fmt.Fprintf(out, "produced: %d, processed: %d, failed: %d, leftover: %d\n",
		report.Produced, report.Processed, report.Failed(), len(report.Leftover))
	fmt.Fprintf(out, "run in: %s\n", report.Elapsed)
	return err
}

// demoGenerate returns random 5-byte hex payloads after delay.
func demoGenerate(delay time.Duration) workq.GenerateFunc {
	return func(ctx context.Context, _ int) ([]byte, error) {
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		b := make([]byte, 5)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		return []byte(hex.EncodeToString(b)), nil
	}
}

// demoProcess hashes the payload for CPUDelay, then waits IODelay. Both phases
// finish before the item is acknowledged.
func demoProcess(cfg config.DemoConfig, hashers pool.Pool[hash.Hash], logger *slog.Logger) workq.ProcessFunc {
	return func(ctx context.Context, item workq.Item) error {
		logger.Info("worker got item", slog.Uint64("item", item.ID), slog.String("payload", string(item.Payload)))

		h := hashers.Get()
		digest := burn(h, item.Payload, cfg.CPUDelay.D())
		hashers.Put(h)

		if err := sleepCtx(ctx, cfg.IODelay.D()); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		logger.Info("worker processed item", slog.Uint64("item", item.ID), slog.String("digest", digest[:16]))
		return nil
	}
}

// burn re-hashes payload until d has elapsed (at least once) and returns the last digest.
func burn(h hash.Hash, payload []byte, d time.Duration) string {
	deadline := time.Now().Add(d)
	sum := payload
	for {
		h.Reset()
		h.Write(sum)
		sum = h.Sum(nil)
		if !time.Now().Before(deadline) {
			return hex.EncodeToString(sum)
		}
	}
}
