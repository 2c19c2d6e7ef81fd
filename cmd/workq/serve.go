package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ygrebnov/workq"
	"github.com/ygrebnov/workq/internal/config"
	"github.com/ygrebnov/workq/internal/jobs"
	"github.com/ygrebnov/workq/internal/server"
	"github.com/ygrebnov/workq/metrics"
)

// runServe serves the job API until ctx ends, then stops HTTP intake and drains
// the queue within the configured shutdown timeout.
func runServe(ctx context.Context, cfg config.File, logger *slog.Logger) error {
	mp := metrics.NewBasicProvider()
	opts := []workq.Option{
		workq.WithLogger(logger),
		workq.WithMetrics(mp),
		workq.WithFailureHandler(func(f workq.Failure) {
			logger.Warn("job failed", slog.Uint64("id", f.ItemID), slog.Any("error", f.Err))
		}),
	}
	if cfg.Queue.Capacity > 0 {
		opts = append(opts, workq.WithCapacity(cfg.Queue.Capacity))
	}

	// Processing must outlive the signal so accepted jobs complete during the drain.
	c, err := workq.New(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return err
	}
	tracker := jobs.NewTracker()
	defer tracker.Close()

	process := jobs.Processor(tracker, server.AnalyzeJob(cfg.HTTP.JobDelay.D()))
	for range cfg.Queue.Workers {
		if err := c.SpawnWorker(process); err != nil {
			return err
		}
	}
	c.Start()

	srv := server.New(cfg.HTTP.Addr, c, tracker,
		server.WithMetrics(mp),
		server.WithLogger(logger),
		server.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout.D()))
	serveErr := srv.Start(ctx)

	logger.Info("draining queue", slog.Int("unfinished", c.Queue().Unfinished()))
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout.D())
	defer cancel()
	report, err := c.Shutdown(drainCtx)
	logger.Info("queue drained",
		slog.Uint64("processed", report.Processed),
		slog.Int("failed", report.Failed()),
		slog.Int("leftover", len(report.Leftover)),
		slog.Duration("elapsed", report.Elapsed))

	return errors.Join(serveErr, err)
}
