package workq

import (
	"io"
	"log/slog"

	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/workq/metrics"
)

// config holds Queue and Coordinator configuration.
type config struct {
	// Capacity bounds the number of buffered items.
	// Default: 0 (unbounded)
	Capacity uint

	// Logger receives lifecycle events, processing failures and faults.
	// Default: a logger that discards everything.
	Logger *slog.Logger

	// Metrics is the provider instruments are created from.
	// Default: metrics.NoopProvider
	Metrics metrics.Provider

	// FailureHandler, when set, is called once per processing failure.
	// Calls are serialized on a single goroutine.
	FailureHandler func(Failure)

	// FailureFeedSize is the capacity of the feed carrying failures from workers
	// to the collector. It is rounded up to a power of two.
	// Default: 256.
	FailureFeedSize uint

	// FaultsBufferSize is the buffer of the internal faults channel.
	// Default: 64.
	FaultsBufferSize uint
}

// defaultConfig centralizes default values for config.
func defaultConfig() config {
	return config{
		Capacity:         0, // unbounded
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:          metrics.NewNoopProvider(),
		FailureHandler:   nil,
		FailureFeedSize:  256,
		FaultsBufferSize: 64,
	}
}

func buildConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig checks cross-option invariants.
func validateConfig(cfg *config) error {
	if cfg.FailureFeedSize < 2 {
		return errorc.With(ErrInvalidConfig, errorc.String("FailureFeedSize", "must be >= 2"))
	}
	if cfg.FaultsBufferSize == 0 {
		return errorc.With(ErrInvalidConfig, errorc.String("FaultsBufferSize", "must be > 0"))
	}
	return nil
}

// Option configures a Queue or a Coordinator.
type Option func(*config) error

// WithCapacity bounds the queue to n buffered items (must be > 0).
// Without it the queue is unbounded.
func WithCapacity(n uint) Option {
	return func(cfg *config) error {
		if n == 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("Capacity", "WithCapacity requires n > 0"))
		}
		cfg.Capacity = n
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) error {
		if l == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("Logger", "WithLogger requires a non-nil logger"))
		}
		cfg.Logger = l
		return nil
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("Metrics", "WithMetrics requires a non-nil provider"))
		}
		cfg.Metrics = p
		return nil
	}
}

// WithFailureHandler registers fn to observe every processing failure.
// Calls run one at a time on the collector goroutine. fn should return quickly:
// while it blocks, failures pile up and workers reporting new ones wait once the
// feed is full. A panic in fn is logged and does not affect the run.
func WithFailureHandler(fn func(Failure)) Option {
	return func(cfg *config) error { cfg.FailureHandler = fn; return nil }
}

// WithFailureFeedSize sets the capacity of the worker-to-collector failure feed (default 256).
func WithFailureFeedSize(n uint) Option {
	return func(cfg *config) error { cfg.FailureFeedSize = n; return nil }
}

// WithFaultsBuffer sets the buffer of the internal faults channel (default 64).
func WithFaultsBuffer(n uint) Option {
	return func(cfg *config) error { cfg.FaultsBufferSize = n; return nil }
}
