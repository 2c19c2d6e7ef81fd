package workq

import (
	"context"

	"github.com/ygrebnov/errorc"
)

// ProcessAll processes payloads with the given number of workers using a new
// Coordinator configured by opts. It owns the lifecycle: one producer emits the
// payloads in order, the workers process them, and Run drains and shuts down.
//
// Semantics:
// - Item ids follow payload order, starting at 1.
// - Processing failures do not stop the batch; they are listed in Report.Failures.
// - The returned error is non-nil only for invalid arguments or an aborted run.
func ProcessAll(ctx context.Context, payloads [][]byte, workers int, fn ProcessFunc, opts ...Option) (*Report, error) {
	if workers <= 0 {
		return nil, errorc.With(ErrInvalidConfig, errorc.String("workers", "ProcessAll requires workers > 0"))
	}

	c, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	// Spawning cannot fail on a fresh coordinator once fn is validated.
	if err = c.SpawnWorker(fn); err != nil {
		_, _ = c.Shutdown(ctx)
		return nil, err
	}
	for i := 1; i < workers; i++ {
		_ = c.SpawnWorker(fn)
	}
	_ = c.SpawnProducer(len(payloads), func(_ context.Context, n int) ([]byte, error) {
		return payloads[n], nil
	})

	return c.Run(ctx)
}
