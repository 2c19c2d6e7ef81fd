package workq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// GenerateFunc produces the payload of the n-th item (0-based) of a producer.
// Generation is expected to succeed; an error is treated as a producer fault and
// aborts the run; so does a panic, reported as ErrProducerPanicked. Sources that can
// legitimately fail per item should return a payload describing the failure and let
// the ProcessFunc handle it.
type GenerateFunc func(ctx context.Context, n int) ([]byte, error)

type producer struct {
	id    int
	quota int
	q     *Queue
	gen   GenerateFunc

	onPut  func(Item)
	logger *slog.Logger
}

// run emits quota items. It returns nil when done or when the run is cancelled.
func (p *producer) run(ctx context.Context) error {
	for n := 0; n < p.quota; n++ {
		payload, err := p.generate(ctx, n)
		if err != nil {
			if errors.Is(err, ErrProducerPanicked) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: producer %d, item %d of %d: %w", ErrProducerFailed, p.id, n+1, p.quota, err)
		}

		item := p.q.NewItem(payload)
		if err := p.q.Put(ctx, item); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrQueueClosed):
				p.logger.Warn("producer stopped, queue no longer accepts items",
					slog.Int("producer", p.id), slog.Int("emitted", n), slog.Int("quota", p.quota))
				return nil
			default:
				return fmt.Errorf("%w: producer %d: %w", ErrProducerFailed, p.id, err)
			}
		}
		p.onPut(item)
		p.logger.Debug("item added", slog.Int("producer", p.id), slog.Uint64("item", item.ID))
	}
	return nil
}

// generate calls the GenerateFunc, turning a panic into a producer fault.
func (p *producer) generate(ctx context.Context, n int) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("%w: %w: producer %d, item %d of %d: %v",
				ErrProducerFailed, ErrProducerPanicked, p.id, n+1, p.quota, r)
		}
	}()
	return p.gen(ctx, n)
}
