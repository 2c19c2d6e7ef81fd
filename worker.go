package workq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"code.hybscloud.com/atomix"
)

// ProcessFunc processes one item. A returned error is recorded as a Failure for that
// item; the item is still acknowledged and the worker keeps going.
//
// ProcessFunc must not return before its work is complete: the item is acknowledged
// right after it returns.
type ProcessFunc func(ctx context.Context, item Item) error

type worker struct {
	id    int
	q     *Queue
	fn    ProcessFunc
	state atomix.Uint64

	onFailure func(Failure)
	onAck     func()
	inst      runInstruments
	logger    *slog.Logger
}

func (w *worker) State() WorkerState { return WorkerState(w.state.LoadAcquire()) }

func (w *worker) setState(s WorkerState) { w.state.StoreRelease(uint64(s)) }

// run is the worker loop: Get, process, TaskDone, repeat.
//
// getCtx is only observed while waiting in Get, so a worker is never interrupted
// between receiving an item and acknowledging it. procCtx is handed to the
// ProcessFunc. run returns nil when cancelled or when the queue is closed, and a
// non-nil error for faults.
func (w *worker) run(getCtx, procCtx context.Context) error {
	for {
		w.setState(WorkerIdle)
		item, err := w.q.Get(getCtx)
		if err != nil {
			w.setState(WorkerCancelled)
			if errors.Is(err, ErrQueueClosed) || getCtx.Err() != nil {
				w.logger.Debug("worker cancelled", slog.Int("worker", w.id))
				return nil
			}
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		w.setState(WorkerProcessing)
		fault := w.process(procCtx, item)

		if err := w.q.TaskDone(); err != nil {
			w.setState(WorkerFailed)
			return errors.Join(fmt.Errorf("worker %d, item %d: %w", w.id, item.ID, err), fault)
		}
		w.onAck()
		if fault != nil {
			w.setState(WorkerFailed)
			return fault
		}
	}
}

// process runs the ProcessFunc for item. Errors are reported as failures; a panic is
// recovered and returned as a fault.
func (w *worker) process(ctx context.Context, item Item) (fault error) {
	start := time.Now()
	defer func() {
		w.inst.process.Record(time.Since(start).Seconds())
		if r := recover(); r != nil {
			fault = fmt.Errorf("%w: worker %d, item %d: %v", ErrWorkerPanicked, w.id, item.ID, r)
		}
	}()

	if err := w.fn(ctx, item); err != nil {
		tagged := newItemTaggedError(err, item.ID, w.id)
		w.inst.failures.Add(1)
		w.logger.Error("processing failed",
			slog.Uint64("item", item.ID), slog.Int("worker", w.id), slog.Any("error", err))
		w.onFailure(Failure{ItemID: item.ID, WorkerID: w.id, Err: tagged, At: time.Now()})
	}
	return nil
}
