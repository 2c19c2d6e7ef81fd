package workq

import (
	"context"
	"log/slog"
)

// faultForwarder consumes unexpected producer/worker faults (in). On the first fault
// it calls abort so the coordinator skips straight to shutting down; every fault is
// passed to record. After closeCh is closed it drains whatever is left and exits.
//
// The owner controls lifecycle: faultForwarder does not close any channels.
type faultForwarder struct {
	in      <-chan error
	closeCh <-chan struct{}
	abort   context.CancelFunc
	record  func(error)
	logger  *slog.Logger
}

func newFaultForwarder(
	in <-chan error, closeCh <-chan struct{}, abort context.CancelFunc, record func(error), logger *slog.Logger,
) *faultForwarder {
	return &faultForwarder{in: in, closeCh: closeCh, abort: abort, record: record, logger: logger}
}

func (f *faultForwarder) run() {
	aborted := false
	for {
		select {
		case e := <-f.in:
			// Abort first so blocked joins and producers return promptly.
			f.abort()
			if !aborted {
				aborted = true
				f.logger.Error("fault, aborting run", slog.Any("error", e))
			} else {
				f.logger.Error("fault", slog.Any("error", e))
			}
			f.record(e)
		case <-f.closeCh:
			for {
				select {
				case e := <-f.in:
					f.record(e)
				default:
					return
				}
			}
		}
	}
}
