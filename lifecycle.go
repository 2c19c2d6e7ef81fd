package workq

import (
	"sync"
)

// lifecycleCoordinator encapsulates the shutting-down sequence of a Coordinator.
// It is a wiring helper: it doesn't own goroutines or channels; it orchestrates
// cancellation, waits and closures in a deterministic order.
//
// Close() is safe for concurrent calls; the sequence executes exactly once.
type lifecycleCoordinator struct {
	cancelWorkers   func()
	workersWG       *sync.WaitGroup
	cancelProducers func()
	producersWG     *sync.WaitGroup
	closeQueue      func() []Item
	closeCh         chan struct{}
	forwarderWG     *sync.WaitGroup
	closeFeed       func()
	feedWG          *sync.WaitGroup

	once     sync.Once
	leftover []Item
}

func newLifecycleCoordinator(
	cancelWorkers func(),
	workersWG *sync.WaitGroup,
	cancelProducers func(),
	producersWG *sync.WaitGroup,
	closeQueue func() []Item,
	closeCh chan struct{},
	forwarderWG *sync.WaitGroup,
	closeFeed func(),
	feedWG *sync.WaitGroup,
) *lifecycleCoordinator {
	return &lifecycleCoordinator{
		cancelWorkers:   cancelWorkers,
		workersWG:       workersWG,
		cancelProducers: cancelProducers,
		producersWG:     producersWG,
		closeQueue:      closeQueue,
		closeCh:         closeCh,
		forwarderWG:     forwarderWG,
		closeFeed:       closeFeed,
		feedWG:          feedWG,
	}
}

// Close executes the shutdown sequence exactly once and returns the items that were
// still buffered when the queue closed:
// 1) cancel idle workers (a worker only observes cancellation while waiting in Get)
// 2) wait for every worker to exit
// 3) cancel producers
// 4) wait for every producer to exit
// 5) close the queue, collecting leftover items
// 6) close closeCh and wait for the fault forwarder
// 7) close the failure feed and wait for its collector
func (lc *lifecycleCoordinator) Close() []Item {
	lc.once.Do(func() {
		if lc.cancelWorkers != nil {
			lc.cancelWorkers()
		}
		if lc.workersWG != nil {
			lc.workersWG.Wait()
		}
		if lc.cancelProducers != nil {
			lc.cancelProducers()
		}
		if lc.producersWG != nil {
			lc.producersWG.Wait()
		}
		if lc.closeQueue != nil {
			lc.leftover = lc.closeQueue()
		}
		if lc.closeCh != nil {
			close(lc.closeCh)
		}
		if lc.forwarderWG != nil {
			lc.forwarderWG.Wait()
		}
		if lc.closeFeed != nil {
			lc.closeFeed()
		}
		if lc.feedWG != nil {
			lc.feedWG.Wait()
		}
	})
	return lc.leftover
}
