package workq

import (
	"code.hybscloud.com/lfq"
	"code.hybscloud.com/spin"
)

// failureFeed carries Failures from many workers to a single collector goroutine.
//
// Workers push into a lock-free MPSC queue and poke notify; the collector drains the
// queue and calls record for each failure, so record never runs concurrently with
// itself. push never drops: while the queue is full it spins until the collector
// makes room. The owner calls close after every worker has exited; run then drains
// what is left and returns.
type failureFeed struct {
	q       *lfq.MPSC[Failure]
	notify  chan struct{}
	closeCh chan struct{}
	record  func(Failure)
}

func newFailureFeed(size uint, record func(Failure)) *failureFeed {
	return &failureFeed{
		q:       lfq.NewMPSC[Failure](int(size)),
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		record:  record,
	}
}

func (f *failureFeed) push(fl Failure) {
	sw := spin.Wait{}
	for {
		err := f.q.Enqueue(&fl)
		if err == nil {
			break
		}
		if !lfq.IsWouldBlock(err) {
			panic(err)
		}
		f.poke()
		sw.Once()
	}
	f.poke()
}

func (f *failureFeed) poke() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *failureFeed) run() {
	for {
		select {
		case <-f.notify:
			f.drain()
		case <-f.closeCh:
			f.drain()
			return
		}
	}
}

func (f *failureFeed) drain() {
	for {
		fl, err := f.q.Dequeue()
		if err != nil {
			return
		}
		f.record(fl)
	}
}

// close stops run after a final drain. Must be called once, after the last push.
func (f *failureFeed) close() {
	f.q.Drain()
	close(f.closeCh)
}
