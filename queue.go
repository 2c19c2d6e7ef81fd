package workq

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// Queue is a FIFO buffer of Items with an optional capacity and an unfinished-work
// counter backing the Join barrier.
//
// Every Put that is accepted increments the counter; every TaskDone decrements it.
// Because Get and TaskDone are separate calls, Join waits for work that is fully
// processed, not merely dequeued.
//
// All methods are safe for concurrent use. Put and Get suspend on a full and an empty
// queue respectively; both honour context cancellation without losing items.
type Queue struct {
	// noCopy prevents accidental copying of the queue.
	//go:nocopy
	nc noCopy

	mu         sync.Mutex
	capacity   int // 0 means unbounded
	items      []Item
	getters    []*waiter // non-empty only while items is empty
	putters    []*waiter // non-empty only while items is full
	joiners    []chan struct{}
	unfinished int
	draining   bool // no more puts
	closed     bool // no more puts or gets

	seq    atomix.Uint64
	inst   queueInstruments
	logger *slog.Logger
}

// waiter is a suspended Put or Get. The side resolving it sets item/err under the
// queue lock and then closes ready.
type waiter struct {
	ready chan struct{}
	item  Item
	err   error
}

func newWaiter(item Item) *waiter {
	return &waiter{ready: make(chan struct{}), item: item}
}

func (w *waiter) resolve(item Item, err error) {
	w.item, w.err = item, err
	close(w.ready)
}

func (w *waiter) resolved() bool {
	select {
	case <-w.ready:
		return true
	default:
		return false
	}
}

// NewQueue creates a Queue. Only WithCapacity, WithLogger and WithMetrics apply.
func NewQueue(opts ...Option) (*Queue, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newQueue(cfg), nil
}

func newQueue(cfg *config) *Queue {
	return &Queue{
		capacity: int(cfg.Capacity),
		inst:     newQueueInstruments(cfg.Metrics),
		logger:   cfg.Logger,
	}
}

// NewItem wraps payload into an Item carrying the next sequence id.
func (q *Queue) NewItem(payload []byte) Item {
	return Item{ID: q.seq.AddAcqRel(1), Payload: payload}
}

// Put inserts item at the tail.
//
// Semantics:
// - On a full bounded queue it suspends until a Get frees a slot; items are never dropped.
// - The unfinished counter is incremented only once the item is accepted.
// - Returns ErrQueueClosed once Drain or Close has been called, including for Puts
//   suspended at that moment.
// - Returns ctx.Err() if ctx ends while suspended; the item was not accepted.
func (q *Queue) Put(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.admitLocked(item) {
		q.mu.Unlock()
		return nil
	}
	w := newWaiter(item)
	q.putters = append(q.putters, w)
	q.mu.Unlock()

	start := time.Now()
	defer func() { q.inst.putWait.Record(time.Since(start).Seconds()) }()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// A Get may have promoted the item before the cancellation was observed.
	if w.resolved() {
		return w.err
	}
	q.putters = slices.DeleteFunc(q.putters, func(x *waiter) bool { return x == w })
	return ctx.Err()
}

// TryPut inserts item without suspending. It returns ErrWouldBlock if the queue is full.
func (q *Queue) TryPut(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return ErrQueueClosed
	}
	if !q.admitLocked(item) {
		return ErrWouldBlock
	}
	return nil
}

// admitLocked hands item to the longest-waiting Get or buffers it if there is room.
func (q *Queue) admitLocked(item Item) bool {
	if len(q.getters) > 0 {
		g := q.getters[0]
		q.getters[0] = nil
		q.getters = q.getters[1:]
		q.unfinished++
		q.inst.put.Add(1)
		q.inst.got.Add(1)
		q.inst.inflight.Add(1)
		g.resolve(item, nil)
		return true
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, item)
	q.unfinished++
	q.inst.put.Add(1)
	q.inst.depth.Add(1)
	return true
}

// Get removes and returns the head item, suspending while the queue is empty.
//
// Semantics:
// - FIFO across all producers; suspended Gets are served in the order they began waiting.
// - Returns ErrQueueClosed after Close.
// - Returns ctx.Err() if ctx ends while suspended. Cancellation leaves the unfinished
//   counter untouched. If an item was handed over concurrently with the cancellation,
//   the item is returned with a nil error and must be acknowledged as usual.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Item{}, ErrQueueClosed
	}
	if it, ok := q.popLocked(); ok {
		q.mu.Unlock()
		return it, nil
	}
	w := newWaiter(Item{})
	q.getters = append(q.getters, w)
	q.mu.Unlock()

	select {
	case <-w.ready:
		return w.item, w.err
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if w.resolved() {
		return w.item, w.err
	}
	q.getters = slices.DeleteFunc(q.getters, func(x *waiter) bool { return x == w })
	return Item{}, ctx.Err()
}

// TryGet removes the head item without suspending. It returns ErrWouldBlock if the queue is empty.
func (q *Queue) TryGet() (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Item{}, ErrQueueClosed
	}
	if it, ok := q.popLocked(); ok {
		return it, nil
	}
	return Item{}, ErrWouldBlock
}

// popLocked removes the head item and promotes the longest-waiting Put into the freed slot.
func (q *Queue) popLocked() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.inst.depth.Add(-1)
	q.inst.got.Add(1)
	q.inst.inflight.Add(1)

	if len(q.putters) > 0 {
		p := q.putters[0]
		q.putters[0] = nil
		q.putters = q.putters[1:]
		q.items = append(q.items, p.item)
		q.unfinished++
		q.inst.put.Add(1)
		q.inst.depth.Add(1)
		p.resolve(p.item, nil)
	}
	return it, true
}

// TaskDone acknowledges that an item obtained from Get has been fully processed.
// It must be called exactly once per successful Get, after processing. Calling it
// without an outstanding Get returns ErrProtocolViolation and leaves the counter as is.
func (q *Queue) TaskDone() error {
	q.mu.Lock()
	if q.unfinished <= len(q.items) {
		unfinished, buffered := q.unfinished, len(q.items)
		q.mu.Unlock()
		q.logger.Error("TaskDone without an outstanding Get",
			slog.Int("unfinished", unfinished), slog.Int("buffered", buffered))
		return protocolViolation("TaskDone called more times than Get")
	}
	q.unfinished--
	q.inst.inflight.Add(-1)
	q.inst.done.Add(1)
	if q.unfinished == 0 {
		q.releaseJoinersLocked()
	}
	q.mu.Unlock()
	return nil
}

// Join suspends until every accepted item has been acknowledged with TaskDone.
// It returns immediately when nothing is outstanding, and ctx.Err() if ctx ends first.
//
// Puts racing with Join after the counter reached zero are not covered: callers stop
// their producers before joining.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.joiners = append(q.joiners, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-ch:
		return nil
	default:
	}
	q.joiners = slices.DeleteFunc(q.joiners, func(x chan struct{}) bool { return x == ch })
	return ctx.Err()
}

func (q *Queue) releaseJoinersLocked() {
	for _, ch := range q.joiners {
		close(ch)
	}
	q.joiners = nil
}

// Drain stops intake. Subsequent Puts, and Puts suspended at this moment, fail with
// ErrQueueClosed. Get and TaskDone keep working so buffered items can still be processed.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return
	}
	q.draining = true
	q.rejectLocked(&q.putters)
}

// Close rejects further Puts and Gets and wakes every suspended caller with
// ErrQueueClosed. Items still buffered are removed from the unfinished counter and
// returned to the caller, which becomes responsible for them. Items already handed
// out keep counting until acknowledged. Close is idempotent; later calls return nil.
func (q *Queue) Close() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.draining = true
	q.rejectLocked(&q.putters)
	q.rejectLocked(&q.getters)

	leftover := q.items
	q.items = nil
	q.unfinished -= len(leftover)
	q.inst.depth.Add(-int64(len(leftover)))
	if q.unfinished == 0 {
		q.releaseJoinersLocked()
	}
	return leftover
}

func (q *Queue) rejectLocked(ws *[]*waiter) {
	for _, w := range *ws {
		w.resolve(Item{}, ErrQueueClosed)
	}
	*ws = nil
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity, 0 for an unbounded queue.
func (q *Queue) Cap() int { return q.capacity }

// Unfinished returns the number of accepted items not yet acknowledged,
// buffered ones included.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// noCopy is a vet-recognized marker to discourage copying types with this field embedded.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
