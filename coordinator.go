package workq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/ygrebnov/errorc"
)

// Coordinator owns one Queue and drives producers and workers through the run:
//
//	Starting -> Running -> Draining -> ShuttingDown -> Done
//
// Running waits for every producer to emit its quota, Draining waits for the queue's
// Join barrier, ShuttingDown cancels the workers (all idle by then) and waits for each
// of them to exit. Workers are therefore never cancelled while holding unacknowledged
// work, and the queue is never declared drained while a producer can still add to it.
//
// An unexpected fault (a producer whose generator fails, a worker whose ProcessFunc
// panics, a protocol violation) aborts the run: the coordinator skips to ShuttingDown,
// cancels everything, and reports the fault together with any items still buffered.
//
// Coordinator is a concrete struct; methods are safe for concurrent use.
type Coordinator struct {
	// noCopy prevents accidental copying of the coordinator.
	//go:nocopy
	nc noCopy

	config *config
	q      *Queue
	logger *slog.Logger
	inst   runInstruments

	// ctx is handed to producers and ProcessFuncs; abort cancels it.
	ctx   context.Context
	abort context.CancelFunc

	// workersCtx is observed by workers only while they wait in Get.
	workersCtx    context.Context
	cancelWorkers context.CancelFunc

	mu              sync.Mutex
	state           State
	producersSealed bool
	workers         []*worker
	producers       int
	failures        []Failure
	faults          []error

	producersWG sync.WaitGroup
	workersWG   sync.WaitGroup

	faultsCh    chan error
	closeCh     chan struct{}
	forwarderWG sync.WaitGroup

	feed   *failureFeed
	feedWG sync.WaitGroup

	produced  atomix.Uint64
	processed atomix.Uint64
	failed    atomix.Uint64
	startedAt time.Time

	finishOnce sync.Once
	report     *Report
	finishErr  error
}

// New creates a Coordinator in the Starting state. ctx bounds the whole run:
// cancelling it aborts producers, workers and processing.
func New(ctx context.Context, opts ...Option) (*Coordinator, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:    cfg,
		q:         newQueue(cfg),
		logger:    cfg.Logger,
		inst:      newRunInstruments(cfg.Metrics),
		faultsCh:  make(chan error, cfg.FaultsBufferSize),
		closeCh:   make(chan struct{}),
		startedAt: time.Now(),
	}
	c.ctx, c.abort = context.WithCancel(ctx)
	c.workersCtx, c.cancelWorkers = context.WithCancel(c.ctx)
	c.feed = newFailureFeed(cfg.FailureFeedSize, c.recordFailure)

	c.forwarderWG.Add(1)
	ff := newFaultForwarder(c.faultsCh, c.closeCh, c.abort, c.recordFault, c.logger)
	go func() {
		defer c.forwarderWG.Done()
		ff.run()
	}()

	c.feedWG.Add(1)
	go func() {
		defer c.feedWG.Done()
		c.feed.run()
	}()

	return c, nil
}

// Queue returns the queue owned by the coordinator.
func (c *Coordinator) Queue() *Queue { return c.q }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start moves the coordinator from Starting to Running. It is idempotent and is
// called implicitly by Run and Shutdown.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStarting {
		c.setStateLocked(StateRunning)
	}
}

func (c *Coordinator) setStateLocked(s State) {
	c.logger.Info("coordinator state", slog.String("from", c.state.String()), slog.String("to", s.String()))
	c.state = s
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

// SpawnProducer starts a producer emitting quota items generated by gen.
// It fails with ErrInvalidState once Run has started waiting for producers or
// the coordinator is past Running.
func (c *Coordinator) SpawnProducer(quota int, gen GenerateFunc) error {
	if quota < 0 {
		return errorc.With(ErrInvalidConfig, errorc.String("quota", "must be >= 0"))
	}
	if gen == nil {
		return errorc.With(ErrInvalidConfig, errorc.String("GenerateFunc", "must not be nil"))
	}

	c.mu.Lock()
	if c.state > StateRunning || c.producersSealed {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.producers++
	p := &producer{
		id:     c.producers,
		quota:  quota,
		q:      c.q,
		gen:    gen,
		onPut:  func(Item) { c.produced.AddAcqRel(1) },
		logger: c.logger,
	}
	c.producersWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.producersWG.Done()
		if err := p.run(c.ctx); err != nil {
			c.fault(err)
		}
	}()
	return nil
}

// SpawnWorker starts a worker processing items with fn.
// It fails with ErrInvalidState once the coordinator is past Running.
func (c *Coordinator) SpawnWorker(fn ProcessFunc) error {
	if fn == nil {
		return errorc.With(ErrInvalidConfig, errorc.String("ProcessFunc", "must not be nil"))
	}

	c.mu.Lock()
	if c.state > StateRunning {
		c.mu.Unlock()
		return ErrInvalidState
	}
	w := &worker{
		id:        len(c.workers) + 1,
		q:         c.q,
		fn:        fn,
		onFailure: c.pushFailure,
		onAck:     func() { c.processed.AddAcqRel(1) },
		inst:      c.inst,
		logger:    c.logger,
	}
	c.workers = append(c.workers, w)
	c.workersWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.workersWG.Done()
		if err := w.run(c.workersCtx, c.ctx); err != nil {
			c.fault(err)
		}
	}()
	return nil
}

// Submit enqueues payload as a new item, suspending while the queue is full.
// It is the entry point for host processes that receive work from outside
// (an HTTP handler, a message consumer). After Shutdown has begun it returns
// ErrQueueClosed.
func (c *Coordinator) Submit(ctx context.Context, payload []byte) (Item, error) {
	if c.State() >= StateDraining {
		return Item{}, ErrQueueClosed
	}
	item := c.q.NewItem(payload)
	if err := c.q.Put(ctx, item); err != nil {
		return Item{}, err
	}
	c.produced.AddAcqRel(1)
	return item, nil
}

// Run waits for every producer to finish, drains the queue and shuts the workers down.
//
// Semantics:
// - No producers may be spawned once Run is called.
// - Returns after every worker has exited; the Report is always non-nil.
// - A fault or the cancellation of ctx aborts the run; the returned error then wraps
//   ErrRunAborted and every recorded fault, and Report.Leftover holds the items that
//   were still buffered.
// - Run, Shutdown and repeated calls share a single shutdown sequence and result.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.state == StateStarting {
		c.setStateLocked(StateRunning)
	}
	c.producersSealed = true
	c.mu.Unlock()

	producersDone := make(chan struct{})
	go func() {
		c.producersWG.Wait()
		close(producersDone)
	}()

	select {
	case <-producersDone:
		return c.finish(ctx, nil)
	case <-c.ctx.Done():
		return c.finish(ctx, context.Cause(c.ctx))
	case <-ctx.Done():
		return c.finish(ctx, ctx.Err())
	}
}

// Shutdown stops accepting new items, waits until every accepted item has been
// acknowledged, then cancels the workers and waits for them to exit. Producers still
// running observe ErrQueueClosed and stop. It is meant for host processes that feed
// the queue through Submit.
//
// Cancelling ctx aborts the drain the same way a fault does.
func (c *Coordinator) Shutdown(ctx context.Context) (*Report, error) {
	c.Start()
	c.mu.Lock()
	c.producersSealed = true
	c.mu.Unlock()
	return c.finish(ctx, nil)
}

// finish runs the Draining and ShuttingDown phases once. cause is non-nil when the
// run is already aborted.
func (c *Coordinator) finish(ctx context.Context, cause error) (*Report, error) {
	c.finishOnce.Do(func() {
		c.report, c.finishErr = c.shutdownSequence(ctx, cause)
	})
	return c.report, c.finishErr
}

func (c *Coordinator) shutdownSequence(ctx context.Context, cause error) (*Report, error) {
	if cause == nil {
		c.setState(StateDraining)
		c.q.Drain()
		cause = c.join(ctx)
	}

	c.setState(StateShuttingDown)
	if cause != nil {
		c.logger.Warn("run aborted", slog.Any("cause", cause))
		c.abort()
	}

	lc := newLifecycleCoordinator(
		c.cancelWorkers,
		&c.workersWG,
		c.abort,
		&c.producersWG,
		c.q.Close,
		c.closeCh,
		&c.forwarderWG,
		c.feed.close,
		&c.feedWG,
	)
	leftover := lc.Close()

	c.setState(StateDone)
	report := c.buildReport(leftover)
	c.logger.Info("run finished",
		slog.Uint64("produced", report.Produced),
		slog.Uint64("processed", report.Processed),
		slog.Int("failed", len(report.Failures)),
		slog.Int("leftover", len(report.Leftover)),
		slog.Duration("elapsed", report.Elapsed))

	if cause == nil && len(report.Faults) == 0 {
		return report, nil
	}
	errs := make([]error, 0, len(report.Faults)+2)
	errs = append(errs, ErrRunAborted)
	// A fault cancels the run context itself; its Canceled cause adds nothing then.
	if cause != nil && (len(report.Faults) == 0 || !errors.Is(cause, context.Canceled)) {
		errs = append(errs, cause)
	}
	errs = append(errs, report.Faults...)
	return report, errors.Join(errs...)
}

// join waits on the queue barrier, giving up when ctx ends or the run is aborted.
func (c *Coordinator) join(ctx context.Context) error {
	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	if err := c.q.Join(joinCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return context.Cause(c.ctx)
	}
	return nil
}

// fault hands an unexpected producer/worker error to the fault forwarder.
func (c *Coordinator) fault(err error) {
	c.inst.faults.Add(1)
	select {
	case c.faultsCh <- err:
	case <-c.closeCh:
		c.recordFault(err)
	}
}

func (c *Coordinator) recordFault(err error) {
	c.mu.Lock()
	c.faults = append(c.faults, err)
	c.mu.Unlock()
}

// pushFailure counts f before its item is acknowledged, then hands it to the collector.
func (c *Coordinator) pushFailure(f Failure) {
	c.failed.AddAcqRel(1)
	c.feed.push(f)
}

func (c *Coordinator) recordFailure(f Failure) {
	c.mu.Lock()
	c.failures = append(c.failures, f)
	c.mu.Unlock()
	if c.config.FailureHandler != nil {
		c.callFailureHandler(f)
	}
}

// callFailureHandler runs the user handler; a panic is logged and otherwise ignored.
func (c *Coordinator) callFailureHandler(f Failure) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("failure handler panicked",
				slog.Uint64("item", f.ItemID), slog.Any("panic", r))
		}
	}()
	c.config.FailureHandler(f)
}

// WorkerStates returns the state of every spawned worker, in spawn order.
func (c *Coordinator) WorkerStates() []WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make([]WorkerState, len(c.workers))
	for i, w := range c.workers {
		states[i] = w.State()
	}
	return states
}

// Stats is a point-in-time view of a Coordinator.
type Stats struct {
	State      State
	Buffered   int
	Unfinished int
	Produced   uint64
	Processed  uint64
	Failed     int
	Workers    []WorkerState
}

// Stats returns counters describing the run so far. Failed is counted before the
// failed item is acknowledged, so it never lags behind Processed.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	return Stats{
		State:      state,
		Buffered:   c.q.Len(),
		Unfinished: c.q.Unfinished(),
		Produced:   c.produced.LoadAcquire(),
		Processed:  c.processed.LoadAcquire(),
		Failed:     int(c.failed.LoadAcquire()),
		Workers:    c.WorkerStates(),
	}
}

func (c *Coordinator) buildReport(leftover []Item) *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &Report{
		Produced:  c.produced.LoadAcquire(),
		Processed: c.processed.LoadAcquire(),
		Failures:  append([]Failure(nil), c.failures...),
		Faults:    append([]error(nil), c.faults...),
		Leftover:  leftover,
		Elapsed:   time.Since(c.startedAt),
		Workers:   make([]WorkerState, len(c.workers)),
	}
	for i, w := range c.workers {
		r.Workers[i] = w.State()
	}
	return r
}
