package workq_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/workq"
	"github.com/ygrebnov/workq/metrics"
)

func payloads(ps ...string) func(context.Context, int) ([]byte, error) {
	return func(_ context.Context, n int) ([]byte, error) { return []byte(ps[n]), nil }
}

func counting(_ context.Context, n int) ([]byte, error) { return []byte(fmt.Sprint(n)), nil }

type orderRecorder struct {
	mu  sync.Mutex
	got []string
}

func (r *orderRecorder) process(_ context.Context, it workq.Item) error {
	r.mu.Lock()
	r.got = append(r.got, string(it.Payload))
	r.mu.Unlock()
	return nil
}

func (r *orderRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newCoordinator(t *testing.T, opts ...workq.Option) *workq.Coordinator {
	t.Helper()
	c, err := workq.New(context.Background(), opts...)
	require.NoError(t, err)
	require.Equal(t, workq.StateStarting, c.State())
	return c
}

func requireNoneProcessing(t *testing.T, states []workq.WorkerState) {
	t.Helper()
	for i, s := range states {
		require.NotEqual(t, workq.WorkerProcessing, s, "worker %d still processing after shutdown", i+1)
	}
}

func TestCoordinator_NominalRun(t *testing.T) {
	c := newCoordinator(t, workq.WithCapacity(3))
	c.Start()
	require.Equal(t, workq.StateRunning, c.State())

	var processed atomic.Int64
	for range 3 {
		require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
			processed.Add(1)
			return nil
		}))
	}
	require.NoError(t, c.SpawnProducer(10, counting))
	require.NoError(t, c.SpawnProducer(7, counting))

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	require.Equal(t, workq.StateDone, c.State())
	require.Equal(t, uint64(17), report.Produced)
	require.Equal(t, uint64(17), report.Processed)
	require.Equal(t, int64(17), processed.Load())
	require.Empty(t, report.Failures)
	require.Empty(t, report.Faults)
	require.Empty(t, report.Leftover)
	require.Positive(t, report.Elapsed)
	require.Len(t, report.Workers, 3)
	for _, s := range report.Workers {
		require.Equal(t, workq.WorkerCancelled, s)
	}
	require.Equal(t, 0, c.Queue().Unfinished())
	require.True(t, c.Queue().Closed())
}

func TestCoordinator_BackpressureKeepsOrder(t *testing.T) {
	c := newCoordinator(t, workq.WithCapacity(2))

	rec := &orderRecorder{}
	require.NoError(t, c.SpawnProducer(3, payloads("a", "b", "c")))
	require.NoError(t, c.SpawnWorker(rec.process))

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, rec.order())
	require.Equal(t, uint64(3), report.Processed)
}

func TestCoordinator_NoItems(t *testing.T) {
	c := newCoordinator(t)
	require.NoError(t, c.SpawnProducer(0, counting))
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error { return nil }))

	done := make(chan struct{})
	var (
		report *workq.Report
		err    error
	)
	go func() { report, err = c.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with nothing to process")
	}
	require.NoError(t, err)
	require.Zero(t, report.Produced)
	require.Zero(t, report.Processed)
}

func TestCoordinator_ProcessingFailureIsAcknowledged(t *testing.T) {
	var (
		mu      sync.Mutex
		handled []workq.Failure
	)
	c := newCoordinator(t, workq.WithFailureHandler(func(f workq.Failure) {
		mu.Lock()
		handled = append(handled, f)
		mu.Unlock()
	}))

	errBad := errors.New("cannot process b")
	var failedID atomic.Uint64
	require.NoError(t, c.SpawnProducer(3, payloads("a", "b", "c")))
	require.NoError(t, c.SpawnWorker(func(_ context.Context, it workq.Item) error {
		if string(it.Payload) == "b" {
			failedID.Store(it.ID)
			return errBad
		}
		return nil
	}))

	report, err := c.Run(context.Background())
	require.NoError(t, err, "a processing failure must not abort the run")
	require.Equal(t, uint64(3), report.Processed, "the failing item is still acknowledged")
	require.Equal(t, 1, report.Failed())

	f := report.Failures[0]
	require.Equal(t, failedID.Load(), f.ItemID)
	require.Equal(t, 1, f.WorkerID)
	require.ErrorIs(t, f.Err, errBad)
	id, ok := workq.ExtractItemID(f.Err)
	require.True(t, ok)
	require.Equal(t, f.ItemID, id)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 1)
	require.Equal(t, f.ItemID, handled[0].ItemID)
}

func TestCoordinator_PanicAbortsRun(t *testing.T) {
	c := newCoordinator(t)

	require.NoError(t, c.SpawnProducer(20, counting))
	require.NoError(t, c.SpawnWorker(func(_ context.Context, it workq.Item) error {
		if it.ID == 2 {
			panic("boom")
		}
		return nil
	}))

	report, err := c.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, workq.ErrRunAborted)
	require.ErrorIs(t, err, workq.ErrWorkerPanicked)
	require.Len(t, report.Faults, 1)

	require.Equal(t, []workq.WorkerState{workq.WorkerFailed}, report.Workers)
	require.Equal(t, uint64(2), report.Processed, "the panicking item is acknowledged")
	require.Equal(t, report.Produced, report.Processed+uint64(len(report.Leftover)),
		"every accepted item is either processed or handed back")
	require.Equal(t, 0, c.Queue().Unfinished())
	require.Equal(t, workq.StateDone, c.State())
}

func TestCoordinator_GeneratorFaultAbortsRun(t *testing.T) {
	c := newCoordinator(t)

	errGen := errors.New("source exhausted")
	require.NoError(t, c.SpawnProducer(5, func(_ context.Context, n int) ([]byte, error) {
		if n == 2 {
			return nil, errGen
		}
		return []byte("ok"), nil
	}))
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error { return nil }))

	report, err := c.Run(context.Background())
	require.ErrorIs(t, err, workq.ErrRunAborted)
	require.ErrorIs(t, err, workq.ErrProducerFailed)
	require.ErrorIs(t, err, errGen)
	require.Equal(t, uint64(2), report.Produced)
	require.Equal(t, report.Produced, report.Processed+uint64(len(report.Leftover)))
}

func TestCoordinator_GeneratorPanicAbortsRun(t *testing.T) {
	c := newCoordinator(t, workq.WithCapacity(2))

	require.NoError(t, c.SpawnProducer(5, func(_ context.Context, n int) ([]byte, error) {
		if n == 3 {
			panic("generator exploded")
		}
		return []byte("ok"), nil
	}))
	require.NoError(t, c.SpawnProducer(100, counting))
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
		time.Sleep(time.Millisecond)
		return nil
	}))

	report, err := c.Run(context.Background())
	require.ErrorIs(t, err, workq.ErrRunAborted)
	require.ErrorIs(t, err, workq.ErrProducerFailed)
	require.ErrorIs(t, err, workq.ErrProducerPanicked)
	require.Contains(t, err.Error(), "generator exploded")
	require.NotNil(t, report)
	require.Equal(t, workq.StateDone, c.State())
	require.Equal(t, report.Produced, report.Processed+uint64(len(report.Leftover)))
	requireNoneProcessing(t, report.Workers)
}

func TestCoordinator_FailureHandlerPanicIsContained(t *testing.T) {
	var calls atomic.Int32
	c := newCoordinator(t, workq.WithFailureHandler(func(workq.Failure) {
		calls.Add(1)
		panic("handler exploded")
	}))

	require.NoError(t, c.SpawnProducer(3, counting))
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
		return errors.New("always fails")
	}))

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), report.Processed)
	require.Equal(t, 3, report.Failed())
	require.Equal(t, int32(3), calls.Load())
}

func TestCoordinator_StatsCountsFailuresAtAcknowledgment(t *testing.T) {
	release := make(chan struct{})
	c := newCoordinator(t, workq.WithFailureHandler(func(workq.Failure) { <-release }))

	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
		return errors.New("rejected")
	}))
	c.Start()
	for range 2 {
		_, err := c.Submit(context.Background(), nil)
		require.NoError(t, err)
	}

	// The handler holds the collector on the first failure; the second one is
	// acknowledged but not collected yet.
	require.Eventually(t, func() bool { return c.Stats().Processed == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 2, c.Stats().Failed)

	close(release)
	report, err := c.Shutdown(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Failed())
}

func TestCoordinator_ContextCancelDuringRun(t *testing.T) {
	c, err := workq.New(context.Background(), workq.WithCapacity(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.SpawnProducer(1000, counting))
	for range 2 {
		require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
			time.Sleep(2 * time.Millisecond)
			return nil
		}))
	}

	time.AfterFunc(20*time.Millisecond, cancel)
	report, err := c.Run(ctx)
	require.ErrorIs(t, err, workq.ErrRunAborted)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, report.Processed, uint64(1000))
	require.Equal(t, report.Produced, report.Processed+uint64(len(report.Leftover)))
	requireNoneProcessing(t, report.Workers)
	requireNoneProcessing(t, c.WorkerStates())
}

func TestCoordinator_SubmitAndShutdown(t *testing.T) {
	c := newCoordinator(t, workq.WithCapacity(2))
	rec := &orderRecorder{}
	require.NoError(t, c.SpawnWorker(rec.process))
	c.Start()

	ctx := context.Background()
	for _, p := range []string{"x", "y", "z", "w"} {
		_, err := c.Submit(ctx, []byte(p))
		require.NoError(t, err)
	}

	report, err := c.Shutdown(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z", "w"}, rec.order())
	require.Equal(t, uint64(4), report.Produced)
	require.Equal(t, uint64(4), report.Processed)
	requireNoneProcessing(t, report.Workers)

	_, err = c.Submit(ctx, []byte("late"))
	require.ErrorIs(t, err, workq.ErrQueueClosed)
	require.ErrorIs(t, c.SpawnWorker(rec.process), workq.ErrInvalidState)
	require.ErrorIs(t, c.SpawnProducer(1, counting), workq.ErrInvalidState)

	// Repeated calls share the first result.
	again, err := c.Shutdown(ctx)
	require.NoError(t, err)
	require.Same(t, report, again)
	again, err = c.Run(ctx)
	require.NoError(t, err)
	require.Same(t, report, again)
}

func TestCoordinator_ShutdownStopsRunningProducers(t *testing.T) {
	c := newCoordinator(t, workq.WithCapacity(1))
	release := make(chan struct{})
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
		<-release
		return nil
	}))
	require.NoError(t, c.SpawnProducer(100, counting))
	c.Start()

	time.AfterFunc(20*time.Millisecond, func() { close(release) })
	report, err := c.Shutdown(context.Background())
	require.NoError(t, err, "a producer cut off by shutdown is not a fault")
	require.Less(t, report.Produced, uint64(100))
	require.Equal(t, report.Produced, report.Processed)
	require.Empty(t, report.Leftover)
}

func TestCoordinator_SpawnProducerAfterRunRejected(t *testing.T) {
	c := newCoordinator(t)
	block := make(chan struct{})
	require.NoError(t, c.SpawnProducer(1, func(ctx context.Context, _ int) ([]byte, error) {
		<-block
		return []byte("p"), nil
	}))
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error { return nil }))

	done := make(chan error, 1)
	go func() { _, err := c.Run(context.Background()); done <- err }()

	require.Eventually(t, func() bool {
		return errors.Is(c.SpawnProducer(1, counting), workq.ErrInvalidState)
	}, time.Second, time.Millisecond)

	close(block)
	require.NoError(t, <-done)
}

func TestCoordinator_InvalidArguments(t *testing.T) {
	c := newCoordinator(t)
	require.ErrorIs(t, c.SpawnWorker(nil), workq.ErrInvalidConfig)
	require.ErrorIs(t, c.SpawnProducer(1, nil), workq.ErrInvalidConfig)
	require.ErrorIs(t, c.SpawnProducer(-1, counting), workq.ErrInvalidConfig)
	_, err := c.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestCoordinator_Stats(t *testing.T) {
	c := newCoordinator(t)
	release := make(chan struct{})
	require.NoError(t, c.SpawnWorker(func(context.Context, workq.Item) error {
		<-release
		return nil
	}))
	c.Start()
	for range 3 {
		_, err := c.Submit(context.Background(), nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Buffered == 2 && s.Unfinished == 3 && s.Workers[0] == workq.WorkerProcessing
	}, time.Second, time.Millisecond)
	s := c.Stats()
	require.Equal(t, workq.StateRunning, s.State)
	require.Equal(t, uint64(3), s.Produced)
	require.Zero(t, s.Processed)

	close(release)
	_, err := c.Shutdown(context.Background())
	require.NoError(t, err)
	s = c.Stats()
	require.Equal(t, workq.StateDone, s.State)
	require.Equal(t, uint64(3), s.Processed)
}

func TestCoordinator_Metrics(t *testing.T) {
	p := metrics.NewBasicProvider()
	c := newCoordinator(t, workq.WithMetrics(p), workq.WithCapacity(4))
	require.NoError(t, c.SpawnProducer(6, counting))
	for range 2 {
		require.NoError(t, c.SpawnWorker(func(_ context.Context, it workq.Item) error {
			if it.ID%3 == 0 {
				return errors.New("every third item fails")
			}
			return nil
		}))
	}
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Equal(t, int64(6), snap.Counters[workq.MetricItemsPut])
	require.Equal(t, int64(6), snap.Counters[workq.MetricItemsGot])
	require.Equal(t, int64(6), snap.Counters[workq.MetricItemsDone])
	require.Equal(t, int64(2), snap.Counters[workq.MetricProcessingFailures])
	require.Equal(t, int64(0), snap.UpDowns[workq.MetricQueueDepth])
	require.Equal(t, int64(0), snap.UpDowns[workq.MetricItemsInflight])
	require.Equal(t, int64(6), snap.Histograms[workq.MetricProcessSeconds].Count)

	desc, ok := p.Description(workq.MetricPutWaitSeconds)
	require.True(t, ok)
	require.Equal(t, "seconds", desc.Unit)
}
