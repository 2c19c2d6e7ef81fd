// Package workq provides a bounded work queue with a join barrier, and a coordinator
// that runs producers and workers over it and shuts them down without losing work.
//
// Queue
//   - Put suspends while the queue is at capacity (backpressure); items are never dropped.
//   - Get suspends while the queue is empty; delivery is FIFO across all producers.
//   - TaskDone acknowledges one item obtained from Get, after it was processed.
//   - Join waits until every accepted item has been acknowledged.
//   - TryPut/TryGet return ErrWouldBlock instead of suspending.
//   - Drain stops intake; Close also stops delivery and hands buffered items back.
//
// Coordinator
// The Coordinator owns one Queue and moves through
// Starting -> Running -> Draining -> ShuttingDown -> Done:
//   - Running: SpawnProducer/SpawnWorker start goroutines; Run waits for all producers.
//   - Draining: intake is closed and the Join barrier is awaited.
//   - ShuttingDown: idle workers are cancelled and each one is awaited.
//
// Workers observe cancellation only while waiting in Get, so an item is always
// acknowledged once a worker has received it.
//
// Errors
//   - A ProcessFunc error is a processing failure: logged, counted, passed to the
//     WithFailureHandler callback, listed in Report.Failures. The item is still
//     acknowledged and the worker continues.
//   - A generator error, a ProcessFunc panic or a protocol violation is a fault: the run
//     aborts, and Run returns an error wrapping ErrRunAborted and the fault.
//
// Defaults
// Unless overridden, the following defaults apply:
//   - Capacity: 0 (unbounded)
//   - Logger: discards everything
//   - Metrics: metrics.NoopProvider
//   - FailureFeedSize: 256
//   - FaultsBufferSize: 64
//
// Builds tagged workq_strict panic on protocol violations instead of returning
// ErrProtocolViolation.
package workq
