package workq

import "time"

// Report summarizes a finished run.
type Report struct {
	// Produced counts items accepted by the queue, from producers and Submit.
	Produced uint64
	// Processed counts acknowledged items, failed ones included.
	Processed uint64
	// Failures lists every processing failure in the order the collector received them.
	Failures []Failure
	// Faults lists unexpected producer/worker errors. Non-empty means the run aborted.
	Faults []error
	// Leftover holds items that were still buffered when an aborted run closed the queue.
	// It is empty after a normal run.
	Leftover []Item
	// Elapsed is the time from New to the end of the shutdown sequence.
	Elapsed time.Duration
	// Workers holds the final state of every worker.
	Workers []WorkerState
}

// Failed returns the number of items whose processing failed.
func (r *Report) Failed() int { return len(r.Failures) }
