// Package jobs keeps track of work items submitted to a workq Coordinator so their
// progress and results can be queried after the fact.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ygrebnov/workq"
)

// Status of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is the tracked state of one item.
type Job struct {
	ID          uint64     `json:"id"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

const defaultSubscriberBuffer = 64

// Tracker maps item ids to jobs and fans updates out to subscribers.
//
// Updates may arrive in any order for a given id (a worker can pick an item up
// before the submitter records it), so every method merges into the existing job
// and never moves it backwards.
type Tracker struct {
	mu          sync.RWMutex
	jobs        map[uint64]*Job
	subscribers map[chan Job]struct{}
	bufferSize  int
	now         func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs:        make(map[uint64]*Job),
		subscribers: make(map[chan Job]struct{}),
		bufferSize:  defaultSubscriberBuffer,
		now:         time.Now,
	}
}

// jobLocked returns the job for id, creating a queued one if needed.
func (t *Tracker) jobLocked(id uint64) *Job {
	j, ok := t.jobs[id]
	if !ok {
		j = &Job{ID: id, Status: StatusQueued, SubmittedAt: t.now()}
		t.jobs[id] = j
	}
	return j
}

func (t *Tracker) update(id uint64, fn func(*Job)) {
	t.mu.Lock()
	j := t.jobLocked(id)
	fn(j)
	snapshot := *j
	t.mu.Unlock()
	t.publish(snapshot)
}

// Submitted records that item id was accepted by the queue.
func (t *Tracker) Submitted(id uint64) {
	t.update(id, func(*Job) {})
}

// Started marks the job as running.
func (t *Tracker) Started(id uint64) {
	t.update(id, func(j *Job) {
		if j.Status != StatusQueued {
			return
		}
		now := t.now()
		j.Status = StatusRunning
		j.StartedAt = &now
	})
}

// SetProgress records progress in [0, 1]. Out-of-range values are clamped;
// progress never decreases.
func (t *Tracker) SetProgress(id uint64, p float64) {
	p = min(max(p, 0), 1)
	t.update(id, func(j *Job) {
		if p > j.Progress {
			j.Progress = p
		}
	})
}

// Finished records the outcome of the job.
func (t *Tracker) Finished(id uint64, result any, err error) {
	t.update(id, func(j *Job) {
		now := t.now()
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.FinishedAt = &now
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusDone
		j.Progress = 1
		j.Result = result
	})
}

// Get returns a copy of the job for id.
func (t *Tracker) Get(id uint64) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Counts returns the number of jobs per status.
func (t *Tracker) Counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[Status]int, 4)
	for _, j := range t.jobs {
		counts[j.Status]++
	}
	return counts
}

// Subscribe returns a channel receiving every job update and a function that
// unsubscribes and closes it. Updates are dropped for subscribers that fall behind.
func (t *Tracker) Subscribe() (<-chan Job, func()) {
	ch := make(chan Job, t.bufferSize)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subscribers[ch]; ok {
				delete(t.subscribers, ch)
				close(ch)
			}
			t.mu.Unlock()
		})
	}
}

// Close closes every subscriber channel.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, ch)
	}
}

func (t *Tracker) publish(j Job) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.subscribers {
		select {
		case ch <- j:
		default:
		}
	}
}

// Func does the work for one job. It may report progress in [0, 1].
type Func func(ctx context.Context, payload []byte, progress func(float64)) (any, error)

// Processor adapts fn into a workq.ProcessFunc that keeps tracker up to date.
// An error from fn is recorded on the job and returned, so the coordinator
// records it as a processing failure too.
func Processor(tracker *Tracker, fn Func) workq.ProcessFunc {
	return func(ctx context.Context, item workq.Item) error {
		tracker.Started(item.ID)
		result, err := fn(ctx, item.Payload, func(p float64) { tracker.SetProgress(item.ID, p) })
		tracker.Finished(item.ID, result, err)
		return err
	}
}
