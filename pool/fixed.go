package pool

import "sync"

type fixed[T any] struct {
	available chan T
	mu        sync.Mutex
	created   uint
	limit     uint
	newFn     func() T
}

// NewFixed returns a pool that creates at most capacity values. Once every value
// is checked out, Get blocks until one is Put back. With capacity 0, Get blocks
// until a value is Put.
func NewFixed[T any](capacity uint, newFn func() T) Pool[T] {
	return &fixed[T]{
		available: make(chan T, capacity),
		limit:     capacity,
		newFn:     newFn,
	}
}

func (p *fixed[T]) Get() T {
	select {
	case el := <-p.available:
		return el
	default:
	}

	p.mu.Lock()
	if p.created < p.limit {
		p.created++
		p.mu.Unlock()
		return p.newFn()
	}
	p.mu.Unlock()

	return <-p.available
}

// Put never blocks for values obtained from Get.
func (p *fixed[T]) Put(el T) {
	p.available <- el
}
