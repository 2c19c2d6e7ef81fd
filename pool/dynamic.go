package pool

import "sync"

type dynamic[T any] struct {
	p sync.Pool
}

// NewDynamic returns an unbounded pool backed by sync.Pool. Values may be
// dropped by the garbage collector between Put and Get.
func NewDynamic[T any](newFn func() T) Pool[T] {
	return &dynamic[T]{p: sync.Pool{New: func() any { return newFn() }}}
}

func (d *dynamic[T]) Get() T { return d.p.Get().(T) }

func (d *dynamic[T]) Put(el T) { d.p.Put(el) }
