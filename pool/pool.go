// Package pool provides reusable-object pools for values that are expensive to
// build (hashers, scratch buffers).
package pool

// Pool hands out values and takes them back for reuse.
type Pool[T any] interface {
	// Get returns a value from the pool.
	Get() T

	// Put returns a value back to the pool.
	Put(T)
}
