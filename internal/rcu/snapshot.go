// Package rcu holds read-mostly values that are swapped whole: readers Load
// without locking, writers publish a freshly built value with Replace.
package rcu

import "sync/atomic"

type Snapshot[T any] struct {
	ptr atomic.Pointer[T]
}

func NewSnapshot[T any](init *T) *Snapshot[T] {
	s := &Snapshot[T]{}
	s.ptr.Store(init)
	return s
}

// Load returns the current value. Callers must treat it as immutable.
func (s *Snapshot[T]) Load() *T {
	return s.ptr.Load()
}

// Replace publishes next. next must not be mutated afterwards.
func (s *Snapshot[T]) Replace(next *T) {
	s.ptr.Store(next)
}

// Swap publishes next and returns the previous value.
func (s *Snapshot[T]) Swap(next *T) *T {
	return s.ptr.Swap(next)
}
