// File: internal/concurrency/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Queue is an unbounded multi-producer multi-consumer FIFO. Pop blocks
// while the queue is empty.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v. It reports false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.Add(v)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// PushForce appends v even after Close. Used for shutdown sentinels.
func (q *Queue[T]) PushForce(v T) {
	q.mu.Lock()
	q.items.Add(v)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop removes the oldest element, blocking until one is available.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	v := q.items.Remove().(T)
	q.mu.Unlock()
	return v
}

// TryPop removes the oldest element if there is one.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close rejects further Push calls. Queued elements stay poppable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
