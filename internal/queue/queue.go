// Package queue provides the FIFO used for per-connection inbound and outbound
// traffic. It is safe for any number of producers and consumers.
package queue

import (
	"sync"

	eq "github.com/eapache/queue"
)

// Queue is an unbounded, mutex-guarded FIFO backed by a ring buffer.
// A Queue can be closed, after which Push is refused and everything still
// queued is discarded.
type Queue[T any] struct {
	mu     sync.Mutex
	ring   *eq.Queue
	closed bool

	// ready has capacity one and is signalled on every Push, so waiters can
	// wake early instead of sleeping a full recheck interval.
	ready chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ring:  eq.New(),
		ready: make(chan struct{}, 1),
	}
}

// Push appends v. It never blocks and returns false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.ring.Add(v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes and returns the oldest element, if any.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.ring.Length() == 0 {
		return zero, false
	}
	return q.ring.Remove().(T), true
}

// Consume passes queued elements to fn in order and removes each one fn
// accepts. It stops at the first element fn refuses, which stays at the head.
// Only the queue's single consumer may call it.
func (q *Queue[T]) Consume(fn func(T) bool) int {
	n := 0
	for {
		q.mu.Lock()
		if q.ring.Length() == 0 {
			q.mu.Unlock()
			return n
		}
		v := q.ring.Peek().(T)
		q.mu.Unlock()

		if !fn(v) {
			return n
		}

		q.mu.Lock()
		// Close may have emptied the ring while fn ran.
		if q.ring.Length() > 0 {
			q.ring.Remove()
		}
		q.mu.Unlock()
		n++
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}

// Ready returns a channel that receives a value after a Push. A receive on it
// is only a hint; the queue must be rechecked with TryPop.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close refuses further pushes and discards the queued elements. It returns
// how many were discarded. Closing twice is a no-op.
func (q *Queue[T]) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	n := q.ring.Length()
	q.ring = eq.New()
	return n
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
