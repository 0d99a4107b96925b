// Package waitqueue implements an ordered registry of waiters. The session
// pool uses it to hand released sessions to blocked acquirers in FIFO order.
package waitqueue

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Waiter is one enqueued acquirer.
type Waiter[T any] struct {
	id    string
	ready chan T
}

// Queue is an ordered registry of waiters. Values are handed to waiters in
// enqueue order. Removal and delivery exclude each other: a waiter is either
// delivered to or removed, never both.
type Queue[T any] struct {
	mu      sync.Mutex
	waiters []*Waiter[T]
	index   map[string]*Waiter[T]
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{index: make(map[string]*Waiter[T])}
}

// Enqueue appends a waiter with the given id to the back of the queue.
func (q *Queue[T]) Enqueue(id string) (*Waiter[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[id]; exists {
		return nil, fmt.Errorf("duplicate id: %s", id)
	}
	w := &Waiter[T]{id: id, ready: make(chan T, 1)}
	q.waiters = append(q.waiters, w)
	q.index[id] = w
	return w, nil
}

// Remove unregisters the waiter with the given id. It reports whether the
// waiter was still enqueued; false means a delivery already claimed it.
func (q *Queue[T]) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, exists := q.index[id]
	if !exists {
		return false
	}
	delete(q.index, id)
	q.waiters = slices.DeleteFunc(q.waiters, func(o *Waiter[T]) bool { return o == w })
	return true
}

// DeliverNext hands v to the oldest waiter. It reports whether a waiter was
// there to take it. Delivery never blocks: each waiter's channel holds one
// value and receives at most one delivery.
func (q *Queue[T]) DeliverNext(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) == 0 {
		return false
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	delete(q.index, w.id)
	w.ready <- v
	return true
}

// Len returns the number of enqueued waiters.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// Await blocks until a value is delivered to w or ctx ends. If a delivery
// races the cancellation, the value is returned together with the context
// error so the caller can decide what to do with it.
func (q *Queue[T]) Await(ctx context.Context, w *Waiter[T]) (T, error) {
	select {
	case v := <-w.ready:
		return v, nil
	case <-ctx.Done():
	}

	if !q.Remove(w.id) {
		// The delivery won the race; the value is already buffered.
		return <-w.ready, ctx.Err()
	}
	var zero T
	return zero, ctx.Err()
}
