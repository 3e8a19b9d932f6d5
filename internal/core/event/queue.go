package event

import "sync"

// Queue is an unbounded multi-producer/single-consumer FIFO. Push never
// blocks; Drain swaps the whole backlog out at once.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	spare []T
}

func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0, capacity),
		spare: make([]T, 0, capacity),
	}
}

// Push appends v. Safe for concurrent and reentrant callers.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Drain returns every queued item in push order. The returned slice is owned
// by the queue and is only valid until the next Drain.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	out := q.items
	clear(q.spare)
	q.items = q.spare[:0]
	q.spare = out
	q.mu.Unlock()
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
