// Package queue serializes work items through a single worker.
package queue

import "sync"

// Queue runs a function on each pushed item,
// one item at a time,
// in the order the items were pushed.
// Pushing never blocks and never drops an item,
// even while an earlier item is still being processed.
// The outcome of each item goes to a report function;
// an error from one item does not stop later ones.
type Queue[T any] struct {
	fn     func(T) error
	report func(T, error)

	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	closed  bool
	stopped bool

	done chan struct{}
}

// New produces a new Queue and starts its worker.
// The worker calls fn on each item and then report, if non-nil, with fn's result.
func New[T any](fn func(T) error, report func(T, error)) *Queue[T] {
	q := &Queue[T]{
		fn:     fn,
		report: report,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue[T]) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.stopped || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		err := q.fn(item)
		if q.report != nil {
			q.report(item, err)
		}
	}
}

// Push adds an item to the end of the queue.
// It reports false, and does nothing, if the queue has been closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Len tells how many items are waiting.
// The item being processed, if any, is not counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting new items,
// then waits for the worker to finish the items already queued.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()

	<-q.done
}

// Stop is like Close but discards queued items that have not started.
// It waits for the item in progress, if any.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	q.closed = true
	q.stopped = true
	q.items = nil
	q.cond.Signal()
	q.mu.Unlock()

	<-q.done
}
