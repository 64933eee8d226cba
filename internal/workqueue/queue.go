// Package workqueue provides the process-wide FIFO of deferred jobs that the
// request path fills and the background dispatcher drains.
package workqueue

import (
	"context"
	"sync"
)

// Job is a deferred unit of work. The context is the dispatcher's lifetime
// context, cancelled when shutdown begins.
type Job func(ctx context.Context) error

// WorkItem pairs a job with an optional diagnostic tag.
type WorkItem struct {
	Job Job
	Tag string
}

// Queue is an unbounded, concurrency-safe FIFO of work items. Enqueue never
// blocks; Dequeue waits until an item is available or the context ends.
// The zero value is not usable, create one with New.
type Queue struct {
	mu    sync.Mutex
	items []WorkItem

	// wake holds at most one pending signal. Consumers re-check the slice
	// under mu, so a coalesced signal is never lost.
	wake chan struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends job to the tail of the queue and wakes a waiting consumer.
// A nil job is ignored.
func (q *Queue) Enqueue(job Job, tag string) {
	if job == nil {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, WorkItem{Job: job, Tag: tag})
	q.mu.Unlock()

	q.signal()
}

// Dequeue removes and returns the head of the queue, waiting for an item if
// the queue is empty. If ctx ends first it returns ctx.Err() and removes nothing.
func (q *Queue) Dequeue(ctx context.Context) (WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return WorkItem{}, err
		}

		if item, ok := q.tryPop(); ok {
			return item, nil
		}

		select {
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of items waiting in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// tryPop pops the head if present. When items remain after the pop it passes
// the wake signal on so another waiting consumer can proceed.
func (q *Queue) tryPop() (WorkItem, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return WorkItem{}, false
	}

	item := q.items[0]
	q.items[0] = WorkItem{}
	q.items = q.items[1:]
	remaining := len(q.items)
	if remaining == 0 {
		// release the backing array once drained
		q.items = nil
	}
	q.mu.Unlock()

	if remaining > 0 {
		q.signal()
	}
	return item, true
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
