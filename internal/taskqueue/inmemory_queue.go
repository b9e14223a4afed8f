package taskqueue

import (
	"context"
	"sync"
)

// InMemoryQueue is a bounded FIFO held in process memory. It is safe for
// concurrent use.
//
// An advance task for an execution that already has one waiting is dropped:
// a single Advance drives the execution as far as it can go, so the second
// task could only find nothing to do.
type InMemoryQueue struct {
	slots chan Task

	mu      sync.Mutex
	pending map[string]int // queued advance tasks per execution ID
}

// NewInMemoryQueue creates a queue holding at most capacity tasks; Enqueue
// blocks while it is full. A non-positive capacity means 1024.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		slots:   make(chan Task, capacity),
		pending: make(map[string]int),
	}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	coalesce := t.Type == TaskTypeAdvance && t.ExecutionID != ""
	if coalesce {
		q.mu.Lock()
		if q.pending[t.ExecutionID] > 0 {
			q.mu.Unlock()
			return nil
		}
		q.pending[t.ExecutionID]++
		q.mu.Unlock()
	}

	select {
	case q.slots <- t:
		return nil
	case <-ctx.Done():
		if coalesce {
			q.release(t.ExecutionID)
		}
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.slots:
		if t.Type == TaskTypeAdvance && t.ExecutionID != "" {
			q.release(t.ExecutionID)
		}
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) release(executionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[executionID] <= 1 {
		delete(q.pending, executionID)
		return
	}
	q.pending[executionID]--
}

// Len returns the number of tasks waiting.
func (q *InMemoryQueue) Len() int {
	return len(q.slots)
}
