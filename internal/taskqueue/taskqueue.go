// Package taskqueue carries "advance this execution" work items from the
// engine to workers.
package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeAdvance asks a worker to drive an execution forward.
	TaskTypeAdvance TaskType = "advance"
)

// Task represents a unit of work for a worker.
type Task struct {
	ID          string    `json:"id"`
	Type        TaskType  `json:"type"`
	ExecutionID string    `json:"executionId"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Queue hands tasks from the engine to workers.
//
// Delivery is at most once: a task is removed when dequeued, so a worker
// that dies mid-advance loses it. The engine tolerates this because an
// execution can be advanced again by anyone, and ExpireOverdue fails the
// ones nobody finishes.
type Queue interface {
	// Enqueue adds a task, blocking while a bounded queue is full.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the oldest task, blocking until one is
	// available or ctx is done.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
