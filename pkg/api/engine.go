package api

import (
	"context"
	"encoding/json"
)

// TaskExecutor performs one unit of work for a Task state.
//
// Invoke receives the current payload and returns the task output. A non-nil
// error is an executor failure: the engine fails the execution and does not
// retry. Implementations should honor ctx; the engine abandons calls that
// outlive the execution deadline.
type TaskExecutor interface {
	Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// TaskFunc adapts a function to TaskExecutor.
type TaskFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

func (f TaskFunc) Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// Notifier publishes terminal execution outcomes. Delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, topic string, message json.RawMessage) error
}

// Starter starts executions asynchronously.
type Starter interface {
	// Start creates an execution of the named definition in StatusRunning,
	// persists it and schedules its advancement. It returns as soon as the
	// execution is accepted and never waits for a terminal status.
	Start(ctx context.Context, definitionName string, input json.RawMessage) (string, error)
}

// Advancer drives a started execution forward.
type Advancer interface {
	// Advance runs the execution state by state until it reaches a terminal
	// status, its deadline passes, or ctx is cancelled.
	Advance(ctx context.Context, executionID string) error
}

// StatusReader exposes read-only execution snapshots.
type StatusReader interface {
	// GetStatus returns a snapshot of the execution, or ErrNotFound.
	GetStatus(ctx context.Context, executionID string) (*Execution, error)

	// ListExecutions returns executions matching opts.
	ListExecutions(ctx context.Context, opts ListOptions) ([]*Execution, error)
}

// Engine is the workflow engine API.
type Engine interface {
	Starter
	Advancer
	StatusReader

	// RegisterExecutor binds a TaskExecutor to the name Task states use.
	RegisterExecutor(name string, exec TaskExecutor) error

	// RegisterDefinition validates def and stores a private copy. Every Task
	// state must reference an executor registered beforehand.
	RegisterDefinition(def Definition) error

	// ExpireOverdue fails RUNNING executions whose deadline has passed, for
	// example after the process advancing them crashed. It returns the
	// number of executions it updated.
	ExpireOverdue(ctx context.Context) (int, error)
}
