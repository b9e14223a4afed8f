package api

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedDefinition is returned when a Definition fails validation.
	// Engines refuse to register such definitions.
	ErrMalformedDefinition = errors.New("malformed workflow definition")

	// ErrUnknownDefinition is returned when starting an execution of a
	// definition that was never registered.
	ErrUnknownDefinition = errors.New("unknown workflow definition")

	// ErrExecutorFailure marks errors reported by a TaskExecutor.
	ErrExecutorFailure = errors.New("task executor failure")

	// ErrTimeout is reported when an execution exceeds its deadline.
	ErrTimeout = errors.New("execution timed out")

	// ErrConflict is returned by ExecutionStore.Save when the stored version
	// changed since the execution was loaded, or the stored execution is
	// already terminal.
	ErrConflict = errors.New("execution version conflict")

	// ErrNotFound is returned when an execution (or a stored item/object)
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by ExecutionStore.Create on duplicate ids.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput is returned for payloads an executor or the engine
	// cannot interpret.
	ErrInvalidInput = errors.New("invalid input")
)

// Error codes recorded on failed executions that did not fail through a
// Fail state.
const (
	ErrorCodeExecutorFailure = "ExecutorFailure"
	ErrorCodeTimeout         = "Timeout"
	ErrorCodeOutputPath      = "OutputPathUnresolved"
	ErrorCodeScheduling      = "SchedulingFailed"
)

// ExecutorError wraps an error returned by a TaskExecutor. It matches both
// ErrExecutorFailure and the underlying error with errors.Is.
type ExecutorError struct {
	Task string
	Err  error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *ExecutorError) Unwrap() []error {
	return []error{ErrExecutorFailure, e.Err}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDefinition, fmt.Sprintf(format, args...))
}
