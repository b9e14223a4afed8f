package api

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ExecutionError is the error recorded on a FAILED execution.
type ExecutionError struct {
	Code  string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

func (e *ExecutionError) Error() string {
	if e.Cause == "" {
		return e.Code
	}
	return e.Code + ": " + e.Cause
}

// Execution is one run of a Definition.
//
// Executions are owned by an ExecutionStore. Engines operate on a loaded
// copy and write it back after each transition; Version is the store's
// optimistic concurrency token.
type Execution struct {
	ID             string          `json:"id"`
	DefinitionName string          `json:"definitionName"`
	CurrentState   string          `json:"currentState"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	Error          *ExecutionError `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Version        int64           `json:"version"`
}

// Clone returns a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.Error != nil {
		errCopy := *e.Error
		out.Error = &errCopy
	}
	return &out
}

// ListOptions filters executions. Zero values mean "no filter".
type ListOptions struct {
	DefinitionName string
	Status         Status
}

// Notification is the message published when an execution reaches a
// terminal status.
type Notification struct {
	ExecutionID string          `json:"executionId"`
	Definition  string          `json:"definition"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Cause       string          `json:"cause,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

// NotificationFor builds the terminal notification for exec.
func NotificationFor(exec *Execution) Notification {
	n := Notification{
		ExecutionID: exec.ID,
		Definition:  exec.DefinitionName,
		Status:      exec.Status,
		Payload:     exec.Payload,
		FinishedAt:  exec.UpdatedAt,
	}
	if exec.Error != nil {
		n.Error = exec.Error.Code
		n.Cause = exec.Error.Cause
	}
	return n
}
