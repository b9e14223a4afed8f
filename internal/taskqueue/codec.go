package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedTask reports a queued payload that does not describe a task.
var ErrMalformedTask = errors.New("malformed task")

// EncodeTask returns the wire form shared by the durable queues.
func EncodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses the output of EncodeTask. Payloads without a type or
// execution ID are rejected.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if t.Type == "" || t.ExecutionID == "" {
		return nil, fmt.Errorf("%w: type and executionId are required", ErrMalformedTask)
	}
	return &t, nil
}
