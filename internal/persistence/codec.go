package persistence

import (
	"encoding/json"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

// executionRecord is the flat document written by the key-value and
// document stores. Payloads stay raw JSON so stored records are readable.
type executionRecord struct {
	ID             string          `json:"id" bson:"_id"`
	DefinitionName string          `json:"definition_name" bson:"definition_name"`
	CurrentState   string          `json:"current_state" bson:"current_state"`
	Payload        string          `json:"payload,omitempty" bson:"payload"`
	Status         string          `json:"status" bson:"status"`
	ErrorCode      string          `json:"error_code,omitempty" bson:"error_code"`
	ErrorCause     string          `json:"error_cause,omitempty" bson:"error_cause"`
	CreatedAt      int64           `json:"created_at" bson:"created_at"`
	UpdatedAt      int64           `json:"updated_at" bson:"updated_at"`
	Version        int64           `json:"version" bson:"version"`
}

func toRecord(exec *api.Execution) executionRecord {
	rec := executionRecord{
		ID:             exec.ID,
		DefinitionName: exec.DefinitionName,
		CurrentState:   exec.CurrentState,
		Payload:        string(exec.Payload),
		Status:         string(exec.Status),
		CreatedAt:      exec.CreatedAt.UnixNano(),
		UpdatedAt:      exec.UpdatedAt.UnixNano(),
		Version:        exec.Version,
	}
	if exec.Error != nil {
		rec.ErrorCode = exec.Error.Code
		rec.ErrorCause = exec.Error.Cause
	}
	return rec
}

func (r executionRecord) toExecution() *api.Execution {
	exec := &api.Execution{
		ID:             r.ID,
		DefinitionName: r.DefinitionName,
		CurrentState:   r.CurrentState,
		Status:         api.Status(r.Status),
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:      time.Unix(0, r.UpdatedAt).UTC(),
		Version:        r.Version,
	}
	if r.Payload != "" {
		exec.Payload = json.RawMessage(r.Payload)
	}
	if r.ErrorCode != "" {
		exec.Error = &api.ExecutionError{Code: r.ErrorCode, Cause: r.ErrorCause}
	}
	return exec
}

func encodeRecord(exec *api.Execution) ([]byte, error) {
	return json.Marshal(toRecord(exec))
}

func decodeRecord(data []byte) (*api.Execution, error) {
	var rec executionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec.toExecution(), nil
}
