package persistence

import (
	"context"

	"github.com/petrijr/orderflow/pkg/api"
)

// ExecutionFilter is used to select executions from the store.
// Empty string / zero status mean "no filter" for that field.
type ExecutionFilter struct {
	DefinitionName string
	Status         api.Status
}

func (f ExecutionFilter) matches(exec *api.Execution) bool {
	if f.DefinitionName != "" && exec.DefinitionName != f.DefinitionName {
		return false
	}
	if f.Status != "" && exec.Status != f.Status {
		return false
	}
	return true
}

// ExecutionStore persists executions with optimistic concurrency.
//
// Every implementation guarantees that, for a given execution id, at most
// one of several concurrent Saves based on the same loaded Version succeeds.
type ExecutionStore interface {
	// Create persists a new execution and sets its Version to 1.
	// It returns api.ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, exec *api.Execution) error

	// Load returns a copy of the stored execution or api.ErrNotFound.
	Load(ctx context.Context, id string) (*api.Execution, error)

	// Save writes exec if the stored Version still equals exec.Version and
	// the stored execution is RUNNING. On success exec.Version is
	// incremented. Otherwise it returns api.ErrConflict (or api.ErrNotFound).
	Save(ctx context.Context, exec *api.Execution) error

	// List returns executions matching filter, oldest first.
	List(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error)
}
