// Package orders defines the order-processing workflow and the executors
// behind its tasks and the read endpoints.
package orders

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

// Executor names referenced by the workflow and the gateway.
const (
	TaskStoreItem   = "store-item"
	TaskStoreObject = "store-object"
	TaskReadItem    = "read-item"
	TaskReadObject  = "read-object"
)

// DefinitionName is the name of the built-in order workflow.
const DefinitionName = "order-processing"

// Sentinel payloads exchanged between the store executors and the Choice
// state.
const (
	resultFailed  = "FAILED"
	resultSucceed = "SUCCEED"
)

//go:embed order_workflow.yaml
var workflowYAML []byte

// Definition returns the order workflow: PutItem, then a Choice on the
// item result, then PutObject, ending in Succeed or Fail. A positive timeout
// overrides the built-in one.
func Definition(timeout time.Duration) (api.Definition, error) {
	def, err := api.ParseDefinitionYAML(workflowYAML)
	if err != nil {
		return api.Definition{}, fmt.Errorf("built-in order workflow: %w", err)
	}
	if timeout > 0 {
		def.Timeout = timeout
	}
	return def, nil
}

// Registrar is the part of the engine Register needs.
type Registrar interface {
	RegisterExecutor(name string, exec api.TaskExecutor) error
	RegisterDefinition(def api.Definition) error
}

// Register binds the order executors to eng and registers def, which is
// usually the result of Definition or api.LoadDefinitionYAML.
func Register(eng Registrar, executors *Executors, def api.Definition) error {
	for name, exec := range executors.All() {
		if err := eng.RegisterExecutor(name, exec); err != nil {
			return err
		}
	}
	return eng.RegisterDefinition(def)
}
