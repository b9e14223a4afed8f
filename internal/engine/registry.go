package engine

import (
	"fmt"
	"sync"

	"github.com/petrijr/orderflow/pkg/api"
)

// registry holds definitions and executors. Definitions are stored as private
// copies so later mutation by the caller has no effect.
type registry struct {
	mu          sync.RWMutex
	definitions map[string]api.Definition
	executors   map[string]api.TaskExecutor
}

func newRegistry() *registry {
	return &registry{
		definitions: make(map[string]api.Definition),
		executors:   make(map[string]api.TaskExecutor),
	}
}

func (r *registry) registerExecutor(name string, exec api.TaskExecutor) error {
	if name == "" {
		return fmt.Errorf("executor name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("executor %q: %w", name, api.ErrAlreadyExists)
	}
	r.executors[name] = exec
	return nil
}

func (r *registry) registerDefinition(def api.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range def.States {
		if s.Kind != api.KindTask {
			continue
		}
		if _, ok := r.executors[s.Task]; !ok {
			return fmt.Errorf("%w: state %q references unregistered executor %q",
				api.ErrMalformedDefinition, s.Name, s.Task)
		}
	}
	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("definition %q: %w", def.Name, api.ErrAlreadyExists)
	}

	r.definitions[def.Name] = def.Clone()
	return nil
}

func (r *registry) definition(name string) (api.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[name]
	return def, ok
}

func (r *registry) executor(name string) (api.TaskExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[name]
	return exec, ok
}
