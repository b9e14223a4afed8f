package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/orderflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe ExecutionStore backed by a map.
// It stores copies, so callers never share memory with the store.
type InMemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*api.Execution
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		executions: make(map[string]*api.Execution),
	}
}

// Ensure InMemoryStore implements ExecutionStore.
var _ ExecutionStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) Create(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("execution %s: %w", exec.ID, api.ErrAlreadyExists)
	}
	exec.Version = 1
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, id string) (*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, api.ErrNotFound)
	}
	return exec.Clone(), nil
}

func (s *InMemoryStore) Save(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.executions[exec.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", exec.ID, api.ErrNotFound)
	}
	if cur.Version != exec.Version || cur.Status.Terminal() {
		return fmt.Errorf("execution %s at version %d: %w", exec.ID, exec.Version, api.ErrConflict)
	}

	exec.Version++
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Execution
	for _, exec := range s.executions {
		if filter.matches(exec) {
			result = append(result, exec.Clone())
		}
	}
	sortByCreated(result)
	return result, nil
}

func sortByCreated(execs []*api.Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		if execs[i].CreatedAt.Equal(execs[j].CreatedAt) {
			return execs[i].ID < execs[j].ID
		}
		return execs[i].CreatedAt.Before(execs[j].CreatedAt)
	})
}
