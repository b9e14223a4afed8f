package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/petrijr/orderflow/pkg/api"
)

// StoreTestSuite runs the same behavioral checks against every
// ExecutionStore implementation. newStore is called before each test and
// must return an empty store.
type StoreTestSuite struct {
	suite.Suite
	newStore func() ExecutionStore
	store    ExecutionStore
}

func (s *StoreTestSuite) SetupTest() {
	s.store = s.newStore()
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newExecution(id, def string, offset time.Duration) *api.Execution {
	return &api.Execution{
		ID:             id,
		DefinitionName: def,
		CurrentState:   "PutItem",
		Payload:        json.RawMessage(`{"order":{"accountid":"acc-1"}}`),
		Status:         api.StatusRunning,
		CreatedAt:      baseTime.Add(offset),
		UpdatedAt:      baseTime.Add(offset),
	}
}

func (s *StoreTestSuite) TestCreateAndLoad() {
	ctx := context.Background()
	exec := newExecution("exec-1", "orders", 0)

	s.Require().NoError(s.store.Create(ctx, exec))
	s.Require().EqualValues(1, exec.Version)

	got, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	s.Equal("orders", got.DefinitionName)
	s.Equal("PutItem", got.CurrentState)
	s.Equal(api.StatusRunning, got.Status)
	s.JSONEq(`{"order":{"accountid":"acc-1"}}`, string(got.Payload))
	s.True(got.CreatedAt.Equal(baseTime), "created at %v", got.CreatedAt)
	s.EqualValues(1, got.Version)
	s.Nil(got.Error)
}

func (s *StoreTestSuite) TestLoadReturnsCopy() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newExecution("exec-1", "orders", 0)))

	got, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	got.CurrentState = "Mutated"

	again, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	s.Equal("PutItem", again.CurrentState)
}

func (s *StoreTestSuite) TestCreateDuplicate() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newExecution("exec-1", "orders", 0)))

	err := s.store.Create(ctx, newExecution("exec-1", "orders", 0))
	s.Require().ErrorIs(err, api.ErrAlreadyExists)
}

func (s *StoreTestSuite) TestLoadMissing() {
	_, err := s.store.Load(context.Background(), "does-not-exist")
	s.Require().ErrorIs(err, api.ErrNotFound)
}

func (s *StoreTestSuite) TestSaveIncrementsVersion() {
	ctx := context.Background()
	exec := newExecution("exec-1", "orders", 0)
	s.Require().NoError(s.store.Create(ctx, exec))

	exec.CurrentState = "Decide"
	exec.Payload = json.RawMessage(`"FAILED"`)
	s.Require().NoError(s.store.Save(ctx, exec))
	s.EqualValues(2, exec.Version)

	got, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	s.Equal("Decide", got.CurrentState)
	s.Equal(`"FAILED"`, string(got.Payload))
	s.EqualValues(2, got.Version)
}

func (s *StoreTestSuite) TestSaveStaleVersionConflicts() {
	ctx := context.Background()
	exec := newExecution("exec-1", "orders", 0)
	s.Require().NoError(s.store.Create(ctx, exec))

	stale, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)

	exec.CurrentState = "Decide"
	s.Require().NoError(s.store.Save(ctx, exec))

	stale.CurrentState = "PutObject"
	err = s.store.Save(ctx, stale)
	s.Require().ErrorIs(err, api.ErrConflict)
	s.EqualValues(1, stale.Version)

	got, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	s.Equal("Decide", got.CurrentState)
}

func (s *StoreTestSuite) TestTerminalExecutionIsImmutable() {
	ctx := context.Background()
	exec := newExecution("exec-1", "orders", 0)
	s.Require().NoError(s.store.Create(ctx, exec))

	exec.CurrentState = "Fail"
	exec.Status = api.StatusFailed
	exec.Error = &api.ExecutionError{Code: "DescribeJob returned FAILED", Cause: "Place order failed"}
	s.Require().NoError(s.store.Save(ctx, exec))

	exec.Status = api.StatusSucceeded
	exec.Error = nil
	err := s.store.Save(ctx, exec)
	s.Require().ErrorIs(err, api.ErrConflict)

	got, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	s.Equal(api.StatusFailed, got.Status)
	s.Require().NotNil(got.Error)
	s.Equal("DescribeJob returned FAILED", got.Error.Code)
	s.Equal("Place order failed", got.Error.Cause)
}

func (s *StoreTestSuite) TestSaveMissing() {
	exec := newExecution("ghost", "orders", 0)
	exec.Version = 1
	err := s.store.Save(context.Background(), exec)
	s.Require().ErrorIs(err, api.ErrNotFound)
}

func (s *StoreTestSuite) TestConcurrentSavesSingleWinner() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newExecution("exec-1", "orders", 0)))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		loaded, err := s.store.Load(ctx, "exec-1")
		s.Require().NoError(err)

		wg.Add(1)
		go func(i int, exec *api.Execution) {
			defer wg.Done()
			exec.CurrentState = fmt.Sprintf("writer-%d", i)
			err := s.store.Save(ctx, exec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case isConflict(err):
				conflicts++
			}
		}(i, loaded)
	}
	wg.Wait()

	s.Equal(1, succeeded)
	s.Equal(writers-1, conflicts)

	got, err := s.store.Load(ctx, "exec-1")
	s.Require().NoError(err)
	s.EqualValues(2, got.Version)
}

func (s *StoreTestSuite) TestListFiltersAndOrders() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newExecution("b", "orders", 2*time.Second)))
	s.Require().NoError(s.store.Create(ctx, newExecution("a", "orders", time.Second)))
	s.Require().NoError(s.store.Create(ctx, newExecution("c", "invoices", 0)))

	done := newExecution("d", "orders", 3*time.Second)
	s.Require().NoError(s.store.Create(ctx, done))
	done.Status = api.StatusSucceeded
	done.CurrentState = "Succeed"
	s.Require().NoError(s.store.Save(ctx, done))

	all, err := s.store.List(ctx, ExecutionFilter{})
	s.Require().NoError(err)
	s.Equal([]string{"c", "a", "b", "d"}, ids(all))

	orders, err := s.store.List(ctx, ExecutionFilter{DefinitionName: "orders"})
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "d"}, ids(orders))

	running, err := s.store.List(ctx, ExecutionFilter{DefinitionName: "orders", Status: api.StatusRunning})
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, ids(running))

	succeeded, err := s.store.List(ctx, ExecutionFilter{Status: api.StatusSucceeded})
	s.Require().NoError(err)
	s.Equal([]string{"d"}, ids(succeeded))

	none, err := s.store.List(ctx, ExecutionFilter{DefinitionName: "unknown"})
	s.Require().NoError(err)
	s.Empty(none)
}

func ids(execs []*api.Execution) []string {
	out := make([]string, 0, len(execs))
	for _, e := range execs {
		out = append(out, e.ID)
	}
	return out
}
