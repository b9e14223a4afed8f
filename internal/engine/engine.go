// Package engine drives workflow executions through their definitions,
// persisting every transition with optimistic concurrency.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
)

const (
	// DefaultTimeout bounds an execution whose definition sets no Timeout.
	DefaultTimeout = 5 * time.Minute

	// DefaultTopic receives terminal notifications when Config.Topic is empty.
	DefaultTopic = "orders.executions"

	defaultCommitAttempts = 8
)

// Config describes how to construct an Engine.
type Config struct {
	// Store is required.
	Store persistence.ExecutionStore

	// Queue receives an advance task per started execution. When nil, Start
	// advances the execution on a background goroutine of this process.
	Queue taskqueue.Queue

	Observer api.Observer
	Notifier api.Notifier
	Topic    string
	Logger   *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time

	// DefaultTimeout applies to definitions without their own Timeout.
	DefaultTimeout time.Duration

	// CommitAttempts bounds how often a transition is retried after
	// version conflicts.
	CommitAttempts int
}

// Engine is the durable workflow engine. It is safe for concurrent use.
type Engine struct {
	store    persistence.ExecutionStore
	queue    taskqueue.Queue
	observer api.Observer
	notifier api.Notifier
	topic    string
	logger   *slog.Logger
	now      func() time.Time

	defaultTimeout time.Duration
	commitAttempts int

	registry *registry

	// background tracks advances started on local goroutines.
	background sync.WaitGroup
}

// Ensure Engine implements api.Engine.
var _ api.Engine = (*Engine)(nil)

// New creates an Engine using the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: execution store is required")
	}

	e := &Engine{
		store:          cfg.Store,
		queue:          cfg.Queue,
		observer:       cfg.Observer,
		notifier:       cfg.Notifier,
		topic:          cfg.Topic,
		logger:         cfg.Logger,
		now:            cfg.Clock,
		defaultTimeout: cfg.DefaultTimeout,
		commitAttempts: cfg.CommitAttempts,
		registry:       newRegistry(),
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.topic == "" {
		e.topic = DefaultTopic
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = DefaultTimeout
	}
	if e.commitAttempts <= 0 {
		e.commitAttempts = defaultCommitAttempts
	}
	return e, nil
}

func (e *Engine) RegisterExecutor(name string, exec api.TaskExecutor) error {
	return e.registry.registerExecutor(name, exec)
}

func (e *Engine) RegisterDefinition(def api.Definition) error {
	return e.registry.registerDefinition(def)
}

func (e *Engine) Start(ctx context.Context, definitionName string, input json.RawMessage) (string, error) {
	def, ok := e.registry.definition(definitionName)
	if !ok {
		return "", fmt.Errorf("%w: %s", api.ErrUnknownDefinition, definitionName)
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return "", fmt.Errorf("%w: payload is not valid JSON", api.ErrInvalidInput)
	}

	now := e.now()
	exec := &api.Execution{
		ID:             uuid.NewString(),
		DefinitionName: def.Name,
		CurrentState:   def.StartAt,
		Payload:        append(json.RawMessage(nil), input...),
		Status:         api.StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.Create(ctx, exec); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}

	e.observer.OnExecutionStarted(ctx, exec)

	if err := e.schedule(ctx, exec.ID); err != nil {
		e.abandon(ctx, exec, err)
		return "", fmt.Errorf("schedule execution %s: %w", exec.ID, err)
	}
	return exec.ID, nil
}

// abandon fails an execution that was created but could not be scheduled,
// so nothing is left RUNNING for the expiry sweep to misreport as a timeout.
func (e *Engine) abandon(ctx context.Context, exec *api.Execution, cause error) {
	ctx = context.WithoutCancel(ctx)
	tr := transition{
		from:    exec.CurrentState,
		to:      exec.CurrentState,
		status:  api.StatusFailed,
		failure: &api.ExecutionError{Code: api.ErrorCodeScheduling, Cause: cause.Error()},
		err:     cause,
	}
	if _, _, err := e.commit(ctx, exec, tr); err != nil {
		e.logger.ErrorContext(ctx, "fail unscheduled execution",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
	}
}

// schedule hands the execution to the queue, or to a local goroutine that
// outlives the caller's request.
func (e *Engine) schedule(ctx context.Context, id string) error {
	if e.queue != nil {
		return e.queue.Enqueue(ctx, taskqueue.Task{
			ID:          uuid.NewString(),
			Type:        taskqueue.TaskTypeAdvance,
			ExecutionID: id,
			EnqueuedAt:  e.now(),
		})
	}

	bg := context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.Advance(bg, id); err != nil {
			e.logger.ErrorContext(bg, "advance failed",
				slog.String("execution_id", id),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}

// Wait blocks until every advance started on a local goroutine returned.
func (e *Engine) Wait() {
	e.background.Wait()
}

func (e *Engine) GetStatus(ctx context.Context, executionID string) (*api.Execution, error) {
	return e.store.Load(ctx, executionID)
}

func (e *Engine) ListExecutions(ctx context.Context, opts api.ListOptions) ([]*api.Execution, error) {
	return e.store.List(ctx, persistence.ExecutionFilter{
		DefinitionName: opts.DefinitionName,
		Status:         opts.Status,
	})
}

func (e *Engine) timeoutFor(def api.Definition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	return e.defaultTimeout
}

// Advance runs the execution until it is terminal. Cancelling ctx stops it
// between (or during) states and leaves it RUNNING for a later Advance.
func (e *Engine) Advance(ctx context.Context, executionID string) error {
	exec, err := e.store.Load(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	def, ok := e.registry.definition(exec.DefinitionName)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrUnknownDefinition, exec.DefinitionName)
	}

	timeout := e.timeoutFor(def)
	deadline := exec.CreatedAt.Add(timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for !exec.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var tr transition
		if !e.now().Before(deadline) {
			tr = timedOut(exec.CurrentState, timeout)
		} else {
			state, ok := def.Lookup(exec.CurrentState)
			if !ok {
				return fmt.Errorf("%w: execution %s is in unknown state %q",
					api.ErrMalformedDefinition, exec.ID, exec.CurrentState)
			}

			e.observer.OnStateEntered(ctx, exec, state)

			tr, err = e.step(ctx, runCtx, exec, state, timeout)
			if err != nil {
				return err
			}
		}

		exec, _, err = e.commit(ctx, exec, tr)
		if err != nil {
			return err
		}
	}
	return nil
}

// step computes the transition out of state without persisting it.
func (e *Engine) step(ctx, runCtx context.Context, exec *api.Execution, state api.State, timeout time.Duration) (transition, error) {
	switch state.Kind {
	case api.KindTask:
		return e.runTask(ctx, runCtx, exec, state, timeout)

	case api.KindChoice:
		return transition{
			from:   state.Name,
			to:     state.Choose(exec.Payload),
			status: api.StatusRunning,
		}, nil

	case api.KindSucceed:
		return transition{
			from:   state.Name,
			to:     state.Name,
			status: api.StatusSucceeded,
		}, nil

	case api.KindFail:
		failure := &api.ExecutionError{Code: state.Error, Cause: state.Cause}
		return transition{
			from:    state.Name,
			to:      state.Name,
			status:  api.StatusFailed,
			failure: failure,
			err:     failure,
		}, nil
	}
	return transition{}, fmt.Errorf("%w: state %q has unknown kind %q", api.ErrMalformedDefinition, state.Name, state.Kind)
}

func (e *Engine) runTask(ctx, runCtx context.Context, exec *api.Execution, state api.State, timeout time.Duration) (transition, error) {
	executor, ok := e.registry.executor(state.Task)
	if !ok {
		err := &api.ExecutorError{Task: state.Task, Err: errors.New("executor not registered")}
		return failedTask(state, err), nil
	}

	started := time.Now()
	out, err := invoke(runCtx, executor, exec.Payload)
	duration := time.Since(started)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			e.observer.OnTaskCompleted(ctx, exec, state, ctx.Err(), duration)
			return transition{}, ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			e.observer.OnTaskCompleted(ctx, exec, state, api.ErrTimeout, duration)
			return timedOut(state.Name, timeout), nil
		}
		execErr := &api.ExecutorError{Task: state.Task, Err: err}
		e.observer.OnTaskCompleted(ctx, exec, state, execErr, duration)
		return failedTask(state, execErr), nil
	}
	e.observer.OnTaskCompleted(ctx, exec, state, nil, duration)

	if out == nil {
		out = json.RawMessage("null")
	}
	if !json.Valid(out) {
		return failedTask(state, &api.ExecutorError{Task: state.Task, Err: errors.New("executor returned invalid JSON")}), nil
	}
	projected, err := api.ProjectOutput(out, state.OutputPath)
	if err != nil {
		failure := &api.ExecutionError{Code: api.ErrorCodeOutputPath, Cause: err.Error()}
		return transition{
			from:    state.Name,
			to:      state.Name,
			status:  api.StatusFailed,
			failure: failure,
			err:     err,
		}, nil
	}

	return transition{
		from:    state.Name,
		to:      state.Next,
		payload: projected,
		status:  api.StatusRunning,
	}, nil
}

type invokeResult struct {
	out json.RawMessage
	err error
}

// invoke calls the executor on its own goroutine so a call that ignores ctx
// is abandoned at the deadline instead of blocking the execution.
func invoke(ctx context.Context, executor api.TaskExecutor, payload json.RawMessage) (json.RawMessage, error) {
	done := make(chan invokeResult, 1)
	input := append(json.RawMessage(nil), payload...)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		out, err := executor.Invoke(ctx, input)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExpireOverdue fails RUNNING executions whose deadline has passed.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	running, err := e.store.List(ctx, persistence.ExecutionFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	now := e.now()
	expired := 0
	for _, exec := range running {
		timeout := e.defaultTimeout
		if def, ok := e.registry.definition(exec.DefinitionName); ok {
			timeout = e.timeoutFor(def)
		}
		if now.Before(exec.CreatedAt.Add(timeout)) {
			continue
		}

		_, committed, err := e.commit(ctx, exec, timedOut(exec.CurrentState, timeout))
		if err != nil {
			if errors.Is(err, api.ErrConflict) || errors.Is(err, api.ErrNotFound) {
				continue
			}
			return expired, err
		}
		if committed {
			expired++
		}
	}
	return expired, nil
}
