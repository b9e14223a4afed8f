package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

// transition is the outcome of handling one state, applied to a freshly
// loaded copy of the execution on every commit attempt.
type transition struct {
	from string
	to   string

	// payload replaces the execution payload; nil keeps it.
	payload json.RawMessage
	status  api.Status
	failure *api.ExecutionError

	// err is reported to observers when the transition fails the execution.
	err error
}

func (t transition) apply(exec *api.Execution, now time.Time) {
	exec.CurrentState = t.to
	if t.payload != nil {
		exec.Payload = append(json.RawMessage(nil), t.payload...)
	}
	exec.Status = t.status
	exec.Error = nil
	if t.failure != nil {
		failure := *t.failure
		exec.Error = &failure
	}
	exec.UpdatedAt = now
}

func timedOut(state string, timeout time.Duration) transition {
	failure := &api.ExecutionError{
		Code:  api.ErrorCodeTimeout,
		Cause: fmt.Sprintf("execution did not finish within %s", timeout),
	}
	return transition{
		from:    state,
		to:      state,
		status:  api.StatusFailed,
		failure: failure,
		err:     fmt.Errorf("%w: %s", api.ErrTimeout, failure.Cause),
	}
}

func failedTask(state api.State, err *api.ExecutorError) transition {
	return transition{
		from:    state.Name,
		to:      state.Name,
		status:  api.StatusFailed,
		failure: &api.ExecutionError{Code: api.ErrorCodeExecutorFailure, Cause: err.Err.Error()},
		err:     err,
	}
}

// commit persists tr on top of exec. On a version conflict it reloads: if the
// execution is terminal or another advancer already left tr.from, the fresh
// copy is returned uncommitted so the caller continues from there. Otherwise
// tr is re-applied to the fresh copy without re-running any executor.
func (e *Engine) commit(ctx context.Context, exec *api.Execution, tr transition) (*api.Execution, bool, error) {
	for attempt := 1; ; attempt++ {
		next := exec.Clone()
		tr.apply(next, e.now())

		err := e.store.Save(ctx, next)
		if err == nil {
			e.committed(ctx, next, tr)
			return next, true, nil
		}
		if !errors.Is(err, api.ErrConflict) {
			return nil, false, err
		}
		if attempt >= e.commitAttempts {
			return nil, false, fmt.Errorf("execution %s: gave up after %d attempts: %w", exec.ID, attempt, err)
		}

		fresh, err := e.store.Load(ctx, exec.ID)
		if err != nil {
			return nil, false, err
		}
		if fresh.Status.Terminal() || fresh.CurrentState != tr.from {
			return fresh, false, nil
		}
		exec = fresh
	}
}

func (e *Engine) committed(ctx context.Context, exec *api.Execution, tr transition) {
	switch exec.Status {
	case api.StatusSucceeded:
		e.observer.OnExecutionSucceeded(ctx, exec)
	case api.StatusFailed:
		e.observer.OnExecutionFailed(ctx, exec, tr.err)
	default:
		return
	}
	e.notify(ctx, exec)
}

// notify publishes the terminal outcome. Failures are logged only; the
// execution status is already durable.
func (e *Engine) notify(ctx context.Context, exec *api.Execution) {
	if e.notifier == nil {
		return
	}

	msg, err := json.Marshal(api.NotificationFor(exec))
	if err != nil {
		e.logger.ErrorContext(ctx, "encode notification",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
		return
	}
	if err := e.notifier.Publish(ctx, e.topic, msg); err != nil {
		e.logger.WarnContext(ctx, "publish notification failed",
			slog.String("execution_id", exec.ID),
			slog.String("topic", e.topic),
			slog.Any("error", err),
		)
	}
}
