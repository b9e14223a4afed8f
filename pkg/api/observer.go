package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the workflow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnExecutionStarted is called once after a new execution is persisted.
	OnExecutionStarted(ctx context.Context, exec *Execution)

	// OnStateEntered is called before the engine handles a state.
	OnStateEntered(ctx context.Context, exec *Execution, state State)

	// OnTaskCompleted is called after a TaskExecutor returns or is abandoned,
	// for both successes and failures (err != nil).
	OnTaskCompleted(ctx context.Context, exec *Execution, state State, err error, duration time.Duration)

	// OnExecutionSucceeded is called when an execution reaches StatusSucceeded.
	OnExecutionSucceeded(ctx context.Context, exec *Execution)

	// OnExecutionFailed is called when an execution transitions to StatusFailed.
	OnExecutionFailed(ctx context.Context, exec *Execution, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnExecutionStarted(ctx context.Context, exec *Execution)             {}
func (NoopObserver) OnStateEntered(ctx context.Context, exec *Execution, state State)    {}
func (NoopObserver) OnExecutionSucceeded(ctx context.Context, exec *Execution)           {}
func (NoopObserver) OnExecutionFailed(ctx context.Context, exec *Execution, err error)   {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, exec *Execution, state State, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnExecutionStarted(ctx context.Context, exec *Execution) {
	for _, o := range c.observers {
		o.OnExecutionStarted(ctx, exec)
	}
}

func (c *CompositeObserver) OnStateEntered(ctx context.Context, exec *Execution, state State) {
	for _, o := range c.observers {
		o.OnStateEntered(ctx, exec, state)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, exec *Execution, state State, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, exec, state, err, d)
	}
}

func (c *CompositeObserver) OnExecutionSucceeded(ctx context.Context, exec *Execution) {
	for _, o := range c.observers {
		o.OnExecutionSucceeded(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {
	for _, o := range c.observers {
		o.OnExecutionFailed(ctx, exec, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs execution and state
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnExecutionStarted(ctx context.Context, exec *Execution) {
	o.Logger.InfoContext(ctx, "execution_started",
		slog.String("definition", exec.DefinitionName),
		slog.String("execution_id", exec.ID),
	)
}

func (o *LoggingObserver) OnStateEntered(ctx context.Context, exec *Execution, state State) {
	o.Logger.DebugContext(ctx, "state_entered",
		slog.String("definition", exec.DefinitionName),
		slog.String("execution_id", exec.ID),
		slog.String("state", state.Name),
		slog.String("kind", string(state.Kind)),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, exec *Execution, state State, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "task_completed",
		slog.String("definition", exec.DefinitionName),
		slog.String("execution_id", exec.ID),
		slog.String("state", state.Name),
		slog.String("task", state.Task),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnExecutionSucceeded(ctx context.Context, exec *Execution) {
	o.Logger.InfoContext(ctx, "execution_succeeded",
		slog.String("definition", exec.DefinitionName),
		slog.String("execution_id", exec.ID),
	)
}

func (o *LoggingObserver) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {
	o.Logger.ErrorContext(ctx, "execution_failed",
		slog.String("definition", exec.DefinitionName),
		slog.String("execution_id", exec.ID),
		slog.String("state", exec.CurrentState),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate task durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	executionsStarted   atomic.Int64
	executionsSucceeded atomic.Int64
	executionsFailed    atomic.Int64
	tasksCompleted      atomic.Int64
	tasksFailed         atomic.Int64
	totalTaskDuration   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ExecutionsStarted   int64
	ExecutionsSucceeded int64
	ExecutionsFailed    int64
	RunningExecutions   int64

	TasksCompleted  int64
	TasksFailed     int64
	AvgTaskDuration time.Duration
}

func (m *BasicMetrics) OnExecutionStarted(ctx context.Context, exec *Execution) {
	m.executionsStarted.Add(1)
}

func (m *BasicMetrics) OnExecutionSucceeded(ctx context.Context, exec *Execution) {
	m.executionsSucceeded.Add(1)
}

func (m *BasicMetrics) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {
	m.executionsFailed.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, exec *Execution, state State, err error, d time.Duration) {
	// Only successful invocations count toward the average duration.
	if err != nil {
		m.tasksFailed.Add(1)
		return
	}
	m.tasksCompleted.Add(1)
	m.totalTaskDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.executionsStarted.Load()
	succeeded := m.executionsSucceeded.Load()
	failed := m.executionsFailed.Load()
	tasks := m.tasksCompleted.Load()
	totalNs := m.totalTaskDuration.Load()

	var avg time.Duration
	if tasks > 0 {
		avg = time.Duration(totalNs / tasks)
	}

	return BasicMetricsSnapshot{
		ExecutionsStarted:   started,
		ExecutionsSucceeded: succeeded,
		ExecutionsFailed:    failed,
		RunningExecutions:   started - succeeded - failed,
		TasksCompleted:      tasks,
		TasksFailed:         m.tasksFailed.Load(),
		AvgTaskDuration:     avg,
	}
}
