package orderflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Definition           = api.Definition
	State                = api.State
	StateKind            = api.StateKind
	ChoiceRule           = api.ChoiceRule
	Execution            = api.Execution
	ExecutionError       = api.ExecutionError
	ListOptions          = api.ListOptions
	Status               = api.Status
	TaskExecutor         = api.TaskExecutor
	TaskFunc             = api.TaskFunc
	Notifier             = api.Notifier
	Notification         = api.Notification
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ParseDefinitionYAML  = api.ParseDefinitionYAML
	LoadDefinitionYAML   = api.LoadDefinitionYAML
)

// Re-export status values and state kinds.

const (
	StatusRunning   = api.StatusRunning
	StatusSucceeded = api.StatusSucceeded
	StatusFailed    = api.StatusFailed

	KindTask    = api.KindTask
	KindChoice  = api.KindChoice
	KindSucceed = api.KindSucceed
	KindFail    = api.KindFail
)

// DefaultTimeout is the execution deadline for definitions without their
// own timeout.
const DefaultTimeout = engine.DefaultTimeout

// Option configures an engine built by one of the constructors below.
type Option func(*options)

type options struct {
	observer Observer
	notifier Notifier
	topic    string
	logger   *slog.Logger
	timeout  time.Duration
	queue    taskqueue.Queue
}

// WithObserver reports lifecycle events to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithNotifier publishes terminal outcomes to topic through n. An empty
// topic means "orders.executions".
func WithNotifier(n Notifier, topic string) Option {
	return func(o *options) {
		o.notifier = n
		o.topic = topic
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func withQueue(q taskqueue.Queue) Option {
	return func(o *options) { o.queue = q }
}

func newEngine(store persistence.ExecutionStore, opts []Option) (Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	eng, err := engine.New(engine.Config{
		Store:          store,
		Queue:          o.queue,
		Observer:       o.observer,
		Notifier:       o.notifier,
		Topic:          o.topic,
		Logger:         o.logger,
		DefaultTimeout: o.timeout,
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// Engine constructors
// These wrap the internal packages so external callers never need to import
// them. Without a queue, Start advances each execution on a goroutine of
// the calling process.

// NewInMemoryEngine returns an Engine whose executions live in memory.
func NewInMemoryEngine(opts ...Option) Engine {
	eng, err := newEngine(persistence.NewInMemoryStore(), opts)
	if err != nil {
		// Only a missing store fails, and the store is always set here.
		panic(err)
	}
	return eng
}

// NewSQLiteEngine returns an Engine that persists executions in a SQLite
// database. Definitions are kept in memory and must be registered again
// after a restart.
func NewSQLiteEngine(db *sql.DB, opts ...Option) (Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return newEngine(store, opts)
}

// NewPostgresEngine returns an Engine that persists executions in
// PostgreSQL through the pgx driver.
func NewPostgresEngine(db *sql.DB, opts ...Option) (Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return newEngine(store, opts)
}

// NewRedisEngine returns an Engine that persists executions in Redis.
func NewRedisEngine(client *redis.Client, opts ...Option) (Engine, error) {
	return newEngine(persistence.NewRedisStore(client, ""), opts)
}

// NewMongoEngine returns an Engine that persists executions in the
// "executions" collection of database dbName.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, opts ...Option) (Engine, error) {
	store := persistence.NewMongoStore(client, dbName, "executions")
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return newEngine(store, opts)
}

// Convenience helpers that forward to the underlying Engine.

// Start starts an execution of the named definition with input marshalled
// to JSON. json.RawMessage and []byte inputs are used as they are.
func Start(ctx context.Context, eng Engine, definition string, input any) (string, error) {
	payload, err := marshalInput(input)
	if err != nil {
		return "", err
	}
	return eng.Start(ctx, definition, payload)
}

// Run starts an execution and advances it on the calling goroutine until
// it is terminal, returning the final snapshot.
func Run(ctx context.Context, eng Engine, definition string, input any) (*Execution, error) {
	id, err := Start(ctx, eng, definition, input)
	if err != nil {
		return nil, err
	}
	if err := eng.Advance(ctx, id); err != nil {
		return nil, err
	}
	return eng.GetStatus(ctx, id)
}

// GetStatus fetches an execution snapshot by ID.
func GetStatus(ctx context.Context, eng Engine, id string) (*Execution, error) {
	return eng.GetStatus(ctx, id)
}

// ListExecutions lists executions according to opts.
func ListExecutions(ctx context.Context, eng Engine, opts ListOptions) ([]*Execution, error) {
	return eng.ListExecutions(ctx, opts)
}

// WaitForCompletion polls the execution every interval until it is
// terminal or ctx is done.
func WaitForCompletion(ctx context.Context, eng Engine, id string, interval time.Duration) (*Execution, error) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exec, err := eng.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Status.Terminal() {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExpireOverdue delegates to eng.ExpireOverdue.
//
// It is typically called on process startup before starting any workers:
//
//	n, err := orderflow.ExpireOverdue(ctx, engine)
func ExpireOverdue(ctx context.Context, eng Engine) (int, error) {
	return eng.ExpireOverdue(ctx)
}

func marshalInput(input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidInput, err)
	}
	return data, nil
}
