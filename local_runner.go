package orderflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a Worker
// to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := orderflow.NewLocalRunner()
//	_ = runner.Engine.RegisterExecutor("store-item", storeItem)
//	flow.MustRegister(runner.Engine)
//
//	// Synchronous run (advanced on the calling goroutine):
//	exec, err := orderflow.Run(ctx, runner.Engine, flow.Name(), input)
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	id, _ := runner.Start(ctx, flow.Name(), input)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory workflow engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory store and
// an in-memory queue. Started executions wait in the queue until
// StartWorkers is called.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(opts ...Option) *LocalRunner {
	q := taskqueue.NewInMemoryQueue(1024)

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	eng, err := newEngine(persistence.NewInMemoryStore(), append(opts[:len(opts):len(opts)], withQueue(q)))
	if err != nil {
		panic(err)
	}

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.New(eng, q, o.logger),
		logger: o.logger,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that advance queued
// executions until Stop is called or ctx ends.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("orderflow: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Worker.Run(ctx, concurrency); err != nil {
			r.logger.Error("local runner worker stopped", slog.Any("error", err))
		}
	}()

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Start starts an execution of a definition registered on r.Engine. It is
// advanced once a worker picks up its queued task.
func (r *LocalRunner) Start(ctx context.Context, definition string, input any) (string, error) {
	return Start(ctx, r.Engine, definition, input)
}
