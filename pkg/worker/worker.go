package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
)

// Worker pulls tasks from a Queue and advances executions using an Engine.
type Worker struct {
	engine api.Advancer
	queue  taskqueue.Queue
	logger *slog.Logger
}

// New creates a new Worker. A nil logger means slog.Default().
func New(engine api.Advancer, queue taskqueue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		logger: logger,
	}
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or dequeue failed)
//   - processed == true: a task was processed; err indicates whether advancing succeeded.
//
// Cancelling ctx only interrupts the dequeue. A task already taken off the
// queue is advanced to completion, bounded by the execution deadline.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeAdvance:
		return true, w.engine.Advance(context.WithoutCancel(ctx), task.ExecutionID)
	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

const (
	minDequeueBackoff = 50 * time.Millisecond
	maxDequeueBackoff = 5 * time.Second
)

// Run processes tasks on concurrency goroutines until ctx is cancelled and
// returns nil once every in-flight advance has finished.
//
// Failures never stop the loop. A malformed task is logged and skipped; any
// other dequeue error is logged and retried with exponential backoff.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}

	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context, slot int) {
	backoff := minDequeueBackoff
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case processed && err != nil:
			w.logger.ErrorContext(ctx, "task failed",
				slog.Int("worker", slot),
				slog.Any("error", err),
			)
		case errors.Is(err, taskqueue.ErrMalformedTask):
			w.logger.ErrorContext(ctx, "dropping malformed task",
				slog.Int("worker", slot),
				slog.Any("error", err),
			)
		case err != nil:
			w.logger.WarnContext(ctx, "dequeue failed",
				slog.Int("worker", slot),
				slog.Duration("retry_in", backoff),
				slog.Any("error", err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxDequeueBackoff)
			continue
		}
		backoff = minDequeueBackoff
	}
}
