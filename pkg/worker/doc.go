// Package worker provides the background worker used to drive orderflow
// executions forward when the engine is configured with a task queue.
//
// The engine's Start persists a new execution and enqueues an "advance" task.
// Workers consume those tasks and call Advance, which runs the execution
// state by state until it is terminal. Multiple workers, in one process or
// many, can safely consume the same queue: every transition is committed
// with optimistic concurrency, so duplicate deliveries are harmless.
//
// # Usage
//
//	w := worker.New(engine, queue, logger)
//	go w.Run(ctx, 4)
//
// ProcessOne handles exactly one task and is convenient in tests.
package worker
