// Package orderflow provides a durable order-processing workflow engine for Go.
//
// A workflow is a Definition: a small graph of named states. Task states call
// a registered TaskExecutor with the current JSON payload, Choice states pick
// the next state by inspecting the payload, and Succeed and Fail states end
// the execution. Every transition is persisted with optimistic concurrency,
// so an execution can be advanced by any process that shares its store and
// each transition is committed exactly once.
//
// # Engine
//
// The Engine stores definitions and executors, persists executions, and
// provides APIs to:
//   - start executions asynchronously (Start returns once the execution is
//     persisted)
//   - advance executions to a terminal status
//   - read execution snapshots
//   - fail executions whose deadline has passed
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Every execution has a deadline, five minutes after start unless the
// definition says otherwise. A task still running at the deadline is
// abandoned and the execution fails with the error "Timeout".
//
// # Worker
//
// Engines built with a task queue do not advance executions themselves:
// Start enqueues an advance task and a Worker consumes it. Workers run as
// background goroutines or in separate processes, and duplicate deliveries
// are harmless.
//
// # FlowBuilder
//
// FlowBuilder is the fluent way to define workflows in code; definitions can
// also be loaded from YAML with LoadDefinitionYAML.
//
//	flow := orderflow.New("order-processing").
//	    Task("PutItem", "store-item", "Decide", "$.Payload").
//	    Choice("Decide", "PutObject", orderflow.WhenString("$", "FAILED", "Fail")).
//	    Task("PutObject", "store-object", "Succeed", "$.Payload").
//	    Succeed("Succeed").
//	    Fail("Fail", "DescribeJob returned FAILED", "Place order failed")
//
// # LocalRunner
//
// LocalRunner combines an in-memory engine, queue and worker for
// development and tests. NewSQLiteBundle does the same durably on a single
// SQLite database.
//
// # Service
//
// The orderflow command (cmd/orderflow) runs the built-in order workflow
// behind an HTTP gateway: POST /order starts an execution and answers
// {"done": true} right away, GET /order and GET /invoice read the stored
// item and invoice.
package orderflow
