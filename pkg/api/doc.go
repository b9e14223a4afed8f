// Package api contains the core types shared by the orderflow engine, its
// stores, workers and HTTP gateway.
//
// Most users interact with the higher-level orderflow package, which
// re-exports selected types and wires engines to storage backends. The api
// package is for custom integrations: alternate executors, stores or
// observers.
//
// # Definitions
//
// A Definition is a small state graph expressed as data. Four state kinds are
// supported:
//
//   - Task: invoke a named TaskExecutor with the current payload, optionally
//     narrow its output with OutputPath, then continue at Next.
//   - Choice: evaluate ChoiceRules in order against the payload; the first
//     match selects the next state, otherwise Default is used.
//   - Succeed: end the execution with StatusSucceeded.
//   - Fail: end the execution with StatusFailed and a fixed error/cause.
//
// Definition.Validate rejects missing start states, dangling transitions,
// Choice states without a default and cycles reachable from the start.
// Definitions can also be loaded from YAML with LoadDefinitionYAML.
//
// # Executions
//
// An Execution is one run of a Definition. Its payload is JSON
// (json.RawMessage) and its Status moves from RUNNING to exactly one of
// SUCCEEDED or FAILED. Terminal executions are immutable.
//
// # Paths
//
// Choice variables and task output paths use a "$"-rooted syntax: "$" is the
// whole document and "$.a.b" selects a nested field. Task outputs are
// wrapped as {"Payload": <output>} before OutputPath is applied, so
// "$.Payload" yields the raw output.
//
// # Observability
//
// The Observer interface reports execution and state lifecycle events.
// LoggingObserver logs through log/slog, BasicMetrics keeps counters, and
// NewCompositeObserver fans out to several observers.
package api
