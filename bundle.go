package orderflow

import (
	"database/sql"

	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/taskqueue"
	workerpkg "github.com/petrijr/orderflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
//
// For now, we only provide a SQLite-backed bundle.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; the public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Executions and queued advance tasks are
// persisted in the provided *sql.DB, so a started execution survives a
// restart and is picked up by the next process's worker.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:orderflow.db?_pragma=journal_mode(WAL)")
//	bundle, err := orderflow.NewSQLiteBundle(db)
//	// register executors and definitions on bundle.Engine
//	go bundle.Worker.Run(ctx, 2)
func NewSQLiteBundle(db *sql.DB, opts ...Option) (*WorkerBundle, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	eng, err := newEngine(store, append(opts[:len(opts):len(opts)], withQueue(q)))
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.New(eng, q, o.logger),
		queue:  q,
	}, nil
}

// Pending returns the number of queued advance tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
