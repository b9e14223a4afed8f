package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// SQLiteQueue keeps tasks in a queue_tasks table so they survive a restart.
// It can share a database with the SQLite execution store.
//
// Tasks are claimed with a single DELETE ... RETURNING, so two processes on
// the same file never receive the same task.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue creates the queue table if needed.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{db: db, pollInterval: 25 * time.Millisecond}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_tasks (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create queue_tasks: %w", err)
	}
	return q, nil
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO queue_tasks (payload) VALUES (?)`, data)
	return err
}

// Dequeue polls until a task is claimed or ctx is done.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := time.NewTimer(q.pollInterval)
	defer tmr.Stop()

	for {
		task, err := q.claim(ctx)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			return nil, err
		case task != nil:
			return task, nil
		}

		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
		tmr.Reset(q.pollInterval)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

// claim removes the oldest task. It returns nil when the table is empty.
func (q *SQLiteQueue) claim(ctx context.Context) (*Task, error) {
	var (
		seq     int64
		payload []byte
	)
	err := q.db.QueryRowContext(ctx, `
		DELETE FROM queue_tasks
		WHERE seq = (SELECT seq FROM queue_tasks ORDER BY seq LIMIT 1)
		RETURNING seq, payload`).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task, err := DecodeTask(payload)
	if err != nil {
		return nil, fmt.Errorf("decode task %d: %w", seq, err)
	}
	if task.ID == "" {
		task.ID = strconv.FormatInt(seq, 10)
	}
	return task, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_tasks`).Scan(&n); err != nil {
		slog.Warn("sqlite queue length failed", slog.Any("error", err))
		return 0
	}
	return n
}
