package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/orderflow/internal/sqldb"
	"github.com/petrijr/orderflow/pkg/api"
)

// SQLStore is an ExecutionStore backed by database/sql. The same code serves
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx); only the dialect differs.
//
// Save is a single conditional UPDATE on (id, version, status), so the
// database itself arbitrates concurrent writers.
type SQLStore struct {
	db      *sql.DB
	dialect sqldb.Dialect
}

// Ensure SQLStore implements ExecutionStore.
var _ ExecutionStore = (*SQLStore)(nil)

// NewSQLiteStore initializes the schema in db and returns a store for it.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	return NewSQLStore(db, sqldb.SQLite)
}

// NewPostgresStore initializes the schema in db and returns a store for it.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	return NewSQLStore(db, sqldb.Postgres)
}

// NewSQLStore initializes the executions table and returns a new SQLStore.
func NewSQLStore(db *sql.DB, dialect sqldb.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			definition_name TEXT NOT NULL,
			current_state TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			error_cause TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version BIGINT NOT NULL
		);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS executions_status_idx ON executions (status, definition_name);`)
	return err
}

func (s *SQLStore) Create(ctx context.Context, exec *api.Execution) error {
	rec := toRecord(exec)
	rec.Version = 1

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO executions (id, definition_name, current_state, payload, status, error_code, error_cause, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.DefinitionName, rec.CurrentState, nullable(rec.Payload), rec.Status,
		rec.ErrorCode, rec.ErrorCause, rec.CreatedAt, rec.UpdatedAt, rec.Version,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("execution %s: %w", exec.ID, api.ErrAlreadyExists)
		}
		return err
	}
	exec.Version = 1
	return nil
}

func (s *SQLStore) Load(ctx context.Context, id string) (*api.Execution, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT id, definition_name, current_state, payload, status, error_code, error_cause, created_at, updated_at, version
		FROM executions
		WHERE id = ?`), id)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, api.ErrNotFound)
	}
	return exec, err
}

func (s *SQLStore) Save(ctx context.Context, exec *api.Execution) error {
	rec := toRecord(exec)

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE executions
		SET current_state = ?, payload = ?, status = ?, error_code = ?, error_cause = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?`),
		rec.CurrentState, nullable(rec.Payload), rec.Status, rec.ErrorCode, rec.ErrorCause, rec.UpdatedAt,
		rec.ID, rec.Version, string(api.StatusRunning),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.Load(ctx, exec.ID); err != nil {
			return err
		}
		return fmt.Errorf("execution %s at version %d: %w", exec.ID, exec.Version, api.ErrConflict)
	}

	exec.Version++
	return nil
}

func (s *SQLStore) List(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	query := `
		SELECT id, definition_name, current_state, payload, status, error_code, error_cause, created_at, updated_at, version
		FROM executions`

	var (
		conds []string
		args  []any
	)
	if filter.DefinitionName != "" {
		conds = append(conds, "definition_name = ?")
		args = append(args, filter.DefinitionName)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*api.Execution, error) {
	var (
		rec     executionRecord
		payload sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.DefinitionName,
		&rec.CurrentState,
		&payload,
		&rec.Status,
		&rec.ErrorCode,
		&rec.ErrorCause,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Version,
	); err != nil {
		return nil, err
	}
	rec.Payload = payload.String
	return rec.toExecution(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
