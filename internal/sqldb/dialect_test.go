package sqldb

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	require.Equal(t, q, SQLite.Rebind(q))
	require.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", Postgres.Rebind(q))
}

func TestByName(t *testing.T) {
	d, ok := ByName("postgres")
	require.True(t, ok)
	require.Equal(t, "pgx", d.Name)

	d, ok = ByName("sqlite")
	require.True(t, ok)
	require.Equal(t, "sqlite", d.Name)

	_, ok = ByName("mysql")
	require.False(t, ok)
}

func TestSQLiteUniqueViolation(t *testing.T) {
	db, err := sql.Open(SQLite.Name, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE t (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.Error(t, err)
	require.True(t, SQLite.IsUniqueViolation(err), "got %v", err)
	require.False(t, SQLite.IsUniqueViolation(sql.ErrNoRows))
}

func TestPostgresUniqueViolation(t *testing.T) {
	require.True(t, Postgres.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, Postgres.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
