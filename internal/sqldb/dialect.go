// Package sqldb holds the small differences between the SQL databases the
// stores run on: placeholder syntax and unique-violation detection.
package sqldb

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	// Register the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect describes one SQL flavor.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string

	dollar bool
	unique func(err error) bool
}

var (
	// SQLite uses the pure-Go modernc.org/sqlite driver.
	SQLite = Dialect{Name: "sqlite", unique: isSQLiteUnique}

	// Postgres uses the pgx stdlib driver.
	Postgres = Dialect{Name: "pgx", dollar: true, unique: isPostgresUnique}
)

// ByName returns the dialect for a driver name ("sqlite", "pgx" or
// "postgres").
func ByName(name string) (Dialect, bool) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "pgx", "postgres", "postgresql":
		return Postgres, true
	}
	return Dialect{}, false
}

// Rebind rewrites '?' placeholders to the dialect's syntax.
func (d Dialect) Rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint violation.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil || d.unique == nil {
		return false
	}
	return d.unique(err)
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	// Connections without extended result codes only report SQLITE_CONSTRAINT.
	return strings.Contains(se.Error(), "UNIQUE constraint failed")
}

func isPostgresUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
