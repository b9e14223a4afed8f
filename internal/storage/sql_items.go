package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/petrijr/orderflow/internal/sqldb"
	"github.com/petrijr/orderflow/pkg/api"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// SQLItemStore is an ItemStore backed by a database/sql table. It runs on
// SQLite and PostgreSQL; both support the ON CONFLICT upsert it uses.
type SQLItemStore struct {
	db      *sql.DB
	dialect sqldb.Dialect
	table   string
}

var _ ItemStore = (*SQLItemStore)(nil)

// NewSQLItemStore creates the item table if needed. table must be a plain
// SQL identifier.
func NewSQLItemStore(db *sql.DB, dialect sqldb.Dialect, table string) (*SQLItemStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", api.ErrInvalidInput, table)
	}
	s := &SQLItemStore{db: db, dialect: dialect, table: table}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLItemStore) initSchema() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			accountid TEXT NOT NULL,
			vendorid TEXT NOT NULL,
			orderdate TEXT NOT NULL,
			city TEXT NOT NULL,
			coffeetype TEXT NOT NULL,
			coffeesize TEXT NOT NULL,
			unitprice DOUBLE PRECISION NOT NULL,
			quantity INTEGER NOT NULL,
			PRIMARY KEY (accountid, vendorid)
		);`, s.table))
	return err
}

func (s *SQLItemStore) PutItem(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(fmt.Sprintf(`
		INSERT INTO %s (accountid, vendorid, orderdate, city, coffeetype, coffeesize, unitprice, quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (accountid, vendorid) DO UPDATE SET
			orderdate = excluded.orderdate,
			city = excluded.city,
			coffeetype = excluded.coffeetype,
			coffeesize = excluded.coffeesize,
			unitprice = excluded.unitprice,
			quantity = excluded.quantity`, s.table)),
		item.AccountID,
		item.VendorID,
		item.OrderDate,
		item.City,
		item.Details.CoffeeType,
		item.Details.CoffeeSize,
		item.Details.UnitPrice,
		item.Details.Quantity,
	)
	if err != nil {
		return fmt.Errorf("put item %s/%s: %w", item.AccountID, item.VendorID, err)
	}
	return nil
}

func (s *SQLItemStore) GetItem(ctx context.Context, accountID, vendorID string) (Item, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(fmt.Sprintf(`
		SELECT accountid, vendorid, orderdate, city, coffeetype, coffeesize, unitprice, quantity
		FROM %s
		WHERE accountid = ? AND vendorid = ?`, s.table)),
		accountID, vendorID,
	)

	var item Item
	err := row.Scan(
		&item.AccountID,
		&item.VendorID,
		&item.OrderDate,
		&item.City,
		&item.Details.CoffeeType,
		&item.Details.CoffeeSize,
		&item.Details.UnitPrice,
		&item.Details.Quantity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("item %s/%s: %w", accountID, vendorID, api.ErrNotFound)
	}
	if err != nil {
		return Item{}, err
	}
	return item, nil
}
