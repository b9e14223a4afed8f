// Package storage holds the order item table and the invoice object bucket
// the order executors write to and read from.
package storage

import (
	"context"
)

// OrderDetails describes what was ordered.
type OrderDetails struct {
	CoffeeType string  `json:"coffeetype"`
	CoffeeSize string  `json:"coffeesize"`
	UnitPrice  float64 `json:"unitprice"`
	Quantity   int     `json:"quantity"`
}

// Item is one row of the order table, keyed by (AccountID, VendorID).
type Item struct {
	AccountID string       `json:"accountid"`
	VendorID  string       `json:"vendorid"`
	OrderDate string       `json:"orderdate"`
	City      string       `json:"city"`
	Details   OrderDetails `json:"details"`
}

// ItemStore persists order items. PutItem replaces an existing item with the
// same key. GetItem returns api.ErrNotFound for unknown keys.
type ItemStore interface {
	PutItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, accountID, vendorID string) (Item, error)
}

// Object is a stored invoice document.
type Object struct {
	Key      string            `json:"key"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Body     []byte            `json:"-"`
}

// ObjectStore persists documents by key. Keys are slash-separated relative
// paths. GetObject returns api.ErrNotFound for unknown keys.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, metadata map[string]string) error
	GetObject(ctx context.Context, key string) (Object, error)
}
