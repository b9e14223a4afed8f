package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/petrijr/orderflow/internal/storage"
	"github.com/petrijr/orderflow/pkg/api"
)

// Executors holds the dependencies of the order executors.
type Executors struct {
	Items   storage.ItemStore
	Objects storage.ObjectStore
	Logger  *slog.Logger

	// Clock picks the billing period; defaults to time.Now.
	Clock func() time.Time
}

func (x *Executors) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

func (x *Executors) now() time.Time {
	if x.Clock == nil {
		return time.Now()
	}
	return x.Clock()
}

// All returns every executor keyed by the name tasks and the gateway use.
func (x *Executors) All() map[string]api.TaskExecutor {
	return map[string]api.TaskExecutor{
		TaskStoreItem:   api.TaskFunc(x.StoreItem),
		TaskStoreObject: api.TaskFunc(x.StoreObject),
		TaskReadItem:    api.TaskFunc(x.ReadItem),
		TaskReadObject:  api.TaskFunc(x.ReadObject),
	}
}

var requiredOrderFields = []string{
	"accountid",
	"vendorid",
	"orderdate",
	"city",
	"details.coffeetype",
	"details.coffeesize",
	"details.unitprice",
	"details.quantity",
}

// orderOf returns the "order" object of an event, or the event itself when
// it has no such field.
func orderOf(event json.RawMessage) gjson.Result {
	if order := gjson.GetBytes(event, "order"); order.IsObject() {
		return order
	}
	return gjson.ParseBytes(event)
}

func parseItem(event json.RawMessage) (storage.Item, error) {
	if !gjson.ValidBytes(event) {
		return storage.Item{}, fmt.Errorf("%w: event is not JSON", api.ErrInvalidInput)
	}
	order := orderOf(event)
	if !order.IsObject() {
		return storage.Item{}, fmt.Errorf("%w: order is not an object", api.ErrInvalidInput)
	}
	for _, field := range requiredOrderFields {
		if !order.Get(field).Exists() {
			return storage.Item{}, fmt.Errorf("%w: order.%s is missing", api.ErrInvalidInput, field)
		}
	}

	var item storage.Item
	if err := json.Unmarshal([]byte(order.Raw), &item); err != nil {
		return storage.Item{}, fmt.Errorf("%w: %v", api.ErrInvalidInput, err)
	}
	if item.AccountID == "" || item.VendorID == "" {
		return storage.Item{}, fmt.Errorf("%w: accountid and vendorid must be non-empty", api.ErrInvalidInput)
	}
	return item, nil
}

// StoreItem writes the order to the item table and returns the event
// unchanged, or the string "FAILED" when the order is incomplete or the
// write fails.
func (x *Executors) StoreItem(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	item, err := parseItem(event)
	if err == nil {
		err = x.Items.PutItem(ctx, item)
	}
	if err != nil {
		x.logger().WarnContext(ctx, "store item failed", slog.Any("error", err))
		return marshalString(resultFailed), nil
	}
	return event, nil
}

// StoreObject writes the event as an invoice under
// <year>/<month>/<accountid>.json and returns "SUCCEED" or "FAILED".
func (x *Executors) StoreObject(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	accountID := orderOf(event).Get("accountid")
	if accountID.Type != gjson.String || accountID.Str == "" {
		x.logger().WarnContext(ctx, "store object failed", slog.String("reason", "missing accountid"))
		return marshalString(resultFailed), nil
	}

	now := x.now()
	period := fmt.Sprintf("%d/%d", now.Year(), int(now.Month()))
	key := period + "/" + accountID.Str + ".json"

	err := x.Objects.PutObject(ctx, key, event, map[string]string{
		"accountid":     accountID.Str,
		"billingperiod": period,
	})
	if err != nil {
		x.logger().WarnContext(ctx, "store object failed", slog.String("key", key), slog.Any("error", err))
		return marshalString(resultFailed), nil
	}
	return marshalString(resultSucceed), nil
}

type readItemRequest struct {
	AccountID string `json:"accountid"`
	VendorID  string `json:"vendorid"`
}

// ReadItem returns the item for {"accountid", "vendorid"}.
func (x *Executors) ReadItem(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req readItemRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidInput, err)
	}
	if req.AccountID == "" || req.VendorID == "" {
		return nil, fmt.Errorf("%w: accountid and vendorid are required", api.ErrInvalidInput)
	}

	item, err := x.Items.GetItem(ctx, req.AccountID, req.VendorID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(item)
}

type readObjectRequest struct {
	ObjectKey string `json:"objectKey"`
}

type objectResponse struct {
	Key      string            `json:"key"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Body     json.RawMessage   `json:"body"`
}

// ReadObject returns the invoice stored under <objectKey>.json.
func (x *Executors) ReadObject(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req readObjectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidInput, err)
	}
	if req.ObjectKey == "" {
		return nil, fmt.Errorf("%w: objectKey is required", api.ErrInvalidInput)
	}

	obj, err := x.Objects.GetObject(ctx, req.ObjectKey+".json")
	if err != nil {
		return nil, err
	}

	body := json.RawMessage(obj.Body)
	if !json.Valid(body) {
		body = marshalString(string(obj.Body))
	}
	return json.Marshal(objectResponse{Key: obj.Key, Metadata: obj.Metadata, Body: body})
}

func marshalString(s string) json.RawMessage {
	out, _ := json.Marshal(s) // strings always encode
	return out
}
