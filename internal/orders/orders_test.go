package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/sqldb"
	"github.com/petrijr/orderflow/internal/storage"
	"github.com/petrijr/orderflow/pkg/api"
)

const validOrder = `{"order":{"accountid":"acc-1","vendorid":"v-1","orderdate":"2024-05-01","city":"Oslo","details":{"coffeetype":"latte","coffeesize":"M","unitprice":3.5,"quantity":2}}}`

var fixedNow = time.Date(2024, time.May, 17, 9, 0, 0, 0, time.UTC)

type failingItems struct{}

func (failingItems) PutItem(ctx context.Context, item storage.Item) error {
	return errors.New("table unavailable")
}

func (failingItems) GetItem(ctx context.Context, a, v string) (storage.Item, error) {
	return storage.Item{}, errors.New("table unavailable")
}

// spyObjects counts writes to an ObjectStore.
type spyObjects struct {
	storage.ObjectStore
	puts int
}

func (s *spyObjects) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	s.puts++
	return s.ObjectStore.PutObject(ctx, key, body, metadata)
}

func newExecutors(t *testing.T) (*Executors, *spyObjects) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	items, err := storage.NewSQLItemStore(db, sqldb.SQLite, "orders")
	require.NoError(t, err)

	objects, err := storage.NewFSObjectStore(afero.NewMemMapFs(), "invoices")
	require.NoError(t, err)
	spy := &spyObjects{ObjectStore: objects}

	return &Executors{
		Items:   items,
		Objects: spy,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:   func() time.Time { return fixedNow },
	}, spy
}

func TestDefinition_IsValid(t *testing.T) {
	def, err := Definition(0)
	require.NoError(t, err)
	require.Equal(t, DefinitionName, def.Name)
	require.Equal(t, 5*time.Minute, def.Timeout)

	def, err = Definition(time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, def.Timeout)
}

func TestStoreItem_ReturnsEventOnSuccess(t *testing.T) {
	x, _ := newExecutors(t)
	ctx := context.Background()

	out, err := x.StoreItem(ctx, json.RawMessage(validOrder))
	require.NoError(t, err)
	require.JSONEq(t, validOrder, string(out))

	item, err := x.Items.GetItem(ctx, "acc-1", "v-1")
	require.NoError(t, err)
	require.Equal(t, "Oslo", item.City)
	require.Equal(t, 3.5, item.Details.UnitPrice)
	require.Equal(t, 2, item.Details.Quantity)
}

func TestStoreItem_AcceptsTopLevelOrder(t *testing.T) {
	x, _ := newExecutors(t)
	event := `{"accountid":"acc-2","vendorid":"v-9","orderdate":"2024-05-02","city":"Rome","details":{"coffeetype":"espresso","coffeesize":"S","unitprice":2,"quantity":1}}`

	out, err := x.StoreItem(context.Background(), json.RawMessage(event))
	require.NoError(t, err)
	require.JSONEq(t, event, string(out))
}

func TestStoreItem_FailedOnBadInput(t *testing.T) {
	x, _ := newExecutors(t)

	for _, event := range []string{
		`{"order":{"accountid":"acc-1"}}`,
		`{"order":{"accountid":"acc-1","vendorid":"v-1","orderdate":"d","city":"c","details":{"coffeetype":"t","coffeesize":"s","unitprice":"cheap","quantity":1}}}`,
		`"just a string"`,
		`not json`,
	} {
		out, err := x.StoreItem(context.Background(), json.RawMessage(event))
		require.NoError(t, err)
		require.Equal(t, `"FAILED"`, string(out), event)
	}
}

func TestStoreItem_FailedOnWriteError(t *testing.T) {
	x, _ := newExecutors(t)
	x.Items = failingItems{}

	out, err := x.StoreItem(context.Background(), json.RawMessage(validOrder))
	require.NoError(t, err)
	require.Equal(t, `"FAILED"`, string(out))
}

func TestStoreObject_WritesInvoice(t *testing.T) {
	x, spy := newExecutors(t)
	ctx := context.Background()

	out, err := x.StoreObject(ctx, json.RawMessage(validOrder))
	require.NoError(t, err)
	require.Equal(t, `"SUCCEED"`, string(out))
	require.Equal(t, 1, spy.puts)

	obj, err := x.Objects.GetObject(ctx, "2024/5/acc-1.json")
	require.NoError(t, err)
	require.JSONEq(t, validOrder, string(obj.Body))
	require.Equal(t, map[string]string{"accountid": "acc-1", "billingperiod": "2024/5"}, obj.Metadata)
}

func TestStoreObject_FailedWithoutAccount(t *testing.T) {
	x, spy := newExecutors(t)

	out, err := x.StoreObject(context.Background(), json.RawMessage(`{"order":{}}`))
	require.NoError(t, err)
	require.Equal(t, `"FAILED"`, string(out))
	require.Equal(t, 0, spy.puts)
}

func TestReadItem(t *testing.T) {
	x, _ := newExecutors(t)
	ctx := context.Background()
	_, err := x.StoreItem(ctx, json.RawMessage(validOrder))
	require.NoError(t, err)

	out, err := x.ReadItem(ctx, json.RawMessage(`{"accountid":"acc-1","vendorid":"v-1"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"accountid":"acc-1","vendorid":"v-1","orderdate":"2024-05-01","city":"Oslo","details":{"coffeetype":"latte","coffeesize":"M","unitprice":3.5,"quantity":2}}`, string(out))

	_, err = x.ReadItem(ctx, json.RawMessage(`{"accountid":"acc-1","vendorid":"other"}`))
	require.ErrorIs(t, err, api.ErrNotFound)

	_, err = x.ReadItem(ctx, json.RawMessage(`{"accountid":"acc-1"}`))
	require.ErrorIs(t, err, api.ErrInvalidInput)
}

func TestReadObject(t *testing.T) {
	x, _ := newExecutors(t)
	ctx := context.Background()
	_, err := x.StoreObject(ctx, json.RawMessage(validOrder))
	require.NoError(t, err)

	out, err := x.ReadObject(ctx, json.RawMessage(`{"objectKey":"2024/5/acc-1"}`))
	require.NoError(t, err)

	var resp struct {
		Key      string            `json:"key"`
		Metadata map[string]string `json:"metadata"`
		Body     json.RawMessage   `json:"body"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Equal(t, "2024/5/acc-1.json", resp.Key)
	require.Equal(t, "2024/5", resp.Metadata["billingperiod"])
	require.JSONEq(t, validOrder, string(resp.Body))

	_, err = x.ReadObject(ctx, json.RawMessage(`{"objectKey":"2024/5/nobody"}`))
	require.ErrorIs(t, err, api.ErrNotFound)

	_, err = x.ReadObject(ctx, json.RawMessage(`{}`))
	require.ErrorIs(t, err, api.ErrInvalidInput)
}

func newOrderEngine(t *testing.T, x *Executors) *engine.Engine {
	t.Helper()

	eng, err := engine.New(engine.Config{
		Store:  persistence.NewInMemoryStore(),
		Logger: x.Logger,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Wait)

	def, err := Definition(0)
	require.NoError(t, err)
	require.NoError(t, Register(eng, x, def))
	return eng
}

func waitTerminal(t *testing.T, eng *engine.Engine, id string) *api.Execution {
	t.Helper()

	var exec *api.Execution
	require.Eventually(t, func() bool {
		got, err := eng.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		exec = got
		return got.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return exec
}

func TestOrderWorkflow_ValidOrderSucceeds(t *testing.T) {
	x, spy := newExecutors(t)
	eng := newOrderEngine(t, x)

	id, err := eng.Start(context.Background(), DefinitionName, json.RawMessage(validOrder))
	require.NoError(t, err)

	exec := waitTerminal(t, eng, id)
	require.Equal(t, api.StatusSucceeded, exec.Status)
	require.Equal(t, `"SUCCEED"`, string(exec.Payload))
	require.Equal(t, 1, spy.puts)

	_, err = x.Objects.GetObject(context.Background(), "2024/5/acc-1.json")
	require.NoError(t, err)
}

func TestOrderWorkflow_IncompleteOrderFailsWithoutInvoice(t *testing.T) {
	x, spy := newExecutors(t)
	eng := newOrderEngine(t, x)

	id, err := eng.Start(context.Background(), DefinitionName, json.RawMessage(`{"order":{"accountid":"acc-1"}}`))
	require.NoError(t, err)

	exec := waitTerminal(t, eng, id)
	require.Equal(t, api.StatusFailed, exec.Status)
	require.Equal(t, "Fail", exec.CurrentState)
	require.Equal(t, "DescribeJob returned FAILED", exec.Error.Code)
	require.Equal(t, "Place order failed", exec.Error.Cause)
	require.Equal(t, 0, spy.puts)
}
