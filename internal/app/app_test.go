package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orderflow/internal/config"
	"github.com/petrijr/orderflow/internal/testutil"
	"github.com/petrijr/orderflow/pkg/api"
)

const order = `{"order":{
	"accountid":"acc-7","vendorid":"ven-1","orderdate":"2024-05-02","city":"Helsinki",
	"details":{"coffeetype":"latte","coffeesize":"large","unitprice":4.5,"quantity":2}}}`

var fixedNow = time.Date(2024, time.May, 2, 10, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(dir, "orderflow.db")
	cfg.Items.Driver = "sqlite"
	cfg.Items.DSN = cfg.Store.SQLitePath
	cfg.Queue.Backend = "memory"
	cfg.Workers = 2
	cfg.Notify.Backend = "none"
	cfg.Objects.Root = filepath.Join(dir, "objects")
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type running struct {
	base string
	stop func()
}

func serve(t *testing.T, cfg *config.Config) (*App, running) {
	t.Helper()
	a, err := Build(context.Background(), cfg, quietLogger(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("Serve did not return after cancel")
		}
	}
	return a, running{base: "http://" + ln.Addr().String(), stop: stop}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func placeOrder(t *testing.T, base string) string {
	t.Helper()
	resp, err := http.Post(base+"/order", "application/json", strings.NewReader(order))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.JSONEq(t, `{"done":true}`, string(body))

	loc := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(loc, "/executions/"), loc)
	return loc
}

func waitStatus(t *testing.T, url string) api.Execution {
	t.Helper()
	var exec api.Execution
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		exec = api.Execution{}
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&exec) != nil {
			return false
		}
		return exec.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return exec
}

func TestApp_OrderRoundTripThroughQueue(t *testing.T) {
	cfg := testConfig(t)
	_, srv := serve(t, cfg)
	defer srv.stop()

	loc := placeOrder(t, srv.base)
	exec := waitStatus(t, srv.base+loc)
	require.Equal(t, api.StatusSucceeded, exec.Status)

	var item map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.base+"/order?accountid=acc-7&vendorid=ven-1", &item))
	require.Equal(t, "Helsinki", item["city"])

	var invoice struct {
		Key      string            `json:"key"`
		Metadata map[string]string `json:"metadata"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.base+"/invoice?objectKey=2024/5/acc-7", &invoice))
	require.Equal(t, "2024/5", invoice.Metadata["billingperiod"])

	_, err := os.Stat(filepath.Join(cfg.Objects.Root, "invoices", "2024", "5", "acc-7.json"))
	require.NoError(t, err)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.base+"/order?accountid=nobody&vendorid=ven-1", nil))
}

func TestApp_InProcessAdvanceWithoutQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Backend = "none"
	cfg.Workers = 0

	a, srv := serve(t, cfg)
	defer srv.stop()
	require.Nil(t, a.Worker)

	loc := placeOrder(t, srv.base)
	exec := waitStatus(t, srv.base+loc)
	require.Equal(t, api.StatusSucceeded, exec.Status)

	var list []api.Execution
	require.Equal(t, http.StatusOK, getJSON(t, srv.base+"/executions?status=SUCCEEDED", &list))
	require.Len(t, list, 1)
}

func TestApp_MetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	_, srv := serve(t, cfg)
	defer srv.stop()

	loc := placeOrder(t, srv.base)
	waitStatus(t, srv.base+loc)

	resp, err := http.Get(srv.base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `orderflow_executions_started_total{definition="order-processing"} 1`)
}

func TestApp_DefinitionFileOverridesBuiltIn(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: item-only
start_at: PutItem
states:
  - name: PutItem
    kind: Task
    task: store-item
    output_path: $.Payload
    next: Done
  - name: Done
    kind: Succeed
`), 0o644))
	cfg.Workflow.DefinitionFile = path

	a, err := Build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, "item-only", a.Definition.Name)
	require.Equal(t, cfg.Workflow.Timeout, a.Definition.Timeout)
}

func TestBuild_Errors(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"unknown items driver": func(c *config.Config) { c.Items.Driver = "oracle" },
		"bad table name":       func(c *config.Config) { c.Items.TableName = "orders; drop" },
		"missing definition":   func(c *config.Config) { c.Workflow.DefinitionFile = "/does/not/exist.yaml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(cfg)
			_, err := Build(context.Background(), cfg, quietLogger())
			require.Error(t, err)
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, ":memory:", sqliteDSN(":memory:"))
	require.Equal(t, "file:x.db?cache=shared", sqliteDSN("file:x.db?cache=shared"))
	require.True(t, strings.HasPrefix(sqliteDSN("x.db"), "file:x.db?_pragma=busy_timeout"))
}

func TestApp_RedisBackends(t *testing.T) {
	addr := testutil.GetRedisAddress(t)

	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = addr
	cfg.Queue.Backend = "redis"
	cfg.Notify.Backend = "redis"
	cfg.Notify.Topic = "orderflow.app.test"

	sub := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = sub.Close() })
	pubsub := sub.Subscribe(context.Background(), cfg.Notify.Topic)
	t.Cleanup(func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(context.Background())
	require.NoError(t, err)

	_, srv := serve(t, cfg)
	defer srv.stop()

	loc := placeOrder(t, srv.base)
	exec := waitStatus(t, srv.base+loc)
	require.Equal(t, api.StatusSucceeded, exec.Status)

	select {
	case msg := <-pubsub.Channel():
		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		require.Equal(t, exec.ID, n.ExecutionID)
	case <-time.After(5 * time.Second):
		t.Fatalf("no notification on %s", cfg.Notify.Topic)
	}
}
