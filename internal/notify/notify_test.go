package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orderflow/internal/testutil"
)

const sampleMessage = `{"executionId":"exec-1","definition":"orders","status":"SUCCEEDED"}`

func TestLogNotifier_WritesTopicAndMessage(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Publish(context.Background(), "orders.executions", json.RawMessage(sampleMessage)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "execution_notification", entry["msg"])
	require.Equal(t, "orders.executions", entry["topic"])
	require.True(t, strings.Contains(entry["message"].(string), `"exec-1"`))
}

func TestRedisNotifier_Publish(t *testing.T) {
	addr := testutil.GetRedisAddress(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "orders.executions")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, NewRedisNotifier(client).Publish(ctx, "orders.executions", json.RawMessage(sampleMessage)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.JSONEq(t, sampleMessage, msg.Payload)
}

func TestNATSNotifier_Publish(t *testing.T) {
	url := testutil.GetNATSURL(t)

	n, err := DialNATS(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("orders.executions", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	require.NoError(t, n.Publish(context.Background(), "orders.executions", json.RawMessage(sampleMessage)))

	select {
	case msg := <-received:
		require.JSONEq(t, sampleMessage, string(msg.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
