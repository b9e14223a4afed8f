package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/orderflow/pkg/api"
)

// RedisNotifier publishes notifications with Redis PUBLISH on the topic
// channel.
type RedisNotifier struct {
	client *redis.Client
}

var _ api.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string, message json.RawMessage) error {
	if err := n.client.Publish(ctx, topic, []byte(message)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}
