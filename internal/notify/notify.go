// Package notify publishes terminal execution outcomes to a topic.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/petrijr/orderflow/pkg/api"
)

// LogNotifier writes notifications to a slog.Logger. It is the default
// when no broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ api.Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a LogNotifier. If logger is nil, slog.Default() is used.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Publish(ctx context.Context, topic string, message json.RawMessage) error {
	n.Logger.InfoContext(ctx, "execution_notification",
		slog.String("topic", topic),
		slog.String("message", string(message)),
	)
	return nil
}
