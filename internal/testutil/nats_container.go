package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var natsShared sharedContainer

// GetNATSURL returns a nats:// URL for a shared NATS server container.
func GetNATSURL(t *testing.T) string {
	t.Helper()
	return natsShared.get(t, "nats", func(ctx context.Context) (string, error) {
		natsC, err := testcontainers.Run(
			ctx, "nats:2",
			testcontainers.WithExposedPorts("4222/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("4222/tcp"),
				wait.ForLog("Server is ready"),
			),
		)
		ep, err := endpoint(ctx, natsC, err)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("nats://%s", ep), nil
	})
}
