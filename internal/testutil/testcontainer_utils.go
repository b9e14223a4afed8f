// Package testutil starts throwaway backing services for integration tests.
//
// Containers are started at most once per test binary and reaped by
// testcontainers when the process exits. Tests that need one are skipped
// under -short or when no Docker daemon is reachable.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// startTimeout is generous for CI environments pulling images.
const startTimeout = 3 * time.Minute

type sharedContainer struct {
	once     sync.Once
	endpoint string
	err      error
}

// get starts the container on first use and returns the endpoint built by
// start. Failures skip the calling test.
func (c *sharedContainer) get(t *testing.T, name string, start func(ctx context.Context) (string, error)) string {
	t.Helper()

	if testing.Short() {
		t.Skipf("skipping %s integration test in short mode", name)
	}

	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		c.endpoint, c.err = start(ctx)
	})
	if c.err != nil {
		t.Skipf("%s container unavailable: %v", name, c.err)
	}
	return c.endpoint
}

// endpoint resolves the mapped host:port of a started container. A container
// that fails to start is left to the reaper.
func endpoint(ctx context.Context, container testcontainers.Container, err error) (string, error) {
	if err != nil {
		return "", err
	}
	ep, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(context.Background())
		return "", err
	}
	return ep, nil
}
