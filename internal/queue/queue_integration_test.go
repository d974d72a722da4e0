//go:build integration

package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical/docpipe/internal/observability"
)

// setupRedis starts a disposable Redis container for exercising the
// asynq-backed client/server pair against a real broker instead of the
// maxAttempts short-circuits the unit tests cover.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed integration test in short mode")
	}

	ctx := context.Background()
	container, err := redis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestEnqueueAndRecoverAgainstRealRedis(t *testing.T) {
	addr := setupRedis(t)

	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	client := NewClient(addr, logger)
	defer client.Close()

	var recovered atomic.Int32
	retry := RetryFunc(func(ctx context.Context, documentID, artifactID uuid.UUID) error {
		recovered.Add(1)
		return nil
	})

	srv := NewServer(addr, 2, client, retry, logger)
	go func() { _ = srv.Run() }()
	defer srv.Shutdown()

	payload := RecoveryPayload{DocumentID: uuid.New(), ArtifactID: uuid.New()}
	require.NoError(t, client.Enqueue(context.Background(), payload))

	require.Eventually(t, func() bool {
		return recovered.Load() == 1
	}, 10*time.Second, 100*time.Millisecond, "expected the recovery task to be processed")
}
