package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(t *testing.T, payload RecoveryPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeRecoverEnrichment, data)
}

func TestEnqueueSkipsExhaustedAttemptsWithoutTouchingRedis(t *testing.T) {
	// asynqClient is left nil: if Enqueue tried to use it before the
	// maxAttempts short-circuit, this would panic.
	c := &Client{}
	err := c.Enqueue(context.Background(), RecoveryPayload{
		DocumentID: uuid.New(),
		ArtifactID: uuid.New(),
		Attempt:    maxAttempts,
	})
	require.NoError(t, err)
}

func TestHandleRecoverySucceedsWithoutRequeue(t *testing.T) {
	called := false
	retry := RetryFunc(func(ctx context.Context, documentID, artifactID uuid.UUID) error {
		called = true
		return nil
	})
	s := &Server{client: &Client{}, retry: retry}

	payload := RecoveryPayload{DocumentID: uuid.New(), ArtifactID: uuid.New()}
	task := newTestTask(t, payload)

	err := s.handleRecovery(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestHandleRecoveryRequeuesOnFailureUntilExhausted(t *testing.T) {
	retry := RetryFunc(func(ctx context.Context, documentID, artifactID uuid.UUID) error {
		return errors.New("enrichment backend unavailable")
	})
	// client has a nil asynqClient; the payload's attempt starts one
	// below maxAttempts so the post-increment Enqueue call hits the
	// exhausted-retries short-circuit and never calls into asynq.
	s := &Server{client: &Client{}, retry: retry}

	payload := RecoveryPayload{DocumentID: uuid.New(), ArtifactID: uuid.New(), Attempt: maxAttempts - 1}
	task := newTestTask(t, payload)

	err := s.handleRecovery(context.Background(), task)
	require.NoError(t, err)
}
