// Package queue wires the asynq-backed recovery queue the Orchestrator
// uses to retry images that failed enrichment instead of losing them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/spherical/docpipe/internal/observability"
)

// TaskTypeRecoverEnrichment is the asynq task type for a single failed
// image artifact awaiting retry.
const TaskTypeRecoverEnrichment = "enrichment:recover"

// RecoveryPayload identifies the document and artifact to retry.
type RecoveryPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	Attempt    int       `json:"attempt"`
}

// maxAttempts bounds how many times a single artifact is retried before
// it's left failed for good; asynq's own retry count governs transport
// errors, this bounds our own backoff loop across dequeues.
const maxAttempts = 5

// Client enqueues recovery tasks.
type Client struct {
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	logger      *observability.Logger
}

// NewClient connects to the Redis instance backing the queue.
func NewClient(redisAddr string, logger *observability.Logger) *Client {
	return &Client{
		asynqClient: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		inspector:   asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr}),
		logger:      logger,
	}
}

// PendingCount reports how many recovery tasks are queued, scheduled, or
// being retried, surfaced on GET /health as a recovery-backlog indicator.
func (c *Client) PendingCount() int {
	info, err := c.inspector.GetQueueInfo("default")
	if err != nil {
		if c.logger != nil {
			c.logger.Warn().Err(err).Msg("failed to inspect recovery queue")
		}
		return 0
	}
	return info.Pending + info.Scheduled + info.Retry
}

// Enqueue schedules a retry for one failed artifact, with a short initial
// backoff so transient engine failures get a chance to clear.
func (c *Client) Enqueue(ctx context.Context, payload RecoveryPayload) error {
	if payload.Attempt >= maxAttempts {
		if c.logger != nil {
			c.logger.Warn().Str("artifact_id", payload.ArtifactID.String()).Int("attempt", payload.Attempt).
				Msg("enrichment recovery exhausted retries, leaving artifact failed")
		}
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal recovery payload: %w", err)
	}

	backoff := time.Duration(payload.Attempt+1) * 30 * time.Second
	task := asynq.NewTask(TaskTypeRecoverEnrichment, data)
	_, err = c.asynqClient.EnqueueContext(ctx, task, asynq.ProcessIn(backoff), asynq.MaxRetry(3))
	return err
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	_ = c.inspector.Close()
	return c.asynqClient.Close()
}

// RetryFunc re-runs enrichment for one artifact, returning the error (if
// any) so the handler can decide whether to requeue.
type RetryFunc func(ctx context.Context, documentID, artifactID uuid.UUID) error

// Server drains the recovery queue, invoking retry for each task.
type Server struct {
	srv    *asynq.Server
	client *Client
	retry  RetryFunc
	logger *observability.Logger
}

// NewServer builds a Server with the given concurrency.
func NewServer(redisAddr string, concurrency int, client *Client, retry RetryFunc, logger *observability.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{Concurrency: concurrency},
	)
	return &Server{srv: srv, client: client, retry: retry, logger: logger}
}

// Run blocks, processing recovery tasks until the process is asked to stop.
func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeRecoverEnrichment, s.handleRecovery)
	return s.srv.Run(mux)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

func (s *Server) handleRecovery(ctx context.Context, t *asynq.Task) error {
	var payload RecoveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal recovery payload: %w", err)
	}

	if err := s.retry(ctx, payload.DocumentID, payload.ArtifactID); err != nil {
		if s.logger != nil {
			s.logger.Warn().Str("artifact_id", payload.ArtifactID.String()).Err(err).Msg("enrichment retry failed, rescheduling")
		}
		payload.Attempt++
		return s.client.Enqueue(ctx, payload)
	}

	if s.logger != nil {
		s.logger.Info().Str("artifact_id", payload.ArtifactID.String()).Msg("enrichment recovered")
	}
	return nil
}
