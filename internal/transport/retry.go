// Package transport provides an HTTP client shared by every outbound
// backend call (layout, vision, embedding, text-LLM), with exponential
// backoff on retryable status codes and OpenTelemetry instrumentation.
package transport

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/observability"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// shouldRetry reports whether statusCode is worth retrying.
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// calculateBackoff computes the exponential backoff for the given attempt.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Client is a retrying HTTP client shared across backend adapters.
type Client struct {
	http   *http.Client
	retry  RetryConfig
	logger *observability.Logger
}

// NewClient builds a transport.Client wrapping a traced http.Client.
func NewClient(timeout time.Duration, logger *observability.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry:  DefaultRetryConfig(),
		logger: logger,
	}
}

// Do executes reqFunc with exponential backoff retry on transient failures.
// reqFunc must build and send a fresh *http.Request on each call since
// request bodies cannot be replayed.
func (c *Client) Do(ctx context.Context, engine string, reqFunc func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, domain.Cancelled(ctx.Err())
		default:
		}

		req, err := reqFunc()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			if !shouldRetry(resp.StatusCode) {
				return resp, nil
			}
			if resp.Body != nil {
				resp.Body.Close()
			}
		}

		if attempt == c.retry.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, c.retry)
		if c.logger != nil {
			c.logger.Warn().
				Str("engine", engine).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("backend request failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, domain.Cancelled(ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, domain.EngineFailed(engine, fmt.Sprintf("request failed after %d retries", c.retry.MaxRetries), lastErr)
}
