// Package inference talks to the language-inference collaborator: a
// chat-completions endpoint that must return a strict JSON object, or fail
// within bounds. A Resilient wrapper adds retries with exponential backoff,
// a circuit breaker, and a concurrency cap in front of either provider
// (OpenRouter-compatible HTTP or Anthropic).
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Request is one completion call. The zero MaxTokens falls back to the
// provider default; Model overrides the provider's primary model, which is
// how the extractor escalates to the fallback model.
type Request struct {
	System    string
	User      string
	Model     string
	MaxTokens int
	RequestID string
}

// Provider is a raw completion transport with no retry policy of its own.
type Provider interface {
	// Complete returns the assistant text for the request, or a classified
	// remote error.
	Complete(ctx context.Context, req Request) (string, error)
	// Name identifies the provider in logs ("openrouter", "anthropic").
	Name() string
	// Model returns the model used when a request does not name one.
	Model() string
}

// Resilient wraps a Provider with the retry policy. It is the Client the
// rest of the pipeline sees.
type Resilient struct {
	provider Provider
	retry    RetryConfig
	breaker  *CircuitBreaker
	sem      *semaphore.Weighted
}

// NewResilient wraps a provider. A zero-valued retry config is replaced by
// DefaultRetryConfig.
func NewResilient(p Provider, retry RetryConfig) (*Resilient, error) {
	if p == nil {
		return nil, fmt.Errorf("inference provider is required")
	}
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	c := &Resilient{provider: p, retry: retry}
	if retry.BreakerEnabled {
		c.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	return c, nil
}

// Complete issues the request through the retry policy and returns the raw
// assistant text. Callers parse it with Parse; this layer only guarantees a
// non-empty response or a classified error.
func (c *Resilient) Complete(ctx context.Context, req Request) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Model == "" {
		req.Model = c.provider.Model()
	}

	start := time.Now()
	var text string
	err := c.retryWithBackoff(ctx, "inference.complete", func(ctx context.Context) error {
		var cerr error
		text, cerr = c.provider.Complete(ctx, req)
		return cerr
	})
	if err != nil {
		return "", err
	}

	slog.Debug("inference call completed",
		"provider", c.provider.Name(),
		"model", req.Model,
		"request_id", req.RequestID,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return text, nil
}

// Provider exposes the wrapped transport, mostly for health checks.
func (c *Resilient) Provider() Provider { return c.provider }

// HealthCheck issues a trivial completion to verify credentials and
// reachability. Used by the doctor command at startup, never mid-run.
func (c *Resilient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := c.provider.Complete(ctx, Request{
		User:      `Reply with exactly {"ok": true}`,
		MaxTokens: 16,
		Model:     c.provider.Model(),
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("inference health check failed: %w", err)
	}
	return nil
}
