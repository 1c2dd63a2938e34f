package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ipafeed/ipafeed/internal/remote"
)

// RetryConfig bounds how hard the client leans on the inference service.
type RetryConfig struct {
	MaxRetries        int           // attempts beyond the first (default: 3)
	InitialBackoff    time.Duration // first backoff (default: 1s)
	MaxBackoff        time.Duration // backoff ceiling (default: 30s)
	BackoffMultiplier float64       // growth factor (default: 2.0)
	Timeout           time.Duration // per-attempt deadline (default: 60s)

	// Circuit breaker settings
	BreakerEnabled   bool          // default: true
	FailureThreshold int           // failures before opening (default: 5)
	SuccessThreshold int           // half-open successes before closing (default: 2)
	OpenTimeout      time.Duration // how long the circuit stays open (default: 30s)

	// MaxConcurrentCalls caps in-flight requests (default: 3, 0 = unlimited).
	MaxConcurrentCalls int
}

// DefaultRetryConfig returns the retry policy used unless config overrides it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		Timeout:            60 * time.Second,
		BreakerEnabled:     true,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		OpenTimeout:        30 * time.Second,
		MaxConcurrentCalls: 3,
	}
}

// CircuitState is the breaker position.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing fast
	CircuitHalfOpen                     // probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned while the breaker is failing fast.
var ErrCircuitOpen = errors.New("inference circuit breaker is open")

// CircuitBreaker fails fast once the inference endpoint is clearly down,
// instead of letting every remaining observation wait out its own timeout.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker builds a closed breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow reports whether a request may proceed, transitioning an expired open
// circuit to half-open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.setState(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess counts a success; enough of them close a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(CircuitClosed)
		}
	}
}

// RecordFailure counts a failure; the threshold opens the circuit, and any
// failure while half-open reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	}
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState transitions and resets counters. Caller holds the lock.
func (cb *CircuitBreaker) setState(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.successCount = 0
	if next == CircuitClosed {
		cb.failureCount = 0
	}
	slog.Info("inference circuit breaker transition",
		"from", prev.String(),
		"to", next.String(),
		"failures", cb.failureCount)
}

// retryWithBackoff runs fn under the retry policy: bounded attempts,
// exponential backoff, per-attempt timeout, breaker consultation. Only
// retriable failures (timeouts, throttles, transient unavailability) are
// retried or counted against the breaker.
func (c *Resilient) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquiring inference slot for %s: %w", operation, err)
		}
		defer c.sem.Release(1)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.breaker != nil {
			if err := c.breaker.Allow(); err != nil {
				slog.Warn("inference call blocked",
					"operation", operation,
					"state", c.breaker.State().String())
				return remote.Wrap(operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			if attempt > 0 {
				slog.Info("inference call recovered", "operation", operation, "retries", attempt)
			}
			return nil
		}

		lastErr = err
		retriable := remote.IsRetriable(err)

		if c.breaker != nil && retriable {
			c.breaker.RecordFailure()
		}
		if !retriable {
			return err
		}
		if attempt == c.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return remote.Wrap(operation, ctx.Err())
		}

		slog.Debug("inference call failed, backing off",
			"operation", operation,
			"attempt", attempt+1,
			"backoff", backoff,
			"err", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		case <-ctx.Done():
			return remote.Wrap(operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.retry.MaxRetries+1, lastErr)
}
