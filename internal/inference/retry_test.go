package inference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipafeed/ipafeed/internal/remote"
)

// fakeProvider scripts a sequence of responses for the resilient wrapper.
type fakeProvider struct {
	calls    int
	failures int
	err      error
	response string
}

func (f *fakeProvider) Complete(ctx context.Context, req Request) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           time.Second,
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{
		failures: 2,
		err:      remote.Errorf(remote.KindUnavailable, "fake.complete", "503"),
		response: `{"ok": true}`,
	}
	c, err := NewResilient(p, testRetryConfig())
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, text)
	assert.Equal(t, 3, p.calls, "two failures then a success")
}

func TestCompleteStopsOnNonRetriable(t *testing.T) {
	p := &fakeProvider{
		failures: 10,
		err:      remote.Errorf(remote.KindUnauthorized, "fake.complete", "401"),
	}
	c, err := NewResilient(p, testRetryConfig())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls, "credential rejections must not be retried")
	assert.Equal(t, remote.KindUnauthorized, remote.KindOf(err))
}

func TestCompleteExhaustsRetries(t *testing.T) {
	p := &fakeProvider{
		failures: 10,
		err:      remote.Errorf(remote.KindRateLimited, "fake.complete", "429"),
	}
	cfg := testRetryConfig()
	cfg.MaxRetries = 2
	c, err := NewResilient(p, cfg)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, 3, p.calls, "initial attempt plus two retries")
}

func TestCompleteFillsModelAndRequestID(t *testing.T) {
	var seen Request
	p := &captureProvider{capture: &seen}
	c, err := NewResilient(p, testRetryConfig())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fake-model", seen.Model)
	assert.NotEmpty(t, seen.RequestID)
}

type captureProvider struct {
	capture *Request
}

func (p *captureProvider) Complete(ctx context.Context, req Request) (string, error) {
	*p.capture = req
	return "{}", nil
}

func (p *captureProvider) Name() string  { return "capture" }
func (p *captureProvider) Model() string { return "fake-model" }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 50*time.Millisecond)

	assert.Equal(t, CircuitClosed, cb.State())
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow(), "expired open circuit should probe")
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCompleteSuccessClearsFailureCount(t *testing.T) {
	cfg := testRetryConfig()
	cfg.BreakerEnabled = true
	cfg.FailureThreshold = 2
	cfg.SuccessThreshold = 1
	cfg.OpenTimeout = 10 * time.Millisecond

	p := &fakeProvider{
		failures: 1,
		err:      remote.Errorf(remote.KindUnavailable, "fake.complete", "503"),
		response: "{}",
	}
	c, err := NewResilient(p, cfg)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, c.breaker.State())
}
