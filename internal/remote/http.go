package remote

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPClient builds the standard client for REST collaborators: transparent
// retries on transient failures, a per-attempt timeout, and no chatter on
// stderr. The inference providers do not use this — their retries live in
// the resilient wrapper so the circuit breaker sees every failure.
func HTTPClient(timeout time.Duration, retryMax int) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = log.New(io.Discard, "", 0)
	rc.HTTPClient.Timeout = timeout
	return rc.StandardClient()
}
