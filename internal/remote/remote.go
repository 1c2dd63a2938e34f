// Package remote classifies failures of external collaborators (inference,
// app lookup, release storage, chat platform) into a small set of kinds so
// call sites can decide deliberately whether to retry, degrade, or abort.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind discriminates collaborator failures.
type Kind int

const (
	// KindUnknown covers failures that match no other kind.
	KindUnknown Kind = iota
	// KindTimeout is a deadline or cancellation hit during the call.
	KindTimeout
	// KindMalformed is a response that arrived but could not be decoded.
	KindMalformed
	// KindNotFound is a definitive "no such entity" from the collaborator.
	KindNotFound
	// KindUnauthorized is a credential rejection (401/403).
	KindUnauthorized
	// KindRateLimited is an explicit throttle response (429).
	KindRateLimited
	// KindUnavailable is a transient server or network failure (5xx, refused).
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified collaborator failure. Op names the remote operation
// ("inference.complete", "release.upload") for logs.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an underlying error. Context and net timeouts are detected
// here so callers do not have to.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return &Error{Kind: re.Kind, Op: op, Err: err}
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

// FromStatus classifies an HTTP response code.
func FromStatus(op string, status int, body string) *Error {
	var kind Kind
	switch {
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindUnauthorized
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindUnavailable
	default:
		kind = KindUnknown
	}
	return Errorf(kind, op, "unexpected status %d: %s", status, truncate(body, 200))
}

// KindOf extracts the kind from err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return classify(err)
}

// IsNotFound reports whether err is a definitive not-found.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsRetriable reports whether a retry has any chance of succeeding.
// Timeouts, throttles, and transient unavailability are retriable;
// credential rejections, not-found, and malformed responses are not.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return KindTimeout
		}
		return KindUnavailable
	}
	return KindUnknown
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
