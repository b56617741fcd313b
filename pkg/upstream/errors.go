package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusError represents a non-2xx answer from the webhook.
type StatusError struct {
	// Upstream is the configured upstream name.
	Upstream string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the start of the response body.
	Message string

	// RetryAfter is parsed from the Retry-After header, if any.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream %q returned status %d", e.Upstream, e.StatusCode)
	}
	return fmt.Sprintf("upstream %q returned status %d: %s", e.Upstream, e.StatusCode, e.Message)
}

// ServerError reports whether the status indicates an upstream fault
// (5xx or 429) rather than a rejected request.
func (e *StatusError) ServerError() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TimeoutError represents a call that did not finish within its deadline.
type TimeoutError struct {
	// Upstream is the configured upstream name.
	Upstream string

	// Phase is "connect" when no response headers arrived, "stream" otherwise.
	Phase string

	// Timeout is the limit that was exceeded, when known.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("upstream %q %s timeout after %s", e.Upstream, e.Phase, e.Timeout)
	}
	return fmt.Sprintf("upstream %q %s timeout", e.Upstream, e.Phase)
}

// TransportError represents a network failure talking to the webhook.
type TransportError struct {
	Upstream string
	Cause    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %q transport error: %v", e.Upstream, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ConfigError represents an invalid client configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("upstream configuration error for field %q: %s", e.Field, e.Message)
}

// IsFailure reports whether err says the upstream itself is unhealthy:
// timeouts, transport errors, and 5xx/429 answers. Rejected requests and
// caller cancellation are not upstream failures.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.ServerError()
	}

	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}
