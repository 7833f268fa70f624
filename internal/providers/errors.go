package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FailureReason categorizes why a provider request failed. The taxonomy
// drives retry and escalation decisions.
type FailureReason string

const (
	// FailureAuth indicates bad credentials (HTTP 401, 403). Fatal.
	FailureAuth FailureReason = "auth"

	// FailureRateLimit indicates throttling (HTTP 429). Retryable.
	FailureRateLimit FailureReason = "rate_limit"

	// FailureOverloaded indicates the provider shed load (HTTP 529). Retryable.
	FailureOverloaded FailureReason = "overloaded"

	// FailureServerError indicates server-side issues (HTTP 5xx). Retryable.
	FailureServerError FailureReason = "server_error"

	// FailureTimeout indicates the request timed out. Retryable.
	FailureTimeout FailureReason = "timeout"

	// FailureConnection indicates connection reset or socket hang-up. Retryable.
	FailureConnection FailureReason = "connection"

	// FailureInvalidRequest indicates client-side issues (other 4xx). Not retryable.
	FailureInvalidRequest FailureReason = "invalid_request"

	// FailureUnknown indicates an unclassified error. Not retryable.
	FailureUnknown FailureReason = "unknown"
)

// IsRetryable reports whether retrying the same provider may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureOverloaded, FailureServerError, FailureTimeout, FailureConnection:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from a provider adapter.
type ProviderError struct {
	// Reason categorizes the error for retry and escalation logic.
	Reason FailureReason

	// Provider is the adapter id that produced the error.
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// RetryAfter is the server-suggested wait before retrying, if any.
	RetryAfter time.Duration

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause with provider context, classifying it from
// its message when no status code is available.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailureUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies the reason from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithRetryAfter records the server-suggested retry delay.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.RetryAfter = d
	return e
}

// ClassifyError inspects an error message and returns a FailureReason.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context deadline"):
		return FailureTimeout
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "socket hang up"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"):
		return FailureConnection
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "529"):
		return FailureOverloaded
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"):
		return FailureServerError
	case strings.Contains(msg, "bad request"),
		strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "400"),
		strings.Contains(msg, "404"):
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

// classifyStatusCode maps an HTTP status to a FailureReason. 429, 5xx, and
// the Anthropic-style 529 are retryable; other 4xx are not.
func classifyStatusCode(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == 529:
		return FailureOverloaded
	case status >= 500:
		return FailureServerError
	case status >= 400:
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether an error should be retried against the same
// provider. Auth failures and other 4xx never are.
func IsRetryable(err error) bool {
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// RetryAfter returns the server-suggested retry delay carried by the error,
// or zero when none was given.
func RetryAfter(err error) time.Duration {
	if pe, ok := GetProviderError(err); ok {
		return pe.RetryAfter
	}
	return 0
}

// StatusCode returns the HTTP status carried by the error, or zero.
func StatusCode(err error) int {
	if pe, ok := GetProviderError(err); ok {
		return pe.Status
	}
	return 0
}

// parseRetryAfter interprets a Retry-After header value in seconds.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	var secs float64
	if _, err := fmt.Sscanf(value, "%f", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
