// Package apperr defines the error taxonomy shared by the historical
// resolver, provider clients and the HTTP boundary. Each kind maps to a
// distinct client-facing status: invalid argument and range guardrails are
// user-correctable, rate limits are retryable, upstream failures are
// vendor-scoped.
package apperr

import (
	"errors"
	"fmt"
)

// InvalidArgumentError reports a request that fails static validation
// (unknown provider or resolution, inverted time range, bad indicator name).
type InvalidArgumentError struct {
	Msg string
}

func (e *InvalidArgumentError) Error() string { return e.Msg }

// InvalidArgumentf builds an InvalidArgumentError from a format string.
func InvalidArgumentf(format string, args ...any) error {
	return &InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// RangeTooLargeError reports a provider range guardrail violation. Ceiling
// names the limit (e.g. "30 days") so it surfaces to the caller verbatim.
type RangeTooLargeError struct {
	Provider string
	Ceiling  string
}

func (e *RangeTooLargeError) Error() string {
	return fmt.Sprintf("requested range exceeds the %s ceiling for provider %s", e.Ceiling, e.Provider)
}

// RateLimitedError reports a sliding-window rate limit rejection for one
// provider. Never retried automatically; callers should retry later.
type RateLimitedError struct {
	Provider string
	Limit    int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per window exceeded for provider %s", e.Limit, e.Provider)
}

// UpstreamError wraps a provider-side failure, keeping the HTTP status code
// and response body so the resolver can decide between fallback and
// surfacing.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	case e.Body != "":
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("provider %s: status %d", e.Provider, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRateLimited reports whether any error in err's chain is a rate limit
// rejection.
func IsRateLimited(err error) bool {
	var rle *RateLimitedError
	return errors.As(err, &rle)
}

// IsUpstream reports whether any error in err's chain is an upstream
// provider failure.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
