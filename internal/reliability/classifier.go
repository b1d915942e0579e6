package reliability

import (
	"strings"
	"time"
)

// ErrorClass buckets backend response errors by how the client should react.
type ErrorClass string

const (
	ClassRateLimited    ErrorClass = "rate_limited"
	ClassInvalidRequest ErrorClass = "invalid_request"
	ClassServerFault    ErrorClass = "server_fault"
)

// Retryable reports whether the class should be retried with backoff.
func (c ErrorClass) Retryable() bool {
	return c != ClassInvalidRequest
}

// ClassifyResponseError maps a backend error code to an ErrorClass.
// Unknown codes are treated as server faults so transient backend issues
// keep the session alive.
func ClassifyResponseError(code string) ErrorClass {
	c := strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.Contains(c, "rate_limit"),
		c == "resource_exhausted",
		c == "too_many_requests",
		c == "queue_overflow":
		return ClassRateLimited
	case strings.HasPrefix(c, "invalid_"),
		strings.HasPrefix(c, "unsupported_"),
		strings.HasPrefix(c, "missing_"),
		c == "unknown_parameter":
		return ClassInvalidRequest
	default:
		return ClassServerFault
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
