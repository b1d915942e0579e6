package reliability

import (
	"testing"
	"time"
)

func TestClassifyResponseError(t *testing.T) {
	cases := []struct {
		code string
		want ErrorClass
	}{
		{"rate_limit_exceeded", ClassRateLimited},
		{"resource_exhausted", ClassRateLimited},
		{"too_many_requests", ClassRateLimited},
		{"invalid_request_error", ClassInvalidRequest},
		{"unsupported_content_type", ClassInvalidRequest},
		{"missing_required_parameter", ClassInvalidRequest},
		{"server_error", ClassServerFault},
		{"", ClassServerFault},
		{"something_new", ClassServerFault},
	}
	for _, tc := range cases {
		if got := ClassifyResponseError(tc.code); got != tc.want {
			t.Fatalf("ClassifyResponseError(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestErrorClassRetryable(t *testing.T) {
	if !ClassRateLimited.Retryable() {
		t.Fatal("rate limited should be retryable")
	}
	if !ClassServerFault.Retryable() {
		t.Fatal("server fault should be retryable")
	}
	if ClassInvalidRequest.Retryable() {
		t.Fatal("invalid request must not be retryable")
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should not be retryable", code)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	max := 8 * time.Second

	if got := ExponentialBackoff(0, base, max); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, max); got != 1*time.Second {
		t.Fatalf("attempt 1 = %v, want 1s", got)
	}
	if got := ExponentialBackoff(3, base, max); got != 4*time.Second {
		t.Fatalf("attempt 3 = %v, want 4s", got)
	}
	if got := ExponentialBackoff(20, base, max); got != max {
		t.Fatalf("attempt 20 = %v, want cap %v", got, max)
	}
}
