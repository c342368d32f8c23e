package core

import (
	"errors"
	"testing"
)

func TestStandardHTTPMapping(t *testing.T) {
	cases := []struct {
		status int
		want   StandardCode
	}{
		{400, CodeInvalidRequest},
		{401, CodeAuthentication},
		{403, CodePermissionDenied},
		{404, CodeNotFound},
		{408, CodeTimeout},
		{409, CodeConflict},
		{413, CodeRequestTooLarge},
		{429, CodeRateLimited},
		{500, CodeServerError},
		{502, CodeServerError},
		{504, CodeTimeout},
		{529, CodeOverloaded},
		{200, CodeUnknown},
		{599, CodeServerError},
	}
	for _, c := range cases {
		if got := StandardHTTPMapping(c.status); got != c.want {
			t.Errorf("StandardHTTPMapping(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestCanonicalizeProviderCode(t *testing.T) {
	cases := []struct {
		raw  string
		want StandardCode
		ok   bool
	}{
		{"invalid_api_key", CodeAuthentication, true},
		{"context_length_exceeded", CodeRequestTooLarge, true},
		{"overloaded_error", CodeOverloaded, true},
		{"", "", false},
		{"something_unrecognized", "", false},
	}
	for _, c := range cases {
		got, ok := CanonicalizeProviderCode(c.raw)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("CanonicalizeProviderCode(%q) = (%s, %v), want (%s, %v)", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestRetryableNonRetryableSet(t *testing.T) {
	nonRetryable := []StandardCode{
		CodeInvalidRequest, CodeAuthentication, CodePermissionDenied,
		CodeNotFound, CodeRequestTooLarge, CodeCancelled, CodeUnknown,
	}
	for _, c := range nonRetryable {
		if c.Retryable() {
			t.Errorf("%s: expected non-retryable", c)
		}
	}
	retryable := []StandardCode{
		CodeRateLimited, CodeQuotaExhausted, CodeServerError,
		CodeOverloaded, CodeTimeout, CodeConflict,
	}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("%s: expected retryable", c)
		}
	}
}

func TestCancellationNeverFallsBack(t *testing.T) {
	if CodeCancelled.Fallbackable() {
		t.Error("cancellation must never be fallbackable (§5)")
	}
}

func TestAIErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	aiErr := NewAIError(CodeServerError, cause)
	if !errors.Is(aiErr, cause) {
		t.Error("errors.Is should see through AIError.Unwrap to the cause")
	}
	var target *AIError
	if !errors.As(aiErr, &target) {
		t.Error("errors.As should recover the concrete *AIError")
	}
}
