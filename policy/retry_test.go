package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
)

func TestDecideStopsAtMaxRetries(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "fixed", MaxRetries: 2, MinDelayMS: 10, MaxDelayMS: 100}
	err := &core.AIError{Code: core.CodeServerError}

	if _, ok := Decide(cfg, 0, err, 0); !ok {
		t.Fatal("attempt 0 should retry")
	}
	if _, ok := Decide(cfg, 1, err, 0); !ok {
		t.Fatal("attempt 1 should retry")
	}
	if _, ok := Decide(cfg, 2, err, 0); ok {
		t.Fatal("attempt 2 should not retry: MaxRetries exhausted")
	}
}

func TestDecideRejectsNonRetryableCode(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "fixed", MaxRetries: 3, MinDelayMS: 10, MaxDelayMS: 100}
	err := &core.AIError{Code: core.CodeInvalidRequest}

	if _, ok := Decide(cfg, 0, err, 0); ok {
		t.Fatal("invalid_request is not retryable per the standard code table")
	}
}

func TestDecideRetryOnHTTPWidensRetryableSet(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "fixed", MaxRetries: 3, MinDelayMS: 10, MaxDelayMS: 100, RetryOnHTTP: []int{409}}
	err := &core.AIError{Code: core.CodeConflict, HTTPStatus: 409}

	if _, ok := Decide(cfg, 0, err, 0); !ok {
		t.Fatal("409 is both retryable per the code table and listed in retry_on_http_status")
	}
}

func TestDecideExponentialBackoffGrows(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "exponential", MaxRetries: 5, MinDelayMS: 100, MaxDelayMS: 10_000, Jitter: "none"}
	err := &core.AIError{Code: core.CodeServerError}

	d0, ok := Decide(cfg, 0, err, 0)
	if !ok {
		t.Fatal("expected retry")
	}
	d1, _ := Decide(cfg, 1, err, 0)
	d2, _ := Decide(cfg, 2, err, 0)
	if d0 != 100*time.Millisecond {
		t.Fatalf("d0 = %v, want 100ms", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Fatalf("d1 = %v, want 200ms", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Fatalf("d2 = %v, want 400ms", d2)
	}
}

func TestDecideCapsAtMaxDelay(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "exponential", MaxRetries: 10, MinDelayMS: 1000, MaxDelayMS: 2000, Jitter: "none"}
	err := &core.AIError{Code: core.CodeServerError}

	d, ok := Decide(cfg, 5, err, 0)
	if !ok {
		t.Fatal("expected retry")
	}
	if d != 2*time.Second {
		t.Fatalf("d = %v, want capped at 2s", d)
	}
}

func TestDecideFullJitterStaysInRange(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "fixed", MaxRetries: 3, MinDelayMS: 1000, MaxDelayMS: 1000, Jitter: "full"}
	err := &core.AIError{Code: core.CodeServerError}

	for i := 0; i < 20; i++ {
		d, ok := Decide(cfg, 0, err, 0)
		if !ok {
			t.Fatal("expected retry")
		}
		if d < 0 || d > time.Second {
			t.Fatalf("d = %v, want within [0, 1s]", d)
		}
	}
}

func TestDecideRetryAfterOverridesBackoff(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "exponential", MaxRetries: 3, MinDelayMS: 100, MaxDelayMS: 60_000, Jitter: "none"}
	err := &core.AIError{Code: core.CodeRateLimited}

	d, ok := Decide(cfg, 0, err, 5*time.Second)
	if !ok {
		t.Fatal("expected retry")
	}
	if d != 5*time.Second {
		t.Fatalf("d = %v, want the Retry-After value of 5s", d)
	}
}

func TestDecideNonAIErrorNeverRetries(t *testing.T) {
	cfg := manifest.RetryPolicyConfig{Strategy: "fixed", MaxRetries: 3, MinDelayMS: 10, MaxDelayMS: 100}
	if _, ok := Decide(cfg, 0, errors.New("unclassified"), 0); ok {
		t.Fatal("an error that isn't a classified *core.AIError should never retry")
	}
}
