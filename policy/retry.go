package policy

import (
	"math"
	"math/rand"
	"time"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
)

const (
	defaultMinDelay = 500 * time.Millisecond
	defaultMaxDelay = 30 * time.Second
)

// Decide runs the §4.3 retry decision for one failed attempt. attempt is
// the zero-based count of attempts already made at this model (0 means
// this is the first failure). retryAfter is the provider's own Retry-After
// hint, if any was parsed from the response; a positive value overrides
// the computed backoff rather than competing with it, since the provider
// is telling us exactly how long it wants us to wait.
//
// Decide reports (delay, true) when another attempt at the same model
// should be made, or (0, false) when the caller should stop retrying (the
// attempt-loop will then consult the fallback chain instead).
func Decide(cfg manifest.RetryPolicyConfig, attempt int, err error, retryAfter time.Duration) (time.Duration, bool) {
	if attempt >= effectiveMaxRetries(cfg) {
		return 0, false
	}
	if !isRetryable(cfg, err) {
		return 0, false
	}

	min := msOrDefault(cfg.MinDelayMS, defaultMinDelay)
	max := msOrDefault(cfg.MaxDelayMS, defaultMaxDelay)
	if max < min {
		max = min
	}

	backoff := min
	if cfg.Strategy == "exponential" {
		backoff = time.Duration(float64(min) * math.Pow(2, float64(attempt)))
	}
	if backoff > max {
		backoff = max
	}

	delay := backoff
	if cfg.Jitter == "full" {
		delay = time.Duration(rand.Int63n(int64(backoff) + 1))
	}

	if retryAfter > 0 {
		delay = retryAfter
		if delay > max {
			delay = max
		}
	}

	return delay, true
}

// isRetryable classifies err the way the §4.3 retry decision requires:
// the static per-code metadata on core.AIError decides retryability, with
// a manifest's retry_on_http_status list able to widen that set for HTTP
// statuses the provider itself marks as transient but the standard table
// does not (e.g. a provider-specific 409 that really means "retry me").
func isRetryable(cfg manifest.RetryPolicyConfig, err error) bool {
	aiErr, ok := core.AsAIError(err)
	if !ok {
		return false
	}
	if aiErr.Retryable() {
		return true
	}
	for _, status := range cfg.RetryOnHTTP {
		if aiErr.HTTPStatus == status {
			return true
		}
	}
	return false
}

func effectiveMaxRetries(cfg manifest.RetryPolicyConfig) int {
	if cfg.MaxRetries > 0 {
		return cfg.MaxRetries
	}
	return 0
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
