package policy

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBurst is the token bucket burst allowance applied when a client
// does not configure one: a model with no observed rate-limit headers yet
// gets a small burst rather than a hard per-second ceiling on the first
// few calls.
const DefaultBurst = 2

// RateLimiter wraps golang.org/x/time/rate.Limiter with the §4.3 adaptive
// behavior: a manifest's rate_limit_headers name the response headers that
// carry the provider's own remaining-quota accounting, and Adjust reconfigures
// the underlying limiter from whatever of those headers were present on the
// last response, so the limiter tracks the provider's actual budget instead
// of a static guess.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewRateLimiter constructs a limiter starting at ratePerSecond with
// DefaultBurst headroom. ratePerSecond <= 0 means unlimited (rate.Inf).
func NewRateLimiter(ratePerSecond float64) *RateLimiter {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, DefaultBurst)}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	l := r.limiter
	r.mu.Unlock()
	return l.Wait(ctx)
}

// Adjust recomputes the limiter's rate from the named response headers.
// It recognizes the two header-pair shapes seen across the pack's provider
// manifests: "x-ratelimit-remaining-*" paired with "x-ratelimit-reset-*"
// (seconds until the remaining count resets), and a bare "retry-after"
// (seconds to wait before the next request). Headers not present, or not
// named in headerNames, are ignored; Adjust is a no-op if nothing usable
// was found. Every adjustment also clamps the bucket's burst (and so the
// tokens it holds) to at most DefaultBurst: to 1 for retry-after, to the
// remaining count otherwise, so remaining=0 leaves no token to take.
func (r *RateLimiter) Adjust(headers http.Header, headerNames []string) {
	if len(headerNames) == 0 {
		return
	}
	named := make(map[string]string, len(headerNames))
	for _, name := range headerNames {
		if v := headers.Get(name); v != "" {
			named[canonicalHeaderKey(name)] = v
		}
	}
	if len(named) == 0 {
		return
	}

	if retryAfter, ok := named["retry-after"]; ok {
		if secs, err := strconv.ParseFloat(retryAfter, 64); err == nil && secs > 0 {
			r.setLimit(rate.Every(time.Duration(secs*float64(time.Second))), 1)
			return
		}
	}

	remaining, remOK := findSuffixed(named, "remaining")
	reset, resetOK := findSuffixed(named, "reset")
	if !remOK || !resetOK {
		return
	}
	remainingN, err1 := strconv.ParseFloat(remaining, 64)
	resetSecs, err2 := strconv.ParseFloat(reset, 64)
	if err1 != nil || err2 != nil || resetSecs <= 0 {
		return
	}
	if remainingN <= 0 {
		r.setLimit(0, 0)
		return
	}
	r.setLimit(rate.Limit(remainingN/resetSecs), int(remainingN))
}

func (r *RateLimiter) setLimit(limit rate.Limit, burst int) {
	if burst > DefaultBurst {
		burst = DefaultBurst
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetLimit(limit)
	r.limiter.SetBurst(burst)
}

func canonicalHeaderKey(name string) string {
	lower := []byte(name)
	for i, c := range lower {
		if c >= 'A' && c <= 'Z' {
			lower[i] = c + ('a' - 'A')
		}
	}
	return string(lower)
}

func findSuffixed(named map[string]string, suffix string) (string, bool) {
	for k, v := range named {
		if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
			return v, true
		}
	}
	return "", false
}
