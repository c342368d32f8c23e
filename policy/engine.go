// Package policy implements the §4.3 policy engine: the gate every
// attempt passes through (capability pre-flight, circuit breaker,
// in-flight permit, rate limiter) and the decisions that follow a failed
// attempt (retry backoff, fallback-chain advance). State that must persist
// across calls at the same provider/endpoint — breaker counters, rate
// limiter tokens — lives in an Engine; the pure decision functions
// (Decide, NextFallback, CheckCapabilities) take no engine state because
// they only need the failed call's own classification.
package policy

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/petal-labs/conduit/core"
)

// Config configures the stateful gates an Engine constructs on demand.
type Config struct {
	CircuitBreaker       CircuitBreakerConfig
	MaxInFlight          int64   // 0 = unbounded (§4.3 step 3 default)
	DefaultRatePerSecond float64 // 0 = unlimited until Adjust tightens it
}

// DefaultConfig returns the §5 defaults for every gate.
func DefaultConfig() Config {
	return Config{
		CircuitBreaker:       DefaultCircuitBreakerConfig(),
		MaxInFlight:          0,
		DefaultRatePerSecond: 0,
	}
}

// Engine owns the mutable, cross-call state of the policy gates: one
// circuit breaker per (provider, endpoint), one rate limiter per provider,
// and a single in-flight semaphore shared across every provider (§5: the
// semaphore is "global or per-client", unlike the breaker and limiter
// which are scoped narrower).
type Engine struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter

	inflight *InFlightLimiter
}

// NewEngine constructs an Engine. A zero Config is DefaultConfig.
func NewEngine(cfg Config) *Engine {
	if cfg.CircuitBreaker == (CircuitBreakerConfig{}) {
		cfg.CircuitBreaker = DefaultCircuitBreakerConfig()
	}
	return &Engine{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
		limiters: make(map[string]*RateLimiter),
		inflight: NewInFlightLimiter(cfg.MaxInFlight),
	}
}

// ErrInFlightUnavailable wraps the context error produced when no in-flight
// permit became free before ctx's deadline (§4.3 step 3: classify as
// "overloaded").
type ErrInFlightUnavailable struct{ Err error }

func (e *ErrInFlightUnavailable) Error() string { return "policy: in-flight limit: " + e.Err.Error() }
func (e *ErrInFlightUnavailable) Unwrap() error { return e.Err }

// ErrRateLimitWait wraps the context error produced when the rate
// limiter's required wait would exceed ctx's remaining deadline (§4.3 step
// 4: classify as "rate_limited").
type ErrRateLimitWait struct{ Err error }

func (e *ErrRateLimitWait) Error() string { return "policy: rate limit wait: " + e.Err.Error() }
func (e *ErrRateLimitWait) Unwrap() error { return e.Err }

// Admit runs §4.3 steps 2-4 for one attempt at (provider, endpoint): the
// circuit breaker check, the in-flight permit, then the rate limiter
// token. On success it returns a release func the caller must invoke
// exactly once, on every exit path including cancellation, to free the
// in-flight permit (§5: "releases on both success and failure paths and
// on cancellation").
func (e *Engine) Admit(ctx context.Context, provider, endpoint string) (func(), error) {
	breaker := e.breakerFor(provider, endpoint)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	if err := e.inflight.Acquire(ctx); err != nil {
		return nil, &ErrInFlightUnavailable{Err: err}
	}
	released := false
	release := func() {
		if !released {
			released = true
			e.inflight.Release()
		}
	}

	limiter := e.limiterFor(provider)
	if err := limiter.Wait(ctx); err != nil {
		release()
		return nil, &ErrRateLimitWait{Err: err}
	}

	return release, nil
}

// RecordOutcome feeds one attempt's result back into the (provider,
// endpoint) breaker. aiErr is nil on success. Only the three upstream
// classes §5 names move the failure/success counters; every other
// failure (a bad request, an auth error, a capability miss) leaves the
// breaker untouched, since a client-side mistake says nothing about the
// endpoint's health.
func (e *Engine) RecordOutcome(provider, endpoint string, aiErr *core.AIError) {
	breaker := e.breakerFor(provider, endpoint)
	if aiErr == nil {
		breaker.RecordSuccess()
		return
	}
	if breakerRelevant(aiErr.Code) {
		breaker.RecordFailure()
	}
}

func breakerRelevant(code core.StandardCode) bool {
	switch code {
	case core.CodeServerError, core.CodeOverloaded, core.CodeTimeout:
		return true
	}
	return false
}

// AdjustRateLimit reconfigures provider's rate limiter from the response
// headers the manifest names via rate_limit_headers (§5 "Adaptive mode").
func (e *Engine) AdjustRateLimit(provider string, headers http.Header, headerNames []string) {
	e.limiterFor(provider).Adjust(headers, headerNames)
}

// BreakerState reports the current state of the (provider, endpoint)
// breaker, for diagnostics and tests.
func (e *Engine) BreakerState(provider, endpoint string) CircuitState {
	return e.breakerFor(provider, endpoint).State()
}

func (e *Engine) breakerFor(provider, endpoint string) *CircuitBreaker {
	key := provider + "/" + endpoint
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[key]
	if !ok {
		b = NewCircuitBreaker(e.cfg.CircuitBreaker)
		e.breakers[key] = b
	}
	return b
}

func (e *Engine) limiterFor(provider string) *RateLimiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[provider]
	if !ok {
		l = NewRateLimiter(e.cfg.DefaultRatePerSecond)
		e.limiters[provider] = l
	}
	return l
}

// IsDeadlineDriven reports whether err is one of the fail-fast classifications
// Admit produces, as opposed to ctx.Canceled, which callers that want to
// distinguish "ran out of budget" from "caller gave up" can use.
func IsDeadlineDriven(err error) bool {
	var inflightErr *ErrInFlightUnavailable
	var rateErr *ErrRateLimitWait
	if errors.As(err, &inflightErr) {
		return !errors.Is(inflightErr.Err, context.Canceled)
	}
	if errors.As(err, &rateErr) {
		return !errors.Is(rateErr.Err, context.Canceled)
	}
	return false
}
