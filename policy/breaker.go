package policy

import (
	"sync"
	"time"

	"github.com/petal-labs/conduit/core"
)

// CircuitState is the circuit breaker's current state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing, reject calls
	CircuitHalfOpen                     // testing if recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures one (provider, endpoint) breaker (§4.3
// step 2, §5 state machine).
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // successes in half-open to close (default 1)
	OpenDuration     time.Duration // cooldown before a half-open probe (default 30s)
}

// DefaultCircuitBreakerConfig returns the §5 defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenDuration:     30 * time.Second,
	}
}

// CircuitBreaker gates attempts at one (provider, endpoint), tripping open
// after a run of upstream failures. Only failures classified into
// {server_error, overloaded, timeout} move the failure count (§5); other
// failure classes (a bad request, an auth error) pass through RecordFailure
// untouched by the caller, since the engine only calls it for those codes.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	probing     bool // true once a half-open probe has been admitted
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg}
}

// Allow reports whether a new attempt may proceed. While open, it
// transitions to half-open once OpenDuration has elapsed and admits
// exactly one probe attempt (§4.3 step 2: "If half-open, allow exactly one
// probe attempt"); further calls are rejected until that probe's outcome
// is recorded.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && time.Since(b.lastFailure) > b.cfg.OpenDuration {
		b.state = CircuitHalfOpen
		b.successes = 0
		b.probing = false
	}
	if b.state == CircuitOpen {
		return core.ErrCircuitOpen
	}
	if b.state == CircuitHalfOpen {
		if b.probing {
			return core.ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// RecordFailure counts one breaker-relevant failure. In half-open, a
// failed probe reopens the circuit immediately and resets the cooldown.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false
	if b.state == CircuitHalfOpen {
		b.state = CircuitOpen
		return
	}
	if b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
	}
}

// RecordSuccess resets the failure count in the closed state, or advances
// (and on reaching SuccessThreshold, closes) the half-open probe count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == CircuitHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = 0
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current state, for diagnostics.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
