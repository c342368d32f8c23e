package policy

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// unboundedInFlight stands in for "no configured limit" (§4.3 step 3
// default: unbounded). semaphore.Weighted needs a finite capacity, so an
// effectively-unlimited one is used instead of special-casing a nil
// semaphore throughout the engine.
const unboundedInFlight = 1 << 40

// InFlightLimiter bounds the number of concurrent attempts outstanding
// across the engine (§5: "global or per-client"), so one caller's
// fallback fan-out or a burst of concurrent requests can't run unbounded.
type InFlightLimiter struct {
	sem *semaphore.Weighted
}

// NewInFlightLimiter constructs a limiter admitting up to max concurrent
// attempts. max <= 0 means unbounded.
func NewInFlightLimiter(max int64) *InFlightLimiter {
	if max <= 0 {
		max = unboundedInFlight
	}
	return &InFlightLimiter{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until a slot is free or ctx is done. A deadline that
// expires before a slot frees up surfaces ctx's error, which the caller
// classifies as "overloaded" (§4.3 step 3: "if a deadline is set, fail
// fast with overloaded").
func (l *InFlightLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees the slot acquired by a matching Acquire.
func (l *InFlightLimiter) Release() {
	l.sem.Release(1)
}
