package core

import "time"

// CallContext is the per-attempt record threaded through the policy engine
// and transport for one attempt of one call (§3 Call Context).
type CallContext struct {
	ClientRequestID   string
	AttemptNumber     int
	Endpoint          string
	Model             ModelID
	UpstreamRequestID string
	StartedAt         time.Time
	RetryReasons      []string
}

// CallStats is the public, read-only summary of a completed (or in-flight)
// call, surfaced to the caller on demand (§3, §4.6).
type CallStats struct {
	ClientRequestID   string
	Model             ModelID
	Endpoint          string
	UpstreamRequestID string
	AttemptCount      int
	RetryCount        int
	FallbackCount     int
	RetryReasons      []string
	Latencies         []time.Duration
	TotalLatency      time.Duration
}
