package policy

import (
	"testing"
	"time"

	"github.com/petal-labs/conduit/core"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, OpenDuration: time.Minute})

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d: Allow() = %v, want nil", i, err)
		}
		b.RecordFailure()
	}
	if b.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed before threshold reached", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() before third failure = %v, want nil", err)
	}
	b.RecordFailure()

	if b.State() != CircuitOpen {
		t.Fatalf("state = %v, want open after %d failures", b.State(), 3)
	}
	if err := b.Allow(); err != core.ErrCircuitOpen {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerHalfOpenAllowsOneProbe(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: time.Millisecond})
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(2 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("first half-open Allow() = %v, want nil (the probe)", err)
	}
	if b.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if err := b.Allow(); err != core.ErrCircuitOpen {
		t.Fatalf("second concurrent half-open Allow() = %v, want ErrCircuitOpen", err)
	}

	b.RecordSuccess()
	if b.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed after a successful probe", b.State())
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: time.Millisecond})
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("state = %v, want open after a failed probe", b.State())
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenDuration: time.Minute})
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed: a success should reset the failure streak", b.State())
	}
}
