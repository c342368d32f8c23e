package policy

import (
	"context"
	"testing"
	"time"
)

func TestInFlightLimiterBoundsConcurrency(t *testing.T) {
	l := NewInFlightLimiter(1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(waitCtx); err == nil {
		t.Fatal("second Acquire should block while the first permit is held")
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Release = %v, want nil", err)
	}
}

func TestInFlightLimiterUnboundedByDefault(t *testing.T) {
	l := NewInFlightLimiter(0)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}
