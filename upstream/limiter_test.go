package upstream

import (
	"context"
	"testing"
	"time"
)

func TestLimiterSerializesIdentifies(t *testing.T) {
	l := NewIdentifyLimiter(1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(blocked); err == nil {
		t.Fatalf("second Acquire should block until the slot is released")
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestLimiterAllowsConfiguredConcurrency(t *testing.T) {
	l := NewIdentifyLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
}

func TestLimiterReleaseWithoutAcquireIsSafe(t *testing.T) {
	l := NewIdentifyLimiter(1)
	l.Release()
	l.Release()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after spurious releases: %v", err)
	}
}
