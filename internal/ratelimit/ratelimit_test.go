package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AllowWithinBurst(t *testing.T) {
	l := New()
	l.Register("embedding", 60) // 1/sec, burst 60

	if !l.Allow("embedding") {
		t.Error("expected first call to be allowed within burst")
	}
}

func TestLimiter_UnregisteredProviderAlwaysAllowed(t *testing.T) {
	l := New()
	if !l.Allow("unknown") {
		t.Error("expected unregistered provider to default-allow")
	}
}

func TestLimiter_WaitRespectsContextCancellation(t *testing.T) {
	l := New()
	l.Register("llm", 1) // very slow: 1/min, burst 1

	ctx := context.Background()
	if err := l.Wait(ctx, "llm"); err != nil {
		t.Fatalf("first wait should succeed immediately (burst): %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(shortCtx, "llm"); err == nil {
		t.Error("expected second wait to exceed short deadline and return an error")
	}
}

func TestLimiter_GetStatus(t *testing.T) {
	l := New()
	l.Register("embedding", 120)

	status, ok := l.GetStatus("embedding")
	if !ok {
		t.Fatal("expected status for registered provider")
	}
	if status.Burst != 120 {
		t.Errorf("expected burst 120, got %d", status.Burst)
	}

	if _, ok := l.GetStatus("nope"); ok {
		t.Error("expected no status for unregistered provider")
	}
}
