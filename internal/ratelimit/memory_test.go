package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m := NewMemoryLimiter(time.Minute, time.Minute)
	defer m.Close()

	lim := Limit{RPS: 1, Burst: 3}
	allowed := 0
	for i := 0; i < 10; i++ {
		dec, err := m.Allow(context.Background(), "k", lim)
		if err != nil {
			t.Fatal(err)
		}
		if dec.Allowed {
			allowed++
		} else if dec.RetryAfterSeconds <= 0 {
			t.Fatal("denied decision must carry a retry hint")
		}
	}
	if allowed != 3 {
		t.Fatalf("expected burst of 3, got %d", allowed)
	}
}

func TestMemoryLimiterKeysIndependent(t *testing.T) {
	m := NewMemoryLimiter(time.Minute, time.Minute)
	defer m.Close()

	lim := Limit{RPS: 1, Burst: 1}
	if dec, _ := m.Allow(context.Background(), "a", lim); !dec.Allowed {
		t.Fatal("first token for a should be allowed")
	}
	if dec, _ := m.Allow(context.Background(), "a", lim); dec.Allowed {
		t.Fatal("a should be exhausted")
	}
	if dec, _ := m.Allow(context.Background(), "b", lim); !dec.Allowed {
		t.Fatal("b must not be affected by a's bucket")
	}
}

func TestMemoryLimiterSweepsIdleBuckets(t *testing.T) {
	m := NewMemoryLimiter(20*time.Millisecond, 10*time.Millisecond)
	defer m.Close()

	_, _ = m.Allow(context.Background(), "short-lived", Limit{RPS: 1, Burst: 1})
	if m.Len() != 1 {
		t.Fatalf("expected 1 bucket, got %d", m.Len())
	}

	deadline := time.After(2 * time.Second)
	for m.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("idle bucket never swept")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(time.Minute, time.Minute)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}
