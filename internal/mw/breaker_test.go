package mw

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		OpenDuration:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		ok, _ := b.Allow()
		if !ok {
			t.Fatalf("request %d should be admitted while closed", i)
		}
		b.Report(false)
	}
	if s := b.Stats(); s.State != BreakerOpen {
		t.Fatalf("expected open after threshold, got %s", s.State)
	}
	if ok, retry := b.Allow(); ok || retry <= 0 {
		t.Fatalf("open breaker must reject with retry hint, got ok=%v retry=%v", ok, retry)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{Enabled: true, FailureThreshold: 2, OpenDuration: time.Minute})
	b.Report(false)
	b.Report(true)
	b.Report(false)
	if s := b.Stats(); s.State != BreakerClosed {
		t.Fatalf("non-consecutive failures must not open, got %s", s.State)
	}
}

func TestBreakerHalfOpenTrialClosesOrReopens(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		Enabled:             true,
		FailureThreshold:    1,
		OpenDuration:        10 * time.Millisecond,
		HalfOpenMaxInFlight: 1,
	})

	b.Report(false) // open
	time.Sleep(20 * time.Millisecond)

	ok, _ := b.Allow() // first trial
	if !ok {
		t.Fatal("expected half-open trial to be admitted")
	}
	if ok2, _ := b.Allow(); ok2 {
		t.Fatal("second trial beyond half-open budget must be rejected")
	}
	b.Report(false) // failed trial reopens
	if s := b.Stats(); s.State != BreakerOpen {
		t.Fatalf("expected reopen after failed trial, got %s", s.State)
	}

	time.Sleep(20 * time.Millisecond)
	if ok, _ := b.Allow(); !ok {
		t.Fatal("expected trial after reopen window")
	}
	b.Report(true)
	if s := b.Stats(); s.State != BreakerClosed {
		t.Fatalf("expected closed after healthy trial, got %s", s.State)
	}
}

func TestBreakerDisabledAlwaysAllows(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{Enabled: false, FailureThreshold: 1})
	b.Report(false)
	b.Report(false)
	if ok, _ := b.Allow(); !ok {
		t.Fatal("disabled breaker must always allow")
	}
}
