package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(2, 1, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i+1, err)
		}
	}
	if got := b.State(); got != Open {
		t.Fatalf("expected open state, got %v", got)
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while open, got %v", err)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New(1, 2, time.Millisecond)
	if err := b.Execute(func() error { return errors.New("boom") }); err == nil {
		t.Fatalf("expected failure to trip the breaker")
	}
	time.Sleep(5 * time.Millisecond)

	// Two successful probes close the breaker again.
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i+1, err)
		}
	}
	if got := b.State(); got != Closed {
		t.Errorf("expected closed state after recovery, got %v", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := New(1, 1, time.Millisecond)
	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("still broken") })
	if got := b.State(); got != Open {
		t.Errorf("expected open state after half-open failure, got %v", got)
	}
}

func TestBreakerClosedResetsFailuresOnSuccess(t *testing.T) {
	b := New(2, 1, time.Minute)
	_ = b.Execute(func() error { return errors.New("boom") })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errors.New("boom") })
	if got := b.State(); got != Closed {
		t.Errorf("non-consecutive failures should not trip the breaker, state %v", got)
	}
}
