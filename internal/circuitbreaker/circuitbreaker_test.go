package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("http://up", 2, time.Minute, zap.NewNop())

	if !b.Allow() {
		t.Fatal("a fresh breaker must allow requests")
	}

	b.OnFailure()
	if b.State() != Closed {
		t.Fatalf("state = %v; want Closed after 1 of 2 failures", b.State())
	}

	b.OnFailure()
	if b.State() != Open {
		t.Fatalf("state = %v; want Open after reaching the threshold", b.State())
	}

	if b.Allow() {
		t.Error("an open breaker must not allow requests before the reset timeout elapses")
	}
}

func TestCircuitBreaker_HalfOpenTrialThenRecovery(t *testing.T) {
	b := New("http://up", 1, 10*time.Millisecond, zap.NewNop())

	b.OnFailure()
	if b.State() != Open {
		t.Fatalf("state = %v; want Open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected the breaker to allow a single half-open trial after the reset timeout")
	}

	if b.State() != HalfOpen {
		t.Fatalf("state = %v; want HalfOpen", b.State())
	}

	if b.Allow() {
		t.Error("a half-open breaker must allow only one trial at a time")
	}

	b.OnSuccess()
	if b.State() != Closed {
		t.Fatalf("state = %v; want Closed after a successful trial", b.State())
	}
}

func TestCircuitBreaker_HalfOpenTrialFailure_ReopensWithFullTrip(t *testing.T) {
	b := New("http://up", 3, 10*time.Millisecond, zap.NewNop())

	for i := 0; i < 3; i++ {
		b.OnFailure() // trips the breaker at the threshold
	}
	time.Sleep(20 * time.Millisecond)
	b.Allow() // consumes the half-open trial

	b.OnFailure()
	if b.State() != Open {
		t.Fatalf("state = %v; want Open after a failed half-open trial", b.State())
	}
}

func TestRegistry_SeparatesBreakersByKey(t *testing.T) {
	r := NewRegistry(1, time.Minute, 0, zap.NewNop())
	defer r.Close()

	a := r.For("service-a")
	b := r.For("service-b")

	a.OnFailure()

	if a.State() != Open {
		t.Fatalf("service-a state = %v; want Open", a.State())
	}

	if b.State() != Closed {
		t.Fatalf("service-b state = %v; want Closed (breakers must not share state)", b.State())
	}

	if r.For("service-a") != a {
		t.Error("Registry.For must return the same breaker instance for a repeated key")
	}
}

func TestRegistry_EvictsIdleBreakers(t *testing.T) {
	r := NewRegistry(1, time.Minute, 10*time.Millisecond, zap.NewNop())
	defer r.Close()

	first := r.For("service-a")
	first.OnFailure()

	time.Sleep(60 * time.Millisecond)

	second := r.For("service-a")
	if second == first {
		t.Error("expected the idle-eviction sweep to have replaced the breaker with a fresh one")
	}

	if second.State() != Closed {
		t.Errorf("state = %v; want Closed for a freshly re-created breaker", second.State())
	}
}
