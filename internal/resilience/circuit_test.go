package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failing(context.Context) (int, error) {
	return 0, NewTransientError(errors.New("503"), 503)
}

func ok(context.Context) (int, error) {
	return 1, nil
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("anthropic", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for range 2 {
		_, _ = ExecuteVal(context.Background(), cb, failing)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	var called bool
	_, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn should not run while circuit is open")
	}
}

func TestCircuitBreaker_NonTransientDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("gemini", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	_, _ = ExecuteVal(context.Background(), cb, func(context.Context) (int, error) {
		return 0, errors.New("invalid document")
	})
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	var transitions []CircuitState
	cb := NewCircuitBreaker("anthropic", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(_ string, _, to CircuitState) {
			transitions = append(transitions, to)
		},
	})
	cb.nowFunc = func() time.Time { return now }

	_, _ = ExecuteVal(context.Background(), cb, failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	now = now.Add(2 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}

	v, err := ExecuteVal(context.Background(), cb, ok)
	if err != nil || v != 1 {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
	want := []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("anthropic", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second})
	cb.nowFunc = func() time.Time { return now }

	for range 3 {
		_, _ = ExecuteVal(context.Background(), cb, failing)
	}
	now = now.Add(2 * time.Second)
	_, _ = ExecuteVal(context.Background(), cb, failing)
	if cb.State() != CircuitOpen {
		t.Errorf("state = %s, want open", cb.State())
	}
}

func TestBreakers_GetIsStable(t *testing.T) {
	b := NewBreakers(DefaultCircuitBreakerConfig())
	if b.Get("anthropic") != b.Get("anthropic") {
		t.Error("Get should return the same breaker for a name")
	}
	_ = b.Get("gemini")
	states := b.States()
	if len(states) != 2 || states["gemini"] != CircuitClosed {
		t.Errorf("unexpected states: %v", states)
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(7, 45)
	if cfg.FailureThreshold != 7 || cfg.ResetTimeout != 45*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
