package resilience

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreaker(clock *fakeClock, transitions *[]string) *CircuitBreaker {
	cfg := CircuitBreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 2,
	}
	return NewCircuitBreaker("store", cfg,
		WithClock(clock.Now),
		WithStateChange(func(_ string, from, to CircuitState) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		}),
	)
}

func TestCircuitBreakerState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState.String() = %v, want %v", got, tt.want)
		}
	}
}

func TestCircuitBreaker_ZeroConfigTakesDefaults(t *testing.T) {
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{})
	if cb.config != DefaultCircuitBreakerConfig() {
		t.Errorf("config = %+v, want defaults", cb.config)
	}
	if cb.Name() != "store" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	var transitions []string
	cb := testBreaker(&fakeClock{now: time.Unix(0, 0)}, &transitions)

	for i := 0; i < 10; i++ {
		cb.Allow()
		cb.RecordFailure()
		cb.Allow()
		cb.RecordFailure()
		cb.Allow()
		cb.RecordSuccess()
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
	if len(transitions) != 0 {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestCircuitBreaker_FullCycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := testBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatal("closed breaker must allow")
		}
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker must reject before timeout")
	}

	clock.Advance(time.Second)
	if !cb.Allow() || !cb.Allow() {
		t.Fatal("half-open breaker must allow two probes")
	}
	if cb.Allow() {
		t.Error("third concurrent probe must be rejected")
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("State() = %v, want half-open after one success", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := testBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(2 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("reopened breaker must wait a full timeout")
	}

	cb.Reset()
	if cb.State() != StateClosed || !cb.Allow() {
		t.Error("Reset() must close the breaker")
	}
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb := NewCircuitBreaker("store", DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if cb.Allow() {
				if i%2 == 0 {
					cb.RecordSuccess()
				} else {
					cb.RecordFailure()
				}
			}
			_ = cb.State()
		}(i)
	}
	wg.Wait()
}
