package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.now
	return cb, clock
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "deepgram"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d failures, %v reset, %d half-open", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

// TestCircuitBreaker_Sequences drives a breaker through call sequences and
// checks where it ends up. A zero step advances the clock past the reset
// timeout instead of calling.
func TestCircuitBreaker_Sequences(t *testing.T) {
	type step func() error
	var wait step

	tests := []struct {
		name  string
		steps []step
		want  State
	}{
		{"successes stay closed", []step{succeed, succeed, succeed}, StateClosed},
		{"trips after max failures", []step{fail, fail, fail}, StateOpen},
		{"success resets the count", []step{fail, fail, succeed, fail, fail}, StateClosed},
		{"open reads half-open after timeout", []step{fail, fail, fail, wait}, StateHalfOpen},
		{"trial successes close", []step{fail, fail, fail, wait, succeed, succeed}, StateClosed},
		{"one trial success is not enough", []step{fail, fail, fail, wait, succeed}, StateHalfOpen},
		{"trial failure re-opens", []step{fail, fail, fail, wait, succeed, fail}, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(CircuitBreakerConfig{
				Name:         "vision",
				MaxFailures:  3,
				ResetTimeout: time.Minute,
				HalfOpenMax:  2,
			})
			for _, s := range tt.steps {
				if s == nil {
					clock.advance(time.Minute)
					continue
				}
				_ = cb.Execute(s)
			}
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{Name: "whisper", MaxFailures: 1, ResetTimeout: time.Minute})
	_ = cb.Execute(fail)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("err = %v, called = %v; want ErrCircuitOpen without a call", err, called)
	}

	clock.advance(59 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v before the reset timeout, want ErrCircuitOpen", err)
	}
	clock.advance(time.Second)
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("trial call after the reset timeout: %v", err)
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{Name: "vision", MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.advance(time.Minute)

	// A second call while the only trial is in flight is rejected.
	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(succeed)
		return nil
	})
	if err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Errorf("concurrent trial err = %v, want ErrCircuitOpen", inner)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after the trial succeeded", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	errEmptyAudio := errors.New("segment has no audio")
	tests := []struct {
		name      string
		isFailure func(error) bool
		err       error
	}{
		{"cancelled run", nil, context.Canceled},
		{"expired deadline", nil, context.DeadlineExceeded},
		{"caller classified", func(err error) bool { return !errors.Is(err, errEmptyAudio) }, errEmptyAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "deepgram", MaxFailures: 1, IsFailure: tt.isFailure})
			for range 3 {
				if err := cb.Execute(func() error { return tt.err }); !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v passed through", err, tt.err)
				}
			}
			if cb.State() != StateClosed {
				t.Errorf("state = %v, want closed", cb.State())
			}
		})
	}
}

func TestCircuitBreaker_IgnoredErrorFreesTrialSlot(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{Name: "vision", MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.advance(time.Minute)

	_ = cb.Execute(func() error { return context.Canceled })
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("trial after a cancelled trial: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type transition struct{ from, to State }
	var got []transition
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			if name != "anthropic" {
				t.Errorf("name = %q", name)
			}
			got = append(got, transition{from, to})
		},
	})

	_ = cb.Execute(fail)
	clock.advance(time.Minute)
	_ = cb.Execute(fail)
	clock.advance(time.Minute)
	_ = cb.Execute(succeed)

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
