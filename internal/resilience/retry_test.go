package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_DefaultIsSingleAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{}, func(context.Context) error {
		calls++
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
	}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTest
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q, want ok", got)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, func(context.Context) error {
		calls++
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_NonRetryableStops(t *testing.T) {
	permanent := errors.New("bad request")
	tests := []struct {
		name string
		err  error
	}{
		{"classifier", permanent},
		{"canceled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
		{"circuit open", ErrCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), RetryConfig{
				MaxAttempts:    5,
				InitialBackoff: time.Millisecond,
				Retryable:      func(err error) bool { return !errors.Is(err, permanent) },
			}, func(context.Context) error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Fatalf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Retry(ctx, RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Hour,
	}, func(context.Context) error {
		calls++
		cancel()
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if time.Since(start) > time.Minute {
		t.Fatal("retry waited out the backoff despite cancellation")
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Millisecond}.withDefaults()
	if cfg.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", cfg.MaxAttempts)
	}
	if cfg.MaxBackoff != time.Second {
		t.Errorf("MaxBackoff = %v, want it raised to InitialBackoff", cfg.MaxBackoff)
	}
}
