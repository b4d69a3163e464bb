package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// newSTTGroup returns a group of provider names in failover order.
func newSTTGroup(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestExecuteWithResult_Order(t *testing.T) {
	tests := []struct {
		name      string
		down      []string
		wantTried []string
		wantFrom  string
		wantErr   error
	}{
		{"primary answers", nil, []string{"whisper"}, "whisper", nil},
		{"first fallback answers", []string{"whisper"}, []string{"whisper", "deepgram"}, "deepgram", nil},
		{"last fallback answers", []string{"whisper", "deepgram"}, []string{"whisper", "deepgram", "whisper-native"}, "whisper-native", nil},
		{"everyone down", []string{"whisper", "deepgram", "whisper-native"}, []string{"whisper", "deepgram", "whisper-native"}, "", ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newSTTGroup(FallbackConfig{}, "whisper", "deepgram", "whisper-native")
			var tried []string
			got, err := ExecuteWithResult(context.Background(), fg, func(name string) (string, error) {
				tried = append(tried, name)
				if slices.Contains(tt.down, name) {
					return "", errTest
				}
				return name, nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.wantFrom {
				t.Errorf("answer from %q, want %q", got, tt.wantFrom)
			}
			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried %v, want %v", tried, tt.wantTried)
			}
		})
	}
}

func TestExecuteWithResult_AllFailJoinsErrors(t *testing.T) {
	errWhisper := errors.New("whisper: connection refused")
	errDeepgram := errors.New("deepgram: 401")
	fg := newSTTGroup(FallbackConfig{}, "whisper", "deepgram")

	_, err := ExecuteWithResult(context.Background(), fg, func(name string) (int, error) {
		if name == "whisper" {
			return 0, errWhisper
		}
		return 0, errDeepgram
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errWhisper) || !errors.Is(err, errDeepgram) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping both provider errors", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := newSTTGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	}, "whisper", "deepgram")

	var tried []string
	transcribe := func(name string) error {
		tried = append(tried, name)
		if name == "whisper" {
			return errTest
		}
		return nil
	}
	for range 2 {
		if err := fg.Execute(context.Background(), transcribe); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	tried = nil
	if err := fg.Execute(context.Background(), transcribe); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(tried, []string{"deepgram"}) {
		t.Errorf("tried %v once whisper's breaker opened, want [deepgram]", tried)
	}
}

func TestExecuteWithResult_StopsOnCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fg := newSTTGroup(FallbackConfig{}, "whisper", "deepgram")

	var tried []string
	_, err := ExecuteWithResult(ctx, fg, func(name string) (int, error) {
		tried = append(tried, name)
		cancel()
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !slices.Equal(tried, []string{"whisper"}) {
		t.Fatalf("tried %v, want [whisper]", tried)
	}
}

func TestFallbackGroup_NamesAndPrimary(t *testing.T) {
	fg := newSTTGroup(FallbackConfig{}, "openai", "ollama")
	if got := fg.Names(); !slices.Equal(got, []string{"openai", "ollama"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Primary() != "openai" {
		t.Errorf("Primary() = %q", fg.Primary())
	}
}
