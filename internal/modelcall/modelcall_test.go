package modelcall

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/doppelganger/internal/cache"
	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/MrWong99/doppelganger/pkg/provider/llm"
	llmmock "github.com/MrWong99/doppelganger/pkg/provider/llm/mock"
	"github.com/MrWong99/doppelganger/pkg/types"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func cacheHits(t *testing.T, reader *sdkmetric.ManualReader) (hits, misses int64) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "doppelganger.cache.lookups" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("result"); ok && v.AsString() == "hit" {
					hits += dp.Value
				} else {
					misses += dp.Value
				}
			}
		}
	}
	return hits, misses
}

func TestCall_SendsSingleUserMessage(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "<xml>ok</xml>"}}
	m, _ := testMetrics(t)
	c := New(p, WithMetrics(m), WithTemperature(0.2), WithMaxTokens(512))

	img := types.Image{MediaType: "image/png", Data: []byte{1, 2, 3}}
	got, err := c.Call(context.Background(), "describe_frame", "describe this", img)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "<xml>ok</xml>" {
		t.Errorf("Call = %q", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(calls))
	}
	req := calls[0].Req
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "describe this" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if len(req.Messages[0].Images) != 1 || req.Messages[0].Images[0].MediaType != "image/png" {
		t.Errorf("image not attached: %+v", req.Messages[0].Images)
	}
	if req.Temperature != 0.2 || req.MaxTokens != 512 {
		t.Errorf("sampling params = %v/%d", req.Temperature, req.MaxTokens)
	}
}

func TestCall_CacheHitSkipsProvider(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "answer"}}
	m, reader := testMetrics(t)
	store := cache.NewMemory()
	c := New(p, WithMetrics(m), WithCache(store))
	ctx := context.Background()

	for range 3 {
		got, err := c.Call(ctx, "synthesize_steps", "same prompt")
		if err != nil || got != "answer" {
			t.Fatalf("Call = %q, %v", got, err)
		}
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
	if hits, misses := cacheHits(t, reader); hits != 2 || misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", hits, misses)
	}
}

func TestCall_KeyCoversInputs(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}}
	m, _ := testMetrics(t)
	store := cache.NewMemory()
	ctx := context.Background()

	c := New(p, WithMetrics(m), WithCache(store))
	_, _ = c.Call(ctx, "t", "prompt")
	_, _ = c.Call(ctx, "t", "other prompt")
	_, _ = c.Call(ctx, "u", "prompt")
	_, _ = c.Call(ctx, "t", "prompt", types.Image{MediaType: "image/jpeg", Data: []byte{9}})
	_, _ = New(p, WithMetrics(m), WithCache(store), WithTemperature(1)).Call(ctx, "t", "prompt")

	if n := len(p.Calls()); n != 5 {
		t.Errorf("provider called %d times, want 5 distinct keys", n)
	}
	if store.Len() != 5 {
		t.Errorf("cache has %d entries, want 5", store.Len())
	}
}

func TestCall_ProviderErrorNotCached(t *testing.T) {
	boom := errors.New("overloaded")
	p := &llmmock.Provider{CompleteErr: boom}
	m, _ := testMetrics(t)
	store := cache.NewMemory()
	c := New(p, WithMetrics(m), WithCache(store))

	_, err := c.Call(context.Background(), "aggregate_tool", "steps")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("failed call must not be cached")
	}
}

func TestCall_NilResponse(t *testing.T) {
	m, _ := testMetrics(t)
	c := New(&llmmock.Provider{}, WithMetrics(m))
	if _, err := c.Call(context.Background(), "t", "p"); err == nil {
		t.Error("expected error for nil provider response")
	}
}

// failingStore errors on every operation.
type failingStore struct{ cache.Noop }

func (failingStore) Get(context.Context, cache.Key) (string, bool, error) {
	return "", false, errors.New("disk full")
}
func (failingStore) Put(context.Context, cache.Key, string) error { return errors.New("disk full") }

func TestCall_CacheErrorsAreIgnored(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "fine"}}
	m, _ := testMetrics(t)
	c := New(p, WithMetrics(m), WithCache(failingStore{}))

	got, err := c.Call(context.Background(), "t", "p")
	if err != nil || got != "fine" {
		t.Errorf("Call = %q, %v; want fine, nil", got, err)
	}
}
