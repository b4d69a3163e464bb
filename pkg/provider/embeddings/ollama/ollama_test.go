package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/doppelganger/pkg/provider/embeddings/ollama"
)

type embedBody struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive"`
}

// mockEmbedServer answers /api/embed with one vector of length dims per input
// and stores the last decoded request body.
func mockEmbedServer(t *testing.T, dims int, last *embedBody, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req embedBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if last != nil {
			*last = req
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = make([]float32, dims)
			out[i][0] = float32(i)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model, got nil")
	}
}

func TestEmbed_SendsModelAndTruncate(t *testing.T) {
	var last embedBody
	srv := mockEmbedServer(t, 4, &last, nil)
	p, err := ollama.New(srv.URL+"/", "nomic-embed-text", ollama.WithKeepAlive("1m"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "open a terminal")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("len(vec) = %d, want 4", len(vec))
	}
	if last.Model != "nomic-embed-text" || !last.Truncate || last.KeepAlive != "1m" {
		t.Errorf("unexpected request body: %+v", last)
	}
	if len(last.Input) != 1 || last.Input[0] != "open a terminal" {
		t.Errorf("unexpected input: %v", last.Input)
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	srv := mockEmbedServer(t, 3, nil, nil)
	p, _ := ollama.New(srv.URL, "all-minilm")

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len = %d, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], i)
		}
	}
}

func TestEmbedBatch_EmptyInputNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := mockEmbedServer(t, 3, nil, &calls)
	p, _ := ollama.New(srv.URL, "all-minilm")

	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests, got %d", calls.Load())
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "missing")
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		model string
		opts  []ollama.Option
		want  int
	}{
		{"nomic-embed-text", nil, 768},
		{"mxbai-embed-large:latest", nil, 1024},
		{"all-minilm", nil, 384},
		{"nomic-embed-text", []ollama.Option{ollama.WithDimensions(256)}, 256},
	}
	for _, tt := range tests {
		p, _ := ollama.New("http://127.0.0.1:1", tt.model, tt.opts...)
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("%s: Dimensions() = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestDimensions_SamplesUnknownModelOnce(t *testing.T) {
	var calls atomic.Int32
	srv := mockEmbedServer(t, 12, nil, &calls)
	p, _ := ollama.New(srv.URL, "custom-embedder")

	for range 3 {
		if got := p.Dimensions(); got != 12 {
			t.Fatalf("Dimensions() = %d, want 12", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 sample request, got %d", calls.Load())
	}
}
