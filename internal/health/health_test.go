package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (int, Report, http.Header) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, rep, rec.Header()
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	failing := Checker{Name: "library", Check: func(context.Context) error { return errors.New("down") }}
	code, rep, hdr := serve(t, New([]Checker{failing}), "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, rep.Status)
	}
	if ct := hdr.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "library", Check: ok},
				{Name: "cache", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"library": "ok", "cache": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "library", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "cache", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"library": "fail", "cache": "ok"},
		},
		{
			name: "invalid checkers ignored",
			checkers: []Checker{
				{Name: "", Check: ok},
				{Name: "nil"},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, rep, _ := serve(t, New(tt.checkers), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if rep.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, tt.wantStatus)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", rep.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name].Status; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ReportsError(t *testing.T) {
	h := New([]Checker{{Name: "cache", Check: func(context.Context) error { return errors.New("disk full") }}})
	_, rep, _ := serve(t, h, "/readyz")
	if got := rep.Checks["cache"].Error; got != "disk full" {
		t.Errorf("error = %q, want %q", got, "disk full")
	}
}

func TestEvaluate_Timeout(t *testing.T) {
	slow := Checker{Name: "library", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	rep := New([]Checker{slow}, WithTimeout(10*time.Millisecond)).Evaluate(context.Background())
	if rep.Status != "fail" {
		t.Fatalf("status = %q, want fail", rep.Status)
	}
	if rep.Checks["library"].Error != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q, want deadline exceeded", rep.Checks["library"].Error)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New([]Checker{{Name: "a", Check: wait}, {Name: "b", Check: wait}}, WithTimeout(5*time.Second))

	done := make(chan Report)
	go func() { done <- h.Evaluate(context.Background()) }()
	<-started
	<-started
	close(release)

	if rep := <-done; rep.Status != "ok" {
		t.Errorf("status = %q, want ok", rep.Status)
	}
}
