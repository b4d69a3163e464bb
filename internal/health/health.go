// Package health serves liveness and readiness endpoints next to the metrics
// endpoint.
//
// /healthz always answers 200 while the process can serve HTTP. /readyz runs
// every registered [Checker] concurrently and answers 503 when any of them
// fails, so an orchestrator can hold traffic until the procedure library
// and the persistent cache are reachable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 5 * time.Second

// Checker is a named dependency check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one checker in a /readyz response.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves both endpoints. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a Handler evaluating checkers on each /readyz request.
// Checkers with an empty name or a nil function are ignored.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{timeout: DefaultTimeout}
	for _, c := range checkers {
		if c.Name != "" && c.Check != nil {
			h.checkers = append(h.checkers, c)
		}
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness endpoint.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Evaluate runs all checkers concurrently, each under its own timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: "ok", ElapsedMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		})
	}
	wg.Wait()

	rep := Report{Status: "ok"}
	if len(h.checkers) == 0 {
		return rep
	}
	rep.Checks = make(map[string]CheckResult, len(h.checkers))
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			rep.Status = "fail"
		}
	}
	return rep
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
