// Package mock provides an in-memory test double for the library.Store
// interface.
//
// Store keeps saved procedures in a map and, unless SearchResult is set,
// answers searches by exact cosine distance over everything saved so far.
// Every call is recorded for assertion:
//
//	store := &mock.Store{}
//	lib := library.New(store, embedder)
//	// …
//	if got := store.CallCount("Save"); got != 1 {
//	    t.Errorf("expected 1 Save call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/doppelganger/internal/library"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable in-memory [library.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call
	saved map[string]library.Procedure

	// SaveErr is returned by Save when non-nil.
	SaveErr error

	// SearchResult, when non-nil, is returned by Search verbatim.
	SearchResult []library.Match

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// PingErr is returned by Ping when non-nil.
	PingErr error

	closed bool
}

var _ library.Store = (*Store)(nil)

// Save records the call and keeps p unless SaveErr is set.
func (s *Store) Save(_ context.Context, p library.Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Save", Args: []any{p}})
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.saved == nil {
		s.saved = make(map[string]library.Procedure)
	}
	s.saved[p.ID] = p
	return nil
}

// Search records the call and returns SearchResult or the closest saved
// procedures.
func (s *Store) Search(_ context.Context, embedding []float32, topK int) ([]library.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Search", Args: []any{embedding, topK}})
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if s.SearchResult != nil {
		return s.SearchResult, nil
	}

	matches := make([]library.Match, 0, len(s.saved))
	for _, p := range s.saved {
		p.Embedding = nil
		matches = append(matches, library.Match{Procedure: p, Distance: cosineDistance(embedding, s.saved[p.ID].Embedding)})
	}
	slices.SortFunc(matches, func(a, b library.Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Get records the call and returns a saved procedure.
func (s *Store) Get(_ context.Context, id string) (library.Procedure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Get", Args: []any{id}})
	p, ok := s.saved[id]
	if !ok {
		return library.Procedure{}, fmt.Errorf("%w: %s", library.ErrNotFound, id)
	}
	return p, nil
}

// Ping records the call and returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Ping"})
	return s.PingErr
}

// Close records the call.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Close"})
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns a copy of all recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how often method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
