// Package cache stores language-model responses keyed by prompt template and
// a hash of the call's inputs.
//
// The cache is an injectable collaborator of the pipeline rather than global
// state: the pipeline decides when it is cleared (see [Scope]). Three
// implementations are provided: [Memory] for a single process, [SQLite] for
// reuse across runs, and [Noop] which never hits.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Key identifies a cached response.
type Key struct {
	// Template is the stable identifier of the prompt template.
	Template string

	// InputHash is the hex SHA-256 of every input that shaped the call:
	// rendered prompt, attached images, model and sampling parameters.
	InputHash string
}

// String returns "template:hash".
func (k Key) String() string { return k.Template + ":" + k.InputHash }

// NewKey hashes parts into a Key for template. Each part is length-prefixed
// so that ("ab", "c") and ("a", "bc") produce different keys.
func NewKey(template string, parts ...[]byte) Key {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return Key{Template: template, InputHash: hex.EncodeToString(h.Sum(nil))}
}

// Store is a response cache. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the cached response for key. ok is false on a miss.
	Get(ctx context.Context, key Key) (value string, ok bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key Key, value string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Scope controls the lifetime of cached entries relative to pipeline runs.
type Scope string

const (
	// ScopeOff disables caching.
	ScopeOff Scope = "off"
	// ScopeRun keeps entries for the duration of one run and clears them when
	// the run ends.
	ScopeRun Scope = "run"
	// ScopePersistent keeps entries until cleared explicitly.
	ScopePersistent Scope = "persistent"
)

// ParseScope converts s to a Scope. The empty string maps to [ScopeRun].
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeRun, nil
	case ScopeOff, ScopeRun, ScopePersistent:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("cache: unknown scope %q (want off, run or persistent)", s)
	}
}

// Noop is a Store that never stores anything.
type Noop struct{}

var _ Store = Noop{}

func (Noop) Get(context.Context, Key) (string, bool, error) { return "", false, nil }
func (Noop) Put(context.Context, Key, string) error         { return nil }
func (Noop) Clear(context.Context) error                    { return nil }
func (Noop) Close() error                                   { return nil }
