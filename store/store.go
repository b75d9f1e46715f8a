// Package store defines the abstract Store collaborator (spec.md §1, §6):
// a shared KV with atomic get/put/delete, prefix scan, and a blocking
// get-with-timeout — plus concrete Redis, SQLite, and MySQL implementations.
//
// Store key conventions (spec.md §6):
//   - "{namespace}-{user_key}"                      stage-scoped shared data
//   - "{namespace}-__final_outputs__{user_key}"      workflow final outputs
//   - "{unique_execution_id}-result"                 per-retry status (Ok|Err)
//   - "orchestrator::__state__::{instanceId}"        durable action log
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/GetWait when the key does not exist (and,
// for GetWait, the deadline elapses before it appears).
var ErrNotFound = errors.New("store: key not found")

// Store is the abstract KV collaborator every backend adapter and the
// Workflow Engine depend on. Implementations must give single-writer
// semantics per key: spec.md's durability and exactly-once results rely on
// it rather than on any consensus protocol.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value for key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix. Used by the
	// engine's namespace cleanup (spec.md §4.4, §8 "Namespace isolation").
	DeletePrefix(ctx context.Context, prefix string) error

	// ScanPrefix returns every key/value pair with the given prefix.
	ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error)

	// GetWait blocks until key appears or timeout elapses, returning
	// ErrNotFound on timeout. Used by storage.get(timeout) (spec.md §4.6).
	// The engine's result polling uses Get, not GetWait — the engine never
	// blocks its poll loop (spec.md §4.4).
	GetWait(ctx context.Context, key string, timeout time.Duration) ([]byte, error)

	// Close releases any underlying connections.
	Close() error
}
