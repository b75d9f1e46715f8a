// Package backend implements the three concrete realizations of call/tell/
// storage (spec.md §4.9): local-once (in-process), cluster ("pku", over the
// Workflow Engine and an Invoker), and vendor FaaS (HTTP POST). Selection is
// by environment variable at handler-factory time (spec.md §6, §9 "Glue").
//
// Grounded on the teacher's generic Engine[S] variant-selection shape — here a concrete
// Backend interface with one struct per variant, picked once by the
// factory, rather than per-call branching (SPEC_FULL.md §9 "Per-backend
// branching in the handler").
package backend

import (
	"context"

	"github.com/flowmesh/flowmesh/ferrors"
)

// Backend realizes the Stage I/O contract (spec.md §4.6, §4.9) for one
// concrete execution environment.
type Backend interface {
	// Call invokes stage synchronously and returns its result.
	Call(ctx context.Context, stage string, params map[string]any) (any, error)

	// Tell dispatches stage fire-and-forget. Per SPEC_FULL.md §9 (pinning
	// spec.md §9's open question), Tell never blocks for or returns a
	// result.
	Tell(ctx context.Context, stage string, params map[string]any) error

	// Storage returns this backend's Stage I/O implementation.
	Storage() StorageAPI

	// Name identifies the backend for logging/metrics.
	Name() string
}

// StorageAPI is the Stage I/O contract exposed inside a handler (spec.md
// §4.6): storage.put/storage.get.
type StorageAPI interface {
	// Put writes obj under key, visible to destStages (empty = final
	// output). activeSend requests an immediate cache-put broadcast rather
	// than a passive buffer awaiting ActivePull.
	Put(ctx context.Context, destStages []string, key string, obj []byte, activeSend bool) error

	// Get reads key as last written by srcStage. With activePull the cluster
	// backend waits up to its RemoteCallTimeout for the key (Store.GetWait)
	// rather than reading once; the vendor backend's activePull read passes a
	// zero timeout, and the local-once backend ignores the flag. tcpDirect asks the cluster backend to try the
	// source worker's cache first (an HTTP cache-get, not the raw TCP cache
	// server), falling back to the Store.
	Get(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error)

	// GetExisted is Get, but fails with *MissingEntry if the fetched value
	// is empty (spec.md §4.6 "get_existed_object variant").
	GetExisted(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error)
}

// Provider names recognized at handler-factory time (spec.md §6).
const (
	ProviderLocal     = "local"
	ProviderLocalOnce = "local-once"
	ProviderPKU       = "pku"
	ProviderAliyun    = "aliyun"
	ProviderKnative   = "knative"
	ProviderAWS       = "aws"
)

// UnknownProviderErr builds the *UnknownProvider error for an unrecognized
// FAASIT_PROVIDER value (spec.md §6, §7).
func UnknownProviderErr(provider string) error {
	return ferrors.New(ferrors.KindUnknownProvider, provider, nil)
}
