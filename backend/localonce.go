package backend

import (
	"context"
	"sync"

	"github.com/flowmesh/flowmesh/routetable"
)

// LocalOnceBackend runs every stage in-process against a single RouteTable
// (spec.md §4.9 "local-once"). Call invokes the target handler directly:
// because Go function calls are synchronous, any nested DAG the callee
// builds and executes (dag.Workflow.Execute, itself driven by recursive
// Call/Tell through this same backend) runs to completion before Call
// returns — there is no separate scheduling step to short-circuit, which is
// what satisfies spec.md's "a nested DAG in the callee is evaluated to
// completion before return" without special-casing it here.
//
// Tell is fire-and-forget (SPEC_FULL.md §9 pins this uniformly across
// backends): it launches the handler on its own goroutine and returns
// immediately, never surfacing the handler's result or error to the caller.
type LocalOnceBackend struct {
	Routes  *routetable.RouteTable
	storage StorageAPI

	wg sync.WaitGroup
}

// NewLocalOnceBackend builds a LocalOnceBackend storing stage I/O under dir.
func NewLocalOnceBackend(routes *routetable.RouteTable, dir string) (*LocalOnceBackend, error) {
	st, err := NewLocalDiskStorage(dir)
	if err != nil {
		return nil, err
	}
	return &LocalOnceBackend{Routes: routes, storage: st}, nil
}

func (b *LocalOnceBackend) Name() string { return ProviderLocalOnce }

func (b *LocalOnceBackend) Call(ctx context.Context, stage string, params map[string]any) (any, error) {
	handler, err := b.Routes.Route(stage)
	if err != nil {
		return nil, err
	}
	return handler(params)
}

func (b *LocalOnceBackend) Tell(ctx context.Context, stage string, params map[string]any) error {
	handler, err := b.Routes.Route(stage)
	if err != nil {
		return err
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_, _ = handler(params)
	}()
	return nil
}

// Wait blocks until every Tell dispatched so far has returned. Intended for
// tests and graceful shutdown; production handlers never call it, matching
// the fire-and-forget contract.
func (b *LocalOnceBackend) Wait() { b.wg.Wait() }

func (b *LocalOnceBackend) Storage() StorageAPI { return b.storage }

var _ Backend = (*LocalOnceBackend)(nil)
