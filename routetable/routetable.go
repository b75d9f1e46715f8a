// Package routetable implements the stage-name -> handler registry (spec.md
// §4.3). A RouteTable is frozen before workflow execution begins, replacing
// the teacher corpus's module-level singleton registries (see SPEC_FULL.md
// §9 "Global routeBuilder singleton") with an explicit context object
// constructed by the handler factory.
package routetable

import (
	"sync"

	"github.com/flowmesh/flowmesh/ferrors"
)

// Handler is a named user-provided function: consumes a parameter object,
// returns a value or an error.
type Handler func(params map[string]any) (any, error)

// RouteTable maps stage name to Handler. Keys are unique: Register fails if
// the name is already taken, to surface authoring mistakes early rather
// than silently shadowing a stage.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]Handler
	frozen bool
}

// New creates an empty, unfrozen RouteTable.
func New() *RouteTable {
	return &RouteTable{routes: make(map[string]Handler)}
}

// Register binds name to handler. Returns an error if name is already
// registered or the table is frozen.
func (r *RouteTable) Register(name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ferrors.New(ferrors.KindUnknownStage, name, nil)
	}
	if _, exists := r.routes[name]; exists {
		return ferrors.New(ferrors.KindUnknownStage, name, nil)
	}
	r.routes[name] = handler
	return nil
}

// Route looks up name, failing with *UnknownStage if absent.
func (r *RouteTable) Route(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.routes[name]
	if !ok {
		return nil, ferrors.New(ferrors.KindUnknownStage, name, nil)
	}
	return h, nil
}

// Freeze prevents further registration. Called once by the handler factory
// before the workflow begins executing.
func (r *RouteTable) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Names returns every registered stage name, for diagnostics and placement.
func (r *RouteTable) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for name := range r.routes {
		out = append(out, name)
	}
	return out
}
