package deploy

import "context"

// Deployer is the abstract container-orchestrator client (spec.md §1 "the
// container-orchestrator client (abstract Deployer)"): out of scope to
// implement against a real orchestrator, but its contract is fixed so the
// controller can depend on it.
type Deployer interface {
	// Apply stands up (or updates) one stage's deployment from a rendered
	// manifest, returning the Address workers elsewhere resolve it at.
	Apply(ctx context.Context, stage string, manifest string) (Address, error)

	// Remove tears down stage's deployment.
	Remove(ctx context.Context, stage string) error
}

// Address is the network location a Deployer hands back for one deployed
// stage (mirrors engine.Address; kept separate so this package has no
// dependency on engine).
type Address struct {
	IP        string
	Port      int
	CachePort int
}
