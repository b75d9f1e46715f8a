// Package backend selection glue (spec.md §6, §9): build the one Backend a
// worker process uses for its whole lifetime, chosen once by environment
// variable rather than branched on per call.
package backend

import (
	"os"
	"time"

	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/routetable"
	"github.com/flowmesh/flowmesh/store"
)

// Env variable names read by NewFromEnv (spec.md §6).
const (
	EnvProvider  = "FAASIT_PROVIDER"
	EnvLocalDir  = "LOCAL_STORAGE_DIR"
	EnvNamespace = "FAASIT_NAMESPACE"
)

// FactoryConfig carries the collaborators a Backend needs that cannot be
// read from the environment alone (spec.md §4.9's cluster and vendor
// variants need a Store, an Invoker, and a worker Schedule; local-once needs
// only a RouteTable and a disk directory).
type FactoryConfig struct {
	Routes            *routetable.RouteTable
	Store             store.Store
	Invoker           Invoker
	Namespace         engine.ExecutionNamespace
	Schedule          map[string]engine.Address
	TransMode         engine.TransportMode
	RemoteCallTimeout time.Duration
	PostRatio         float64
	VendorInvokeURLs  map[string]string
	LocalDiskDir      string
}

// New builds the Backend named by provider (spec.md §6 FAASIT_PROVIDER),
// failing with *UnknownProvider for any value outside the recognized set.
// "aws" is intentionally rejected: SPEC_FULL.md §9 pins it as removed scope,
// not a fourth variant, so it reaches the default case like any unknown
// string.
func New(provider string, cfg FactoryConfig) (Backend, error) {
	switch provider {
	case ProviderLocal, ProviderLocalOnce:
		dir := cfg.LocalDiskDir
		if dir == "" {
			dir = os.TempDir()
		}
		return NewLocalOnceBackend(cfg.Routes, dir)

	case ProviderPKU:
		return NewClusterBackend(cfg.Namespace, cfg.Invoker, cfg.Store, cfg.Schedule, cfg.TransMode, cfg.RemoteCallTimeout, cfg.PostRatio), nil

	case ProviderAliyun, ProviderKnative:
		return NewVendorBackend(provider, cfg.VendorInvokeURLs, cfg.Invoker, cfg.Store, string(cfg.Namespace)), nil

	default:
		return nil, UnknownProviderErr(provider)
	}
}

// NewFromEnv builds a Backend using FAASIT_PROVIDER and the other env
// variables spec.md §6 documents, falling back to cfg's fields for anything
// the environment does not supply.
func NewFromEnv(cfg FactoryConfig) (Backend, error) {
	provider := os.Getenv(EnvProvider)
	if provider == "" {
		provider = ProviderLocalOnce
	}
	if dir := os.Getenv(EnvLocalDir); dir != "" {
		cfg.LocalDiskDir = dir
	}
	if ns := os.Getenv(EnvNamespace); ns != "" && cfg.Namespace == "" {
		cfg.Namespace = engine.ExecutionNamespace(ns)
	}
	return New(provider, cfg)
}
