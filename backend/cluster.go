package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/store"
)

// clusterRequestEnvelope mirrors worker.requestEnvelope (spec.md §6 "Worker
// HTTP"). Duplicated here rather than imported: the worker package pulls in
// cache/routetable for its own reasons, and backend needs only the wire
// shape, not the worker runtime.
type clusterRequestEnvelope struct {
	Type       string                  `json:"type"`
	Invocation *engine.StageInvocation `json:"invocation,omitempty"`
	Key        string                  `json:"key,omitempty"`
	Value      []byte                  `json:"value,omitempty"`
	Prefix     string                  `json:"prefix,omitempty"`
}

const (
	clusterTypeLambdaCall = "lambda-call"
	clusterTypeCachePut   = "cache-put"
	clusterTypeCacheGet   = "cache-get"
	clusterTypeCacheClear = "cache-clear"
)

// ClusterBackend is the "pku" backend (spec.md §4.9): call and tell funnel
// through the Workflow Engine's wire protocol via an Invoker, landing the
// invocation on the worker owning stage and polling the shared Store for its
// result — the same ResultKey/DecodeResult contract the controller's poll
// loop (engine.Engine) uses for whole-DAG execution (spec.md §4.4).
type ClusterBackend struct {
	Namespace         engine.ExecutionNamespace
	Invoker           Invoker
	Store             store.Store
	Schedule          map[string]engine.Address
	TransMode         engine.TransportMode
	RemoteCallTimeout time.Duration
	PostRatio         float64

	storage *ClusterStorage
}

// NewClusterBackend builds a ClusterBackend for one workflow instance.
func NewClusterBackend(ns engine.ExecutionNamespace, invoker Invoker, st store.Store, schedule map[string]engine.Address, mode engine.TransportMode, remoteCallTimeout time.Duration, postRatio float64) *ClusterBackend {
	b := &ClusterBackend{
		Namespace:         ns,
		Invoker:           invoker,
		Store:             st,
		Schedule:          schedule,
		TransMode:         mode,
		RemoteCallTimeout: remoteCallTimeout,
		PostRatio:         postRatio,
	}
	b.storage = &ClusterStorage{backend: b}
	return b
}

func (b *ClusterBackend) Name() string { return ProviderPKU }

func (b *ClusterBackend) workerURL(stage string) (string, error) {
	addr, ok := b.Schedule[stage]
	if !ok {
		return "", ferrors.New(ferrors.KindUnknownStage, stage, nil)
	}
	return fmt.Sprintf("http://%s:%d/", addr.IP, addr.Port), nil
}

func (b *ClusterBackend) dispatch(ctx context.Context, stage string, params map[string]any) (*engine.StageInvocation, error) {
	url, err := b.workerURL(stage)
	if err != nil {
		return nil, err
	}
	inv := &engine.StageInvocation{
		ID:                fmt.Sprintf("%s-%s-%s", b.Namespace, stage, uuid.NewString()),
		Stage:             stage,
		Namespace:         b.Namespace,
		Params:            params,
		Schedule:          b.Schedule,
		TransMode:         b.TransMode,
		RemoteCallTimeout: b.RemoteCallTimeout,
		PostRatio:         b.PostRatio,
	}
	inv.RemoteCall()

	body, err := json.Marshal(clusterRequestEnvelope{Type: clusterTypeLambdaCall, Invocation: inv})
	if err != nil {
		return nil, err
	}
	if _, err := b.Invoker.Post(ctx, url, body); err != nil {
		return nil, err
	}
	return inv, nil
}

// Call dispatches stage and blocks (bounded by RemoteCallTimeout) for its
// result via the shared Store.
func (b *ClusterBackend) Call(ctx context.Context, stage string, params map[string]any) (any, error) {
	inv, err := b.dispatch(ctx, stage, params)
	if err != nil {
		return nil, err
	}
	raw, err := b.Store.GetWait(ctx, inv.ResultKey(), b.RemoteCallTimeout)
	if err != nil {
		return nil, ferrors.New(ferrors.KindStageTimeout, stage, err)
	}
	ok, payload := engine.DecodeResult(raw)
	if !ok {
		return nil, ferrors.New(ferrors.KindStageFailure, stage, fmt.Errorf("%s", string(payload)))
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Tell dispatches stage fire-and-forget: the dispatch, POST included, runs on
// its own goroutine and Tell returns nil at once. Dispatch errors (an unknown
// stage, a failed POST) are discarded, and the stage's eventual result is
// never read.
func (b *ClusterBackend) Tell(ctx context.Context, stage string, params map[string]any) error {
	go func() {
		_, _ = b.dispatch(context.Background(), stage, params)
	}()
	return nil
}

func (b *ClusterBackend) Storage() StorageAPI { return b.storage }

var _ Backend = (*ClusterBackend)(nil)

// ClusterStorage implements the §4.6 transport-mode policy. Put always writes
// the Store; the direct worker-cache path is an addition on top of it.
// TransportAuto uses the direct path for any stage that has an Address in
// Schedule; node IPs are not compared, so colocation is not checked.
// TransportAllRedis/TransportAllTCP pin every transfer to one path. The
// direct path is an HTTP cache-put/cache-get POST to the worker's address
// through the Invoker; the raw TCP cache server is not used here.
type ClusterStorage struct {
	backend *ClusterBackend
}

func (s *ClusterStorage) Put(ctx context.Context, destStages []string, key string, obj []byte, activeSend bool) error {
	nsKey := s.backend.Namespace.Key(key)
	if err := s.backend.Store.Put(ctx, nsKey, obj); err != nil {
		return err
	}
	if !activeSend {
		return nil
	}
	for _, dest := range destStages {
		if !s.useDirectCache(dest) {
			continue
		}
		url, err := s.backend.workerURL(dest)
		if err != nil {
			continue
		}
		body, err := json.Marshal(clusterRequestEnvelope{Type: clusterTypeCachePut, Key: key, Value: obj})
		if err != nil {
			continue
		}
		go func(url string, body []byte) { _, _ = s.backend.Invoker.Post(ctx, url, body) }(url, body)
	}
	return nil
}

func (s *ClusterStorage) Get(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error) {
	if tcpDirect && s.useDirectCache(srcStage) {
		url, err := s.backend.workerURL(srcStage)
		if err == nil {
			body, merr := json.Marshal(clusterRequestEnvelope{Type: clusterTypeCacheGet, Key: key})
			if merr == nil {
				if data, perr := s.backend.Invoker.Post(ctx, url, body); perr == nil {
					return data, nil
				}
			}
		}
	}
	nsKey := s.backend.Namespace.Key(key)
	if activePull {
		return s.backend.Store.GetWait(ctx, nsKey, s.backend.RemoteCallTimeout)
	}
	return s.backend.Store.Get(ctx, nsKey)
}

func (s *ClusterStorage) GetExisted(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error) {
	data, err := s.Get(ctx, srcStage, key, activePull, tcpDirect)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ferrors.New(ferrors.KindMissingEntry, key, nil)
	}
	return data, nil
}

// useDirectCache reports whether key transfers for stage should prefer the
// worker's HTTP cache endpoint over the Store, per b.TransMode.
func (s *ClusterStorage) useDirectCache(stage string) bool {
	switch s.backend.TransMode {
	case engine.TransportAllTCP:
		return true
	case engine.TransportAllRedis:
		return false
	default: // TransportAuto
		_, scheduled := s.backend.Schedule[stage]
		return scheduled
	}
}

var _ StorageAPI = (*ClusterStorage)(nil)
