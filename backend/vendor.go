package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/store"
)

// VendorBackend adapts a third-party FaaS provider (aliyun, knative) behind
// the Backend contract (spec.md §4.9 "vendor FaaS"): call is a synchronous
// HTTP POST to the provider's invoke URL for stage, tell is the same POST
// issued fire-and-forget. Storage has no vendor-specific transport — it
// always goes through the shared Store, since a vendor FaaS worker has no
// worker-cache server of its own.
type VendorBackend struct {
	ProviderName string
	InvokeURLs   map[string]string
	Invoker      Invoker
	Store        store.Store
	Namespace    string

	storage StorageAPI
}

// NewVendorBackend builds a VendorBackend named providerName (spec.md §6
// FAASIT_PROVIDER values "aliyun"/"knative"), POSTing to invokeURLs[stage].
func NewVendorBackend(providerName string, invokeURLs map[string]string, invoker Invoker, st store.Store, namespace string) *VendorBackend {
	return &VendorBackend{
		ProviderName: providerName,
		InvokeURLs:   invokeURLs,
		Invoker:      invoker,
		Store:        st,
		Namespace:    namespace,
		storage:      &storeBackedStorage{store: st, namespace: namespace},
	}
}

func (b *VendorBackend) Name() string { return b.ProviderName }

func (b *VendorBackend) invokeURL(stage string) (string, error) {
	url, ok := b.InvokeURLs[stage]
	if !ok {
		return "", ferrors.New(ferrors.KindUnknownStage, stage, nil)
	}
	return url, nil
}

func (b *VendorBackend) Call(ctx context.Context, stage string, params map[string]any) (any, error) {
	url, err := b.invokeURL(stage)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	resp, err := b.Invoker.Post(ctx, url, body)
	if err != nil {
		return nil, ferrors.New(ferrors.KindStageFailure, stage, err)
	}
	var value any
	if err := json.Unmarshal(resp, &value); err != nil {
		return nil, fmt.Errorf("vendor backend: decoding %s response: %w", stage, err)
	}
	return value, nil
}

func (b *VendorBackend) Tell(ctx context.Context, stage string, params map[string]any) error {
	url, err := b.invokeURL(stage)
	if err != nil {
		return err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	go func() { _, _ = b.Invoker.Post(context.Background(), url, body) }()
	return nil
}

func (b *VendorBackend) Storage() StorageAPI { return b.storage }

var _ Backend = (*VendorBackend)(nil)

// storeBackedStorage is a plain Store-backed StorageAPI with no direct
// worker-cache path, shared by backends (vendor FaaS today) that have no
// worker process of their own to speak the TCP cache protocol to.
type storeBackedStorage struct {
	store     store.Store
	namespace string
}

func (s *storeBackedStorage) key(userKey string) string { return s.namespace + "-" + userKey }

func (s *storeBackedStorage) Put(ctx context.Context, destStages []string, key string, obj []byte, activeSend bool) error {
	return s.store.Put(ctx, s.key(key), obj)
}

func (s *storeBackedStorage) Get(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error) {
	if activePull {
		return s.store.GetWait(ctx, s.key(key), 0)
	}
	return s.store.Get(ctx, s.key(key))
}

func (s *storeBackedStorage) GetExisted(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error) {
	data, err := s.Get(ctx, srcStage, key, activePull, tcpDirect)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ferrors.New(ferrors.KindMissingEntry, key, nil)
	}
	return data, nil
}

var _ StorageAPI = (*storeBackedStorage)(nil)
