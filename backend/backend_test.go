package backend

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/routetable"
	"github.com/flowmesh/flowmesh/store"
)

func TestLocalOnceCallRunsHandlerInline(t *testing.T) {
	routes := routetable.New()
	if err := routes.Register("add", func(params map[string]any) (any, error) {
		return params["lhs"].(float64) + params["rhs"].(float64), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	dir := t.TempDir()
	b, err := NewLocalOnceBackend(routes, dir)
	if err != nil {
		t.Fatalf("new local-once: %v", err)
	}

	v, err := b.Call(context.Background(), "add", map[string]any{"lhs": 1.0, "rhs": 2.0})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v.(float64) != 3.0 {
		t.Fatalf("expected 3, got %v", v)
	}
}

func TestLocalOnceTellIsFireAndForget(t *testing.T) {
	routes := routetable.New()
	done := make(chan struct{})
	if err := routes.Register("notify", func(params map[string]any) (any, error) {
		close(done)
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	b, err := NewLocalOnceBackend(routes, t.TempDir())
	if err != nil {
		t.Fatalf("new local-once: %v", err)
	}
	if err := b.Tell(context.Background(), "notify", nil); err != nil {
		t.Fatalf("tell: %v", err)
	}
	b.Wait()
	select {
	case <-done:
	default:
		t.Fatal("expected handler to have run")
	}
}

func TestLocalDiskStorageRoundTrip(t *testing.T) {
	st, err := NewLocalDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()
	if err := st.Put(ctx, nil, "k", []byte("v"), false); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := st.Get(ctx, "", "k", false, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "v" {
		t.Fatalf("expected v, got %s", data)
	}
	if _, err := st.Get(ctx, "", "missing", false, false); !ferrors.Is(err, ferrors.KindMissingEntry) {
		t.Fatalf("expected MissingEntry, got %v", err)
	}
}

// fakeInvoker records every POST (URL and body) and serves canned responses
// keyed by URL.
type fakeInvoker struct {
	mu        sync.Mutex
	responses map[string][]byte
	posts     []string
	bodies    [][]byte
}

func (f *fakeInvoker) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	f.mu.Lock()
	f.posts = append(f.posts, url)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	if resp, ok := f.responses[url]; ok {
		return resp, nil
	}
	return nil, nil
}

// lastInvocation blocks until at least one POST has landed and decodes its
// envelope's invocation, so the caller can learn the dispatch's
// UniqueExecutionID — which carries a random suffix — without predicting it
// in advance.
func (f *fakeInvoker) lastInvocation(t *testing.T) *engine.StageInvocation {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.bodies)
		var body []byte
		if n > 0 {
			body = f.bodies[n-1]
		}
		f.mu.Unlock()
		if n > 0 {
			var env clusterRequestEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			return env.Invocation
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no POST observed before deadline")
	return nil
}

func TestClusterCallPollsResultFromStore(t *testing.T) {
	st := store.NewMemStore()
	ns := engine.NewNamespace("app", "e1")
	schedule := map[string]engine.Address{"double": {IP: "127.0.0.1", Port: 9001}}
	inv := &fakeInvoker{}

	b := NewClusterBackend(ns, inv, st, schedule, engine.TransportAuto, time.Second, 1.0)

	url, err := b.workerURL("double")
	if err != nil {
		t.Fatalf("worker url: %v", err)
	}
	_ = url

	type callResult struct {
		v   any
		err error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		v, err := b.Call(context.Background(), "double", map[string]any{"n": 3.0})
		resultCh <- callResult{v, err}
	}()

	// Read back the UniqueExecutionID actually dispatched (it carries a
	// random suffix) rather than predicting it, then simulate the worker
	// writing its result.
	invocation := inv.lastInvocation(t)
	payload, _ := json.Marshal(6.0)
	_ = st.Put(context.Background(), invocation.ResultKey(), engine.EncodeOkResult(payload))

	var res callResult
	select {
	case res = <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return in time")
	}
	if res.err != nil {
		t.Fatalf("call: %v", res.err)
	}
	if res.v.(float64) != 6.0 {
		t.Fatalf("expected 6, got %v", res.v)
	}
	if len(inv.posts) != 1 {
		t.Fatalf("expected exactly one dispatch POST, got %d", len(inv.posts))
	}
}

func TestClusterCallUnknownStage(t *testing.T) {
	st := store.NewMemStore()
	ns := engine.NewNamespace("app", "e1")
	b := NewClusterBackend(ns, &fakeInvoker{}, st, map[string]engine.Address{}, engine.TransportAuto, 50*time.Millisecond, 1.0)

	if _, err := b.Call(context.Background(), "missing", nil); !ferrors.Is(err, ferrors.KindUnknownStage) {
		t.Fatalf("expected UnknownStage, got %v", err)
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	_, err := New("aws", FactoryConfig{})
	if !ferrors.Is(err, ferrors.KindUnknownProvider) {
		t.Fatalf("expected UnknownProvider for removed 'aws' scope, got %v", err)
	}
	_, err = New("bogus", FactoryConfig{})
	if !ferrors.Is(err, ferrors.KindUnknownProvider) {
		t.Fatalf("expected UnknownProvider, got %v", err)
	}
}

func TestFactoryLocalOnce(t *testing.T) {
	routes := routetable.New()
	b, err := New(ProviderLocalOnce, FactoryConfig{Routes: routes, LocalDiskDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if b.Name() != ProviderLocalOnce {
		t.Fatalf("expected local-once, got %s", b.Name())
	}
}

func TestFactoryFromEnvDefaultsToLocalOnce(t *testing.T) {
	os.Unsetenv(EnvProvider)
	b, err := NewFromEnv(FactoryConfig{Routes: routetable.New(), LocalDiskDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new from env: %v", err)
	}
	if b.Name() != ProviderLocalOnce {
		t.Fatalf("expected default local-once, got %s", b.Name())
	}
}
