// Package worker hosts one stage's handler (spec.md §4.5): it receives
// invocations over HTTP, dedups retries by StageInvocation id/call_cnt,
// executes the user handler through a bounded pool, and writes the result
// to the shared Store. A companion cache.TCPServer (package cache) serves
// the fast same-node read path.
//
// Grounded on graph/tool/http.go's HTTP-client idiom for the request/reply
// shape. Worker construction takes a plain Options struct.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/cache"
	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/metrics"
	"github.com/flowmesh/flowmesh/obslog"
	"github.com/flowmesh/flowmesh/routetable"
	"github.com/flowmesh/flowmesh/store"
)

// buffered holds the latest StageInvocation received for one id, dedup'd by
// "newer call_cnt wins" (spec.md §4.5 "Dedup rule"). Worker.running tracks ids
// currently running so a buffered update never preempts an in-flight call;
// the executor reads the latest buffered record by id when it begins.
type buffered struct {
	inv *engine.StageInvocation
}

// Options configures a Worker.
type Options struct {
	Parallelism int           // bounded thread pool size (spec.md §5)
	CacheBytes  int           // WorkerCache MaxBytes, 0 = unbounded
	CacheAddr   string        // TCP cache server bind address; New does not read it and starts no TCP server
	PollTimeout time.Duration // default GetWait timeout for storage.get
}

// DefaultOptions returns the worker's baseline configuration.
func DefaultOptions() Options {
	return Options{Parallelism: 8, PollTimeout: 5 * time.Second}
}

// Worker hosts one stage. Its ServeHTTP method is the Worker HTTP request
// dispatcher for the four request types in spec.md §4.5.
type Worker struct {
	Stage   string
	Routes  *routetable.RouteTable
	Store   store.Store
	Cache   *cache.WorkerCache
	TCP     *cache.TCPServer
	Opts    Options
	Emitter obslog.Emitter
	Metrics *metrics.Recorder

	mu       sync.Mutex
	pending  map[string]*buffered // id -> latest buffered invocation
	running  map[string]bool      // id -> currently executing
	sem      chan struct{}
}

// New constructs a Worker hosting stage, dispatching through routes.
func New(stage string, routes *routetable.RouteTable, st store.Store, opts Options) *Worker {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultOptions().Parallelism
	}
	w := &Worker{
		Stage:   stage,
		Routes:  routes,
		Store:   st,
		Cache:   cache.New(opts.CacheBytes),
		Opts:    opts,
		Emitter: obslog.NewNullEmitter(),
		pending: make(map[string]*buffered),
		running: make(map[string]bool),
		sem:     make(chan struct{}, opts.Parallelism),
	}
	return w
}

func (w *Worker) emit(msg string, meta map[string]interface{}) {
	if w.Emitter == nil {
		return
	}
	w.Emitter.Emit(obslog.Event{Stage: w.Stage, Msg: msg, Meta: meta})
}

// HandleLambdaCall enqueues inv for execution, applying the dedup rule: if
// an invocation with this id is already buffered or running and inv's
// CallCnt is not strictly greater, the new one is dropped. A strictly
// higher CallCnt replaces the buffered record but never preempts an
// in-flight execution — the executor re-reads the latest buffered record
// by id at dispatch time.
func (w *Worker) HandleLambdaCall(inv *engine.StageInvocation) {
	w.mu.Lock()
	if existing, ok := w.pending[inv.ID]; ok && existing.inv.CallCnt >= inv.CallCnt {
		w.mu.Unlock()
		return
	}
	w.pending[inv.ID] = &buffered{inv: inv}
	alreadyRunning := w.running[inv.ID]
	w.mu.Unlock()

	if alreadyRunning {
		return
	}

	select {
	case w.sem <- struct{}{}:
	default:
		go func() {
			w.sem <- struct{}{}
			w.runLatest(inv.ID)
		}()
		return
	}
	go w.runLatest(inv.ID)
}

// runLatest re-reads the latest buffered invocation for id (it may differ
// from the one that triggered dispatch, if a newer retry raced in) and
// executes it. If a still-newer retry was buffered while this one ran (the
// controller reclassified the prior attempt as FAILURE and re-dispatched
// before this handler returned), it loops to execute that one too, rather
// than preempting the in-flight call (spec.md §4.5 "Dedup rule").
func (w *Worker) runLatest(id string) {
	defer func() { <-w.sem }()

	w.mu.Lock()
	w.running[id] = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.running, id)
		w.mu.Unlock()
	}()

	for {
		w.mu.Lock()
		b, ok := w.pending[id]
		if ok {
			delete(w.pending, id)
		}
		w.mu.Unlock()
		if !ok {
			return
		}
		w.execute(b.inv)
	}
}

// execute runs the stage handler and writes its Ok/Err result to Store
// under inv.ResultKey() (spec.md §4.5 "On completion"). Workers never reply
// with results inline; the controller's poll loop reads this key.
func (w *Worker) execute(inv *engine.StageInvocation) {
	start := time.Now()
	w.emit("stage_start", map[string]interface{}{"id": inv.ID, "call_cnt": inv.CallCnt})

	handler, err := w.Routes.Route(inv.Stage)
	if err != nil {
		w.writeResult(inv, nil, err)
		return
	}

	result, err := handler(inv.Params)
	if w.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		w.Metrics.RecordStageLatency(inv.Stage, status, time.Since(start))
	}
	w.writeResult(inv, result, err)
}

func (w *Worker) writeResult(inv *engine.StageInvocation, result any, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var body []byte
	if err != nil {
		body = engine.EncodeErrResult(err.Error())
		w.emit("stage_error", map[string]interface{}{"id": inv.ID, "error": err.Error()})
	} else {
		payload, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			body = engine.EncodeErrResult(marshalErr.Error())
		} else {
			body = engine.EncodeOkResult(payload)
			w.emit("stage_done", map[string]interface{}{"id": inv.ID})
		}
	}

	_ = w.Store.Put(ctx, inv.ResultKey(), body)
}

// HandleCachePut inserts value into the worker cache under key (spec.md
// §4.5 "cache-put").
func (w *Worker) HandleCachePut(key string, value []byte) {
	w.Cache.Put(key, value)
}

// HandleCacheGet returns the cached value for key, or *MissingEntry if
// absent (spec.md §4.5 "cache-get").
func (w *Worker) HandleCacheGet(key string) ([]byte, error) {
	if v, ok := w.Cache.Get(key); ok {
		return v, nil
	}
	return nil, ferrors.New(ferrors.KindMissingEntry, key, nil)
}

// HandleCacheClear evicts every cache entry with the given prefix (spec.md
// §4.5 "cache-clear").
func (w *Worker) HandleCacheClear(prefix string) {
	w.Cache.ClearPrefix(prefix)
}
