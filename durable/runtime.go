package durable

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/metrics"
	"github.com/flowmesh/flowmesh/obslog"
	"github.com/flowmesh/flowmesh/store"
)

// CallFunc dispatches one remote call. ready=true means value is the
// synchronously-obtained result; ready=false means the call was dispatched
// but has not yet completed (the cluster backend's async path) — the
// RunContext raises DurableSuspend in that case rather than blocking.
type CallFunc func(target string, params map[string]any) (value any, ready bool, err error)

// TellFunc dispatches a fire-and-forget invocation (spec.md §9 Open
// Questions: tell is pinned to fire-and-forget — see SPEC_FULL.md §9).
type TellFunc func(target string, params map[string]any) error

// OrchestratorFunc is a sequential user function issuing Call/Tell through
// rc. It is re-invoked from the top on every replay; completed actions
// return their cached result without side effects.
type OrchestratorFunc func(rc *RunContext) (any, error)

// RunContext is the trampoline a durable orchestrator function drives
// itself through. Each Call/Tell call first consults the action log by
// position; only the first not-yet-completed action actually reaches the
// backend.
type RunContext struct {
	log    *DurableActionLog
	cursor int
	call   CallFunc
	tell   TellFunc
}

// Call looks up the log entry at the current cursor: if completed, returns
// its cached result without contacting the backend. Otherwise it dispatches
// through call. A synchronous result is recorded completed immediately; an
// asynchronous dispatch raises *ferrors.DurableSuspend (spec.md §4.8).
func (rc *RunContext) Call(target string, params map[string]any) (any, error) {
	pc := rc.cursor
	if a := rc.log.at(pc); a != nil && a.Status == StatusCompleted {
		rc.cursor++
		var v any
		if err := json.Unmarshal(a.Result, &v); err != nil {
			return nil, err
		}
		return v, nil
	}

	if rc.log.at(pc) == nil {
		rc.log.append(Action{Kind: ActionCall, Target: target, Params: params, Status: StatusPending})
	}

	value, ready, err := rc.call(target, params)
	if err != nil {
		rc.log.fail(pc, err.Error())
		return nil, err
	}
	if !ready {
		return nil, &ferrors.DurableSuspend{ActionPC: pc}
	}
	if err := rc.log.complete(pc, value); err != nil {
		return nil, err
	}
	rc.cursor++
	return value, nil
}

// Tell dispatches target fire-and-forget. Because it never awaits a result,
// it completes in the log the instant dispatch succeeds — it can never be
// the suspension point.
func (rc *RunContext) Tell(target string, params map[string]any) error {
	pc := rc.cursor
	if a := rc.log.at(pc); a != nil && a.Status == StatusCompleted {
		rc.cursor++
		return nil
	}
	if rc.log.at(pc) == nil {
		rc.log.append(Action{Kind: ActionTell, Target: target, Params: params, Status: StatusPending})
	}
	if err := rc.tell(target, params); err != nil {
		rc.log.fail(pc, err.Error())
		return err
	}
	if err := rc.log.complete(pc, nil); err != nil {
		return err
	}
	rc.cursor++
	return nil
}

// Runtime drives orchestrator functions through checkpoint/replay over a
// Store, and fans out completion to callers awaiting an instance via
// WaitingResult (spec.md §4.8 "Completion propagates ... any caller
// awaiting that id receives the result exactly once").
type Runtime struct {
	Store   store.Store
	Emitter obslog.Emitter
	Metrics *metrics.Recorder

	waiting *waitingResults
}

// NewRuntime constructs a Runtime backed by st.
func NewRuntime(st store.Store) *Runtime {
	return &Runtime{Store: st, Emitter: obslog.NewNullEmitter(), waiting: newWaitingResults()}
}

// Run loads instanceID's persisted log (an empty one if none exists),
// drives fn to completion or suspension, and checkpoints the log before
// returning (spec.md §5 "Durable action log entries are persisted before
// the handler returns to its caller on each action boundary").
//
// On suspension it returns a *WaitingResult handle and a nil error — per
// spec.md §4.8, DurableSuspend is not an error. On successful completion it
// posts the result to any caller parked in Await for this instance.
func (r *Runtime) Run(ctx context.Context, instanceID string, fn OrchestratorFunc, call CallFunc, tell TellFunc) (result any, waiting *WaitingResult, err error) {
	log, err := r.load(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	rc := &RunContext{log: log, call: call, tell: tell}
	value, fnErr := fn(rc)

	if suspend, ok := ferrors.IsDurableSuspend(fnErr); ok {
		suspend.InstanceID = instanceID
		if err := r.checkpoint(ctx, instanceID, log); err != nil {
			return nil, nil, err
		}
		if r.Metrics != nil {
			r.Metrics.IncrementDurableSuspensions(instanceID)
		}
		r.emit("durable_suspend", instanceID, map[string]interface{}{"pc": suspend.ActionPC})
		return nil, &WaitingResult{InstanceID: instanceID, PendingPC: suspend.ActionPC}, nil
	}

	if err := r.checkpoint(ctx, instanceID, log); err != nil {
		return nil, nil, err
	}

	if fnErr != nil {
		r.waiting.post(instanceID, nil, fnErr)
		return nil, nil, fnErr
	}

	r.emit("durable_complete", instanceID, map[string]interface{}{"actions": len(log.Actions)})
	r.waiting.post(instanceID, value, nil)
	return value, nil, nil
}

// CompleteAction marks the action at pc completed with value (or failed
// with err), checkpoints, and is the precondition for resuming instanceID
// via Run — the caller (typically a worker's result-delivery path) calls
// this, then Run again, per spec.md §4.8's replay contract: "the durable
// runtime marks action taskpc-1 = completed with the arriving value, then
// re-invokes the user function from the top."
func (r *Runtime) CompleteAction(ctx context.Context, instanceID string, pc int, value any, callErr error) error {
	log, err := r.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if callErr != nil {
		log.fail(pc, callErr.Error())
	} else if err := log.complete(pc, value); err != nil {
		return err
	}
	return r.checkpoint(ctx, instanceID, log)
}

func (r *Runtime) load(ctx context.Context, instanceID string) (*DurableActionLog, error) {
	raw, err := r.Store.Get(ctx, StateKey(instanceID))
	if err != nil {
		return &DurableActionLog{}, nil
	}
	log := &DurableActionLog{}
	if err := log.Unmarshal(raw); err != nil {
		return nil, err
	}
	return log, nil
}

func (r *Runtime) checkpoint(ctx context.Context, instanceID string, log *DurableActionLog) error {
	data, err := log.Marshal()
	if err != nil {
		return err
	}
	return r.Store.Put(ctx, StateKey(instanceID), data)
}

func (r *Runtime) emit(msg, instanceID string, meta map[string]interface{}) {
	if r.Emitter == nil {
		return
	}
	r.Emitter.Emit(obslog.Event{Namespace: instanceID, Msg: msg, Meta: meta})
}

// Await blocks until instanceID's orchestrator completes (successfully or
// with error) or ctx is done.
func (r *Runtime) Await(ctx context.Context, instanceID string) (any, error) {
	return r.waiting.await(ctx, instanceID)
}

// WaitingResult is the handle a durable handler returns instead of a value
// when the orchestrator suspends mid-flight (spec.md §4.8).
type WaitingResult struct {
	InstanceID string
	PendingPC  int
}

// waitingResults is a per-process registry of orchestrator completions,
// keyed by instance id, delivered exactly once to whichever caller is
// parked in await (spec.md §4.8, §5 "Callers reading from a WaitingResult
// queue block until a value or process exit").
type waitingResults struct {
	mu    sync.Mutex
	chans map[string]chan result
}

type result struct {
	value any
	err   error
}

func newWaitingResults() *waitingResults {
	return &waitingResults{chans: make(map[string]chan result)}
}

func (w *waitingResults) chanFor(instanceID string) chan result {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.chans[instanceID]
	if !ok {
		ch = make(chan result, 1)
		w.chans[instanceID] = ch
	}
	return ch
}

func (w *waitingResults) post(instanceID string, value any, err error) {
	ch := w.chanFor(instanceID)
	select {
	case ch <- result{value: value, err: err}:
	default:
		// Already posted (or a late duplicate) — exactly-once delivery, no
		// second writer blocks.
	}
}

func (w *waitingResults) await(ctx context.Context, instanceID string) (any, error) {
	ch := w.chanFor(instanceID)
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
