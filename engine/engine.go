package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/metrics"
	"github.com/flowmesh/flowmesh/obslog"
	"github.com/flowmesh/flowmesh/store"
)

// ExecFunc launches one remote invocation of a stage and returns its fresh
// StageInvocation record (CallTime set, Retval unset). Realized over the
// abstract Invoker collaborator by the cluster backend adapter.
type ExecFunc func() (*StageInvocation, error)

// TimerTask is one pre-warm timer: Fn runs once, Delay after engine start,
// with at-most-once semantics guarded by the engine's launched-stage map
// (spec.md §4.4 "Timer tasks").
type TimerTask struct {
	Delay time.Duration
	Stage string
	Fn    func()
}

// Engine runs one workflow instance across remote stage workers (spec.md
// §4.4). One Engine exists per concurrent request; engines share a Store
// proxy and the Deployer but hold no other mutable state in common.
type Engine struct {
	Namespace    ExecutionNamespace
	Dependencies map[string][]string // stage -> prerequisite stages
	ExecFuncs    map[string]ExecFunc
	Timers       []TimerTask
	Store        store.Store
	Opts         Options
	Emitter      obslog.Emitter
	Metrics      *metrics.Recorder

	mu          sync.Mutex
	state       map[string]StageState
	invocations map[string]*StageInvocation
	failures    int
	launched    map[string]bool
}

// New constructs an Engine. dependencies and execFuncs must share the same
// key set (every stage the engine tracks).
func New(ns ExecutionNamespace, dependencies map[string][]string, execFuncs map[string]ExecFunc, st store.Store, opts ...Option) *Engine {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	state := make(map[string]StageState, len(execFuncs))
	for stage := range execFuncs {
		state[stage] = StagePending
	}
	return &Engine{
		Namespace:    ns,
		Dependencies: dependencies,
		ExecFuncs:    execFuncs,
		Store:        st,
		Opts:         o,
		Emitter:      obslog.NewNullEmitter(),
		state:        state,
		invocations:  make(map[string]*StageInvocation),
		launched:     make(map[string]bool),
	}
}

func (e *Engine) emit(msg, stage string, meta map[string]interface{}) {
	if e.Emitter == nil {
		return
	}
	e.Emitter.Emit(obslog.Event{Namespace: string(e.Namespace), Stage: stage, Msg: msg, Meta: meta})
}

// Run drives the controller loop to completion: poll, reclassify, dispatch,
// sleep, repeat, until every stage is SUCCESS, the failure tolerance is
// breached, or the outer join timeout elapses. Pre-warm timers start
// immediately and run independently of the main loop.
//
// On success, Run performs namespace cleanup: cache-clear broadcast is the
// caller's responsibility (it requires the worker addresses, which the
// cluster backend owns); Run itself dumps final outputs (if configured) and
// deletes every Store key under the namespace prefix.
func (e *Engine) Run(ctx context.Context) error {
	for _, t := range e.Timers {
		e.startTimer(t)
	}

	deadline := time.Now().Add(e.Opts.JoinTimeout)
	for {
		if time.Now().After(deadline) {
			return ferrors.New(ferrors.KindJoinTimeout, string(e.Namespace), nil)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.allSuccess() {
			return e.cleanup(ctx)
		}

		if err := e.pollExecuting(ctx); err != nil {
			return err
		}
		e.reclassifyTimeouts()
		if err := e.dispatchReady(); err != nil {
			return err
		}
		if e.failures >= e.Opts.FailureTolerance {
			return ferrors.New(ferrors.KindToleranceExceeded, string(e.Namespace), nil)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Opts.PollInterval):
		}
	}
}

func (e *Engine) startTimer(t TimerTask) {
	go func(t TimerTask) {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		<-timer.C
		e.mu.Lock()
		if e.launched[t.Stage] {
			e.mu.Unlock()
			return
		}
		e.launched[t.Stage] = true
		e.mu.Unlock()
		t.Fn()
	}(t)
}

func (e *Engine) allSuccess() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.state {
		if s != StageSuccess {
			return false
		}
	}
	return true
}

// pollExecuting does a non-blocking Store.Get of "{uid}-result" for every
// EXECUTING stage (spec.md §4.4 step 1). The engine never blocks this poll
// — GetWait/blocking reads are for storage.get(timeout) inside a handler,
// not for the controller loop (spec.md §3 StageInvocation doc).
func (e *Engine) pollExecuting(ctx context.Context) error {
	e.mu.Lock()
	executing := make([]string, 0)
	for stage, s := range e.state {
		if s == StageExecuting {
			executing = append(executing, stage)
		}
	}
	e.mu.Unlock()

	for _, stage := range executing {
		e.mu.Lock()
		inv := e.invocations[stage]
		e.mu.Unlock()
		if inv == nil {
			continue
		}

		raw, err := e.Store.Get(ctx, inv.ResultKey())
		if err != nil {
			continue // not yet written
		}

		ok, _ := DecodeResult(raw)

		e.mu.Lock()
		inv.FinishTime = time.Now()
		if !ok {
			inv.Retval = RetvalErr
			e.state[stage] = StageFailure
			e.failures++
			if e.Metrics != nil {
				e.Metrics.IncrementStageRetries(stage, "stage_failure")
			}
			e.emit("stage_failure", stage, map[string]interface{}{"uid": inv.UniqueExecutionID})
		} else {
			inv.Retval = RetvalOk
			e.state[stage] = StageSuccess
			if e.Metrics != nil {
				e.Metrics.RecordStageLatency(stage, "success", inv.FinishTime.Sub(inv.CallTime))
			}
			e.emit("stage_success", stage, map[string]interface{}{"uid": inv.UniqueExecutionID})
		}
		e.mu.Unlock()
	}
	return nil
}

// reclassifyTimeouts treats an EXECUTING stage whose deadline has passed as
// FAILURE (spec.md §4.4 step 2, §7 StageTimeout == StageFailure).
func (e *Engine) reclassifyTimeouts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for stage, s := range e.state {
		if s != StageExecuting {
			continue
		}
		inv := e.invocations[stage]
		if inv == nil {
			continue
		}
		if now.Sub(inv.CallTime) > e.Opts.ExecutingTimeout {
			e.state[stage] = StageFailure
			e.failures++
			if e.Metrics != nil {
				e.Metrics.IncrementStageRetries(stage, "timeout")
			}
			e.emit("stage_timeout", stage, map[string]interface{}{"uid": inv.UniqueExecutionID})
		}
	}
}

// dispatchReady invokes exec_func for every PENDING stage whose
// dependencies are all SUCCESS (spec.md §4.4 step 3), including stages
// returning from FAILURE to PENDING.
func (e *Engine) dispatchReady() error {
	e.mu.Lock()
	for stage, s := range e.state {
		if s == StageFailure {
			e.state[stage] = StagePending
		}
	}
	ready := make([]string, 0)
	for stage, s := range e.state {
		if s != StagePending {
			continue
		}
		if e.depsSatisfied(stage) {
			ready = append(ready, stage)
		}
	}
	e.mu.Unlock()

	for _, stage := range ready {
		inv, err := e.ExecFuncs[stage]()
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.state[stage] = StageExecuting
		e.invocations[stage] = inv
		e.mu.Unlock()
		if e.Metrics != nil {
			e.Metrics.SetEnginePollDepth(string(e.Namespace), e.inflightCount())
		}
		e.emit("stage_dispatch", stage, map[string]interface{}{"call_cnt": inv.CallCnt})
	}
	return nil
}

func (e *Engine) depsSatisfied(stage string) bool {
	for _, dep := range e.Dependencies[stage] {
		if e.state[dep] != StageSuccess {
			return false
		}
	}
	return true
}

func (e *Engine) inflightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.state {
		if s != StageSuccess {
			n++
		}
	}
	return n
}

// cleanup dumps final outputs (if configured) and deletes every Store key
// under the namespace prefix (spec.md §4.4 "Post-run", §8 "Namespace
// isolation"). cache-clear broadcast to workers is issued by the cluster
// backend, which alone knows worker addresses.
func (e *Engine) cleanup(ctx context.Context) error {
	if e.Opts.GetOutputs {
		if err := e.dumpFinalOutputs(ctx); err != nil {
			return err
		}
	}
	return e.Store.DeletePrefix(ctx, e.Namespace.Prefix())
}

func (e *Engine) dumpFinalOutputs(ctx context.Context) error {
	entries, err := e.Store.ScanPrefix(ctx, e.Namespace.FinalOutputsPrefix())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.Opts.OutputsDir, 0o755); err != nil {
		return err
	}
	for key, value := range entries {
		name := filepath.Base(key)
		if err := os.WriteFile(filepath.Join(e.Opts.OutputsDir, name), value, 0o644); err != nil {
			return err
		}
	}
	return nil
}
