package durable

import (
	"context"
	"testing"

	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/store"
)

func addCall(target string, params map[string]any) (any, error) {
	lhs := params["lhs"].(float64)
	rhs := params["rhs"].(float64)
	return map[string]any{"res": lhs + rhs}, nil
}

func workeraddChain(rc *RunContext) (any, error) {
	r1, err := rc.Call("workeradd", map[string]any{"lhs": 1.0, "rhs": 2.0})
	if err != nil {
		return nil, err
	}
	r1v := r1.(map[string]any)["res"].(float64)
	r2, err := rc.Call("workeradd", map[string]any{"lhs": r1v, "rhs": 3.0})
	if err != nil {
		return nil, err
	}
	r2v := r2.(map[string]any)["res"].(float64)
	r3, err := rc.Call("workeradd", map[string]any{"lhs": r2v, "rhs": 4.0})
	if err != nil {
		return nil, err
	}
	return r3, nil
}

// TestDurableChainAllSynchronous grounds spec.md §8 scenario 3's inner
// durChain shape: three chained workeradd calls, fully synchronous, which
// must complete without ever suspending and leave every action completed.
func TestDurableChainAllSynchronous(t *testing.T) {
	st := store.NewMemStore()
	rt := NewRuntime(st)

	call := func(target string, params map[string]any) (any, bool, error) {
		v, err := addCall(target, params)
		return v, true, err
	}

	value, waiting, err := rt.Run(context.Background(), "inst-1", workeraddChain, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if waiting != nil {
		t.Fatalf("did not expect suspension, got %+v", waiting)
	}
	res := value.(map[string]any)["res"].(float64)
	if res != 10 {
		t.Fatalf("expected res=10 (1+2=3, 3+3=6, 6+4=10), got %v", res)
	}

	raw, err := st.Get(context.Background(), StateKey("inst-1"))
	if err != nil {
		t.Fatalf("expected persisted log: %v", err)
	}
	var log DurableActionLog
	if err := log.Unmarshal(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(log.Actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(log.Actions))
	}
	if !log.allCompleted() {
		t.Fatalf("expected all actions completed, got %+v", log.Actions)
	}
}

// TestDurableSuspendAndResume grounds spec.md §4.8's suspension/replay
// contract: an async call suspends, and a later CompleteAction + re-Run
// resumes from the cached prefix without re-dispatching it.
func TestDurableSuspendAndResume(t *testing.T) {
	st := store.NewMemStore()
	rt := NewRuntime(st)

	var dispatches int
	call := func(target string, params map[string]any) (any, bool, error) {
		dispatches++
		if dispatches == 1 {
			return nil, false, nil // first call suspends
		}
		v, err := addCall(target, params)
		return v, true, err
	}

	value, waiting, err := rt.Run(context.Background(), "inst-2", workeraddChain, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if waiting == nil {
		t.Fatal("expected suspension on first call")
	}
	if value != nil {
		t.Fatalf("expected nil value on suspend, got %v", value)
	}
	if dispatches != 1 {
		t.Fatalf("expected exactly 1 dispatch before suspend, got %d", dispatches)
	}

	// Deliver the first call's result out of band.
	if err := rt.CompleteAction(context.Background(), "inst-2", waiting.PendingPC, map[string]any{"res": 3.0}, nil); err != nil {
		t.Fatalf("complete action: %v", err)
	}

	value, waiting, err = rt.Run(context.Background(), "inst-2", workeraddChain, call, nil)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if waiting != nil {
		t.Fatalf("did not expect second suspension, got %+v", waiting)
	}
	res := value.(map[string]any)["res"].(float64)
	if res != 10 {
		t.Fatalf("expected res=10, got %v", res)
	}
	// Only 2 more dispatches happened (actions at pc 1 and 2) — action 0 was
	// replayed from the cached completed entry, never re-dispatched.
	if dispatches != 3 {
		t.Fatalf("expected 3 total dispatches (1 suspend + 2 new), got %d", dispatches)
	}
}

func TestDurableFailurePropagates(t *testing.T) {
	st := store.NewMemStore()
	rt := NewRuntime(st)

	call := func(target string, params map[string]any) (any, bool, error) {
		return nil, true, ferrors.New(ferrors.KindStageFailure, target, nil)
	}

	_, waiting, err := rt.Run(context.Background(), "inst-3", workeraddChain, call, nil)
	if err == nil {
		t.Fatal("expected propagated stage failure")
	}
	if waiting != nil {
		t.Fatal("a failure is not a suspension")
	}
}
