// Package engine implements the distributed workflow engine (spec.md §4.4,
// §5): the controller side of the cluster ("pku") backend. One Engine runs
// one workflow instance across remote stage workers, tracking per-stage
// status through a shared Store, retrying transient failures, enforcing
// timeouts, and co-scheduling pre-warm timers.
//
// Grounded on graph/scheduler.go's frontier/heap idiom for deterministic,
// poll-driven readiness tracking, and on the mbflow executor's
// Plan -> Execute -> Finalize phase split (other_examples).
package engine

import (
	"fmt"
	"time"
)

// TransportMode selects how two colocated stages exchange data (spec.md §3,
// §4.6).
type TransportMode string

const (
	// TransportAllRedis routes every inter-stage transfer through the Store.
	TransportAllRedis TransportMode = "allRedis"
	// TransportAllTCP routes every inter-stage transfer through the raw TCP
	// worker-cache server.
	TransportAllTCP TransportMode = "allTCP"
	// TransportAuto routes through the worker cache when two stages share a
	// node, and through the Store otherwise.
	TransportAuto TransportMode = "auto"
)

// Address is the (ip, port, cache_port) triple the Deployer yields for one
// deployed stage.
type Address struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	CachePort int    `json:"cache_port"`
}

// ExecutionNamespace is the "{app}-{engine_id}" prefix scoping every Store
// key produced by one workflow instance (spec.md §3, §6).
type ExecutionNamespace string

// NewNamespace builds an ExecutionNamespace for one engine instance of app.
func NewNamespace(app, engineID string) ExecutionNamespace {
	return ExecutionNamespace(app + "-" + engineID)
}

// Prefix returns the Store key prefix for stage-scoped shared data under
// this namespace ("{namespace}-").
func (ns ExecutionNamespace) Prefix() string {
	return string(ns) + "-"
}

// Key returns the namespaced Store key for a user-chosen key.
func (ns ExecutionNamespace) Key(userKey string) string {
	return ns.Prefix() + userKey
}

// FinalOutputsPrefix returns the Store key prefix for final workflow
// outputs under this namespace.
func (ns ExecutionNamespace) FinalOutputsPrefix() string {
	return ns.Prefix() + "__final_outputs__"
}

// FinalOutputKey returns the namespaced key for one final-output entry.
func (ns ExecutionNamespace) FinalOutputKey(userKey string) string {
	return ns.FinalOutputsPrefix() + userKey
}

// Retval is the status of one StageInvocation attempt.
type Retval int

const (
	// RetvalUnset means the invocation has neither succeeded nor failed yet.
	RetvalUnset Retval = iota
	RetvalOk
	RetvalErr
)

// StageInvocation (spec.md §3 "Metadata") is the per-try record the
// controller hands to exec_func and polls for completion.
type StageInvocation struct {
	// ID is "{ns}-{stage}-{rand}", stable across retries of the same stage
	// within one engine.
	ID string
	// Stage is the target stage name.
	Stage string
	// Namespace is the owning engine's ExecutionNamespace.
	Namespace ExecutionNamespace
	// CallCnt counts RemoteCall invocations of this id; bumped each retry.
	CallCnt int
	// UniqueExecutionID is "{id}-uid-{call_cnt}", the Store key prefix for
	// this attempt's result.
	UniqueExecutionID string
	// Retval is this attempt's outcome, polled from Store.
	Retval Retval
	// CallTime and FinishTime bound this attempt's wall-clock window.
	CallTime   time.Time
	FinishTime time.Time
	// Params are the stage's input arguments.
	Params map[string]any
	// Schedule maps stage name -> Address, as assigned by the placement
	// planner / Deployer, so the worker can resolve sibling addresses for
	// direct worker-cache transport.
	Schedule map[string]Address
	// TransMode is the active TransportMode for this invocation.
	TransMode TransportMode
	// RemoteCallTimeout bounds how long the Invoker retries one POST.
	RemoteCallTimeout time.Duration
	// PostRatio throttles active-send fan-out (spec.md §6 --post_ratio);
	// 1.0 means every destination receives an active cache-put.
	PostRatio float64
}

// ResultKey returns the Store key the worker writes its Ok/Err result to,
// and the controller polls.
func (si *StageInvocation) ResultKey() string {
	return si.UniqueExecutionID + "-result"
}

// Result wire encoding written by the worker under ResultKey() and read by
// the engine's poll loop (spec.md §4.5 "On completion"). "Ok:" prefixes a
// JSON-encoded return value; "Err:" prefixes a human-readable failure.
const (
	resultOkPrefix  = "Ok:"
	resultErrPrefix = "Err:"
)

// EncodeOkResult wraps a JSON-encoded return value as a successful result.
func EncodeOkResult(jsonValue []byte) []byte {
	return append([]byte(resultOkPrefix), jsonValue...)
}

// EncodeErrResult wraps an error message as a failed result.
func EncodeErrResult(msg string) []byte {
	return []byte(resultErrPrefix + msg)
}

// DecodeResult reports whether raw is an Ok result, and its payload (the
// JSON value on Ok, the message on Err).
func DecodeResult(raw []byte) (ok bool, payload []byte) {
	s := string(raw)
	switch {
	case len(s) >= len(resultOkPrefix) && s[:len(resultOkPrefix)] == resultOkPrefix:
		return true, raw[len(resultOkPrefix):]
	case len(s) >= len(resultErrPrefix) && s[:len(resultErrPrefix)] == resultErrPrefix:
		return false, raw[len(resultErrPrefix):]
	default:
		return false, raw
	}
}

// RemoteCall bumps CallCnt and resets Retval ahead of issuing (or
// re-issuing) a remote invocation.
func (si *StageInvocation) RemoteCall() {
	si.CallCnt++
	si.UniqueExecutionID = fmt.Sprintf("%s-uid-%d", si.ID, si.CallCnt)
	si.Retval = RetvalUnset
	si.CallTime = time.Now()
}

// StageState is one stage's position in the controller's per-request state
// machine (spec.md §4.4): PENDING -> EXECUTING -> (SUCCESS | FAILURE ->
// PENDING).
type StageState int

const (
	StagePending StageState = iota
	StageExecuting
	StageSuccess
	StageFailure
)

func (s StageState) String() string {
	switch s {
	case StagePending:
		return "PENDING"
	case StageExecuting:
		return "EXECUTING"
	case StageSuccess:
		return "SUCCESS"
	case StageFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}
