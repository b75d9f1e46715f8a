package dag

import "github.com/flowmesh/flowmesh/ferrors"

// StageInvoker dispatches a named stage call through whatever backend is
// active (local-once, cluster, or vendor FaaS — see the backend package). A
// Workflow never talks to a backend directly; it only knows this callback.
type StageInvoker func(stage string, params map[string]any) (any, error)

// Workflow is the fluent builder API exposed to user code. It owns one DAG
// arena and an optional set of declared default inputs.
type Workflow struct {
	dag      *DAG
	invoke   StageInvoker
	event    map[string]any
	eventLD  map[string]*Lambda
	defaults map[string]any
}

// NewWorkflow creates a builder. invoke realizes Call against the active
// backend; pass nil if the workflow only ever uses Func nodes.
func NewWorkflow(invoke StageInvoker) *Workflow {
	return &Workflow{
		dag:      New(),
		invoke:   invoke,
		eventLD:  make(map[string]*Lambda),
		defaults: make(map[string]any),
	}
}

// DAG exposes the underlying arena, e.g. for Validate() or the Evaluator.
func (w *Workflow) DAG() *DAG { return w.dag }

// Call emits a ControlNode that invokes stage via the active backend with
// params (literal or *Lambda values) and returns a Lambda for its result.
func (w *Workflow) Call(stage string, params map[string]any) (*Lambda, error) {
	if w.invoke == nil {
		return nil, ferrors.New(ferrors.KindUnknownStage, stage, nil)
	}
	keys := sortedKeys(params)
	callable := func(args map[string]any) (any, error) {
		return w.invoke(stage, args)
	}
	return w.dag.emitControlNode(callable, keys, params)
}

// Func emits a ControlNode whose callable is fn, applied to literal/Lambda params.
func (w *Workflow) Func(fn func(map[string]any) (any, error), params map[string]any) (*Lambda, error) {
	keys := sortedKeys(params)
	return w.dag.emitControlNode(fn, keys, params)
}

// Event returns the workflow-input Lambda for key, creating it (with the
// given default) on first access. A key with neither an event value nor a
// default fails at Execute time with *MissingInput.
func (w *Workflow) Event(key string, def any) *Lambda {
	if ld, ok := w.eventLD[key]; ok {
		return ld
	}
	dn := w.dag.newDataNode()
	ld := w.dag.newLambda(dn)
	w.eventLD[key] = ld
	w.defaults[key] = def
	return ld
}

// EndWith marks ld as the DAG's terminal node.
func (w *Workflow) EndWith(ld *Lambda) error {
	return w.dag.MarkTerminal(ld)
}

// Execute binds root DataNodes from event (falling back to declared
// defaults), validates the DAG, and runs the Evaluator to completion,
// returning the terminal Lambda's value.
func (w *Workflow) Execute(event map[string]any) (any, error) {
	for key, ld := range w.eventLD {
		dn := &w.dag.dataNodes[ld.dataNode]
		if dn.ready {
			continue
		}
		if v, ok := event[key]; ok {
			dn.value = v
			dn.ready = true
			continue
		}
		if def, ok := w.defaults[key]; ok && def != nil {
			dn.value = def
			dn.ready = true
			continue
		}
		return nil, ferrors.New(ferrors.KindMissingInput, key, nil)
	}

	if err := w.dag.Validate(); err != nil {
		return nil, err
	}

	return Evaluate(w.dag)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion order doesn't matter for correctness (ControlNode fires once
	// all inbound DataNodes are ready regardless of key order); a stable
	// deterministic order is still useful for reproducible callable arg
	// iteration in tests, so sort lexically.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
