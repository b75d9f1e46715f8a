// Package obslog provides event emission and observability for workflow
// execution: the DAG evaluator, the workflow engine, the durable runtime, and
// the worker all emit through the same Emitter interface.
package obslog

// Event represents an observability event emitted during workflow execution.
//
// Events provide detailed insight into workflow behavior: stage start/finish,
// retries, placement decisions, checkpoint commits, and durable suspensions.
type Event struct {
	// Namespace is the ExecutionNamespace of the workflow instance that
	// emitted this event ("{app}-{engine_id}"). Empty for process-level events.
	Namespace string

	// Stage identifies which stage emitted this event. Empty for
	// workflow-level or engine-level events.
	Stage string

	// Msg is a short machine-matchable event name, e.g. "stage_start",
	// "stage_retry", "durable_suspend".
	Msg string

	// Meta contains additional structured data specific to this event, e.g.
	// "attempt", "call_cnt", "duration_ms", "error".
	Meta map[string]interface{}
}
