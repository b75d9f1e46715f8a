package obslog

import "context"

// Emitter receives and processes observability events.
//
// Implementations should be non-blocking and thread-safe: the DAG evaluator,
// engine poll loop, and worker handlers may all emit concurrently.
type Emitter interface {
	// Emit sends a single observability event. Must not panic or block.
	Emit(event Event)

	// EmitBatch sends multiple events in one call, preserving order.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events are delivered, or ctx expires.
	Flush(ctx context.Context) error
}
