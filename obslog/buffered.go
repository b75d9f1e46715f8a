package obslog

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, keyed by namespace, for tests and
// for short-lived debugging sessions. Not for production use on long-running
// instances — it never evicts.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.Namespace] = append(b.events[event.Namespace], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of all events recorded for namespace, in emission order.
func (b *BufferedEmitter) History(namespace string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[namespace]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Clear removes events for namespace, or all events if namespace is empty.
func (b *BufferedEmitter) Clear(namespace string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if namespace == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, namespace)
}
