package obslog

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogEmitterTextMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	e.Emit(Event{Namespace: "app-1", Stage: "billing", Msg: "stage_start"})

	out := buf.String()
	if !strings.Contains(out, "[stage_start]") || !strings.Contains(out, "ns=app-1") || !strings.Contains(out, "stage=billing") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)
	e.Emit(Event{Namespace: "app-1", Stage: "billing", Msg: "stage_start", Meta: map[string]interface{}{"attempt": 1}})

	out := buf.String()
	if !strings.Contains(out, `"msg":"stage_start"`) || !strings.Contains(out, `"attempt":1`) {
		t.Fatalf("unexpected json output: %q", out)
	}
}

func TestLogEmitterEmitBatchPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	events := []Event{
		{Msg: "a"}, {Msg: "b"}, {Msg: "c"},
	}
	if err := e.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch returned error: %v", err)
	}
	out := buf.String()
	ia, ib, ic := strings.Index(out, "[a]"), strings.Index(out, "[b]"), strings.Index(out, "[c]")
	if !(ia < ib && ib < ic) {
		t.Fatalf("events not in order: %q", out)
	}
}

func TestNullEmitterDiscardsEverything(t *testing.T) {
	n := NewNullEmitter()
	n.Emit(Event{Msg: "x"})
	if err := n.EmitBatch(context.Background(), []Event{{Msg: "y"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBufferedEmitterHistoryAndClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Namespace: "app-1", Msg: "stage_start"})
	b.Emit(Event{Namespace: "app-1", Msg: "stage_end"})
	b.Emit(Event{Namespace: "app-2", Msg: "stage_start"})

	hist := b.History("app-1")
	if len(hist) != 2 {
		t.Fatalf("expected 2 events for app-1, got %d", len(hist))
	}

	b.Clear("app-1")
	if len(b.History("app-1")) != 0 {
		t.Fatalf("expected app-1 history cleared")
	}
	if len(b.History("app-2")) != 1 {
		t.Fatalf("expected app-2 history untouched")
	}
}
