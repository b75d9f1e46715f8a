package dag

import (
	"reflect"
	"sort"
	"testing"
)

// scenario 1 (spec.md §8.1): chain add.
func TestChainAdd(t *testing.T) {
	invoke := func(stage string, params map[string]any) (any, error) {
		if stage != "workeradd" {
			return nil, nil
		}
		lhs := params["lhs"].(int)
		rhs := params["rhs"].(int)
		return map[string]any{"res": lhs + rhs}, nil
	}
	w := NewWorkflow(invoke)

	a, err := w.Call("workeradd", map[string]any{"lhs": 1, "rhs": 2})
	if err != nil {
		t.Fatalf("call a: %v", err)
	}
	aRes, err := a.Index("res")
	if err != nil {
		t.Fatalf("index a.res: %v", err)
	}
	b, err := w.Call("workeradd", map[string]any{"lhs": aRes, "rhs": 3})
	if err != nil {
		t.Fatalf("call b: %v", err)
	}
	if err := w.EndWith(b); err != nil {
		t.Fatalf("end_with: %v", err)
	}

	result, err := w.Execute(map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := result.(map[string]any)
	if got["res"] != 6 {
		t.Fatalf("expected res=6, got %v", got["res"])
	}
}

// scenario 2 (spec.md §8.2): fork/map/join wordcount.
func TestForkMapJoinWordcount(t *testing.T) {
	w := NewWorkflow(nil)

	textLd := w.Event("text", "")

	split := func(args map[string]any) (any, error) {
		s := args["self"].(string)
		words := []any{}
		cur := ""
		for _, r := range s + " " {
			if r == ' ' {
				if cur != "" {
					words = append(words, cur)
					cur = ""
				}
				continue
			}
			cur += string(r)
		}
		return words, nil
	}
	wordsLd, err := w.Func(split, map[string]any{"self": textLd})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	parts, err := wordsLd.Fork(3)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 forked parts, got %d", len(parts))
	}

	count := func(v any) (any, error) {
		words, err := asSlice(v)
		if err != nil {
			return nil, err
		}
		counts := map[string]int{}
		for _, wv := range words {
			counts[wv.(string)]++
		}
		out := make([]any, 0, len(counts))
		for word, n := range counts {
			out = append(out, []any{word, n})
		}
		return out, nil
	}
	counted, err := MapEach(parts, count)
	if err != nil {
		t.Fatalf("map each: %v", err)
	}

	sortDesc := func(flat []any) (any, error) {
		merged := map[string]int{}
		for _, pair := range flat {
			p := pair.([]any)
			merged[p[0].(string)] += p[1].(int)
		}
		type kv struct {
			word  string
			count int
		}
		list := make([]kv, 0, len(merged))
		for w, c := range merged {
			list = append(list, kv{w, c})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].count != list[j].count {
				return list[i].count > list[j].count
			}
			return list[i].word < list[j].word
		})
		out := make([]any, len(list))
		total := 0
		for i, e := range list {
			out[i] = []any{e.word, e.count}
			total += e.count
		}
		return map[string]any{"sorted": out, "total": total}, nil
	}
	final, err := Join(counted, sortDesc)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := w.EndWith(final); err != nil {
		t.Fatalf("end_with: %v", err)
	}

	result, err := w.Execute(map[string]any{"text": "Hello world this is a happy day"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := result.(map[string]any)
	if got["total"] != 7 {
		t.Fatalf("expected total word count 7, got %v", got["total"])
	}
	sorted := got["sorted"].([]any)
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1].([]any)[1].(int)
		cur := sorted[i].([]any)[1].(int)
		if prev < cur {
			t.Fatalf("expected descending sort, got %v then %v at index %d", prev, cur, i)
		}
	}
}

func TestMissingInputWithNoDefault(t *testing.T) {
	w := NewWorkflow(nil)
	ld := w.Event("required", nil)
	if err := w.EndWith(ld); err != nil {
		t.Fatalf("end_with: %v", err)
	}
	if _, err := w.Execute(map[string]any{}); err == nil {
		t.Fatalf("expected MissingInput error")
	}
}

func TestValidateDetectsInjectedCycle(t *testing.T) {
	w := NewWorkflow(nil)
	a, _ := w.Func(func(map[string]any) (any, error) { return 1, nil }, nil)
	b, err := w.Func(func(args map[string]any) (any, error) { return args["x"], nil }, map[string]any{"x": a})
	if err != nil {
		t.Fatalf("func b: %v", err)
	}

	// Directly manipulate the arena to introduce a cycle: make b's outbound
	// DataNode a successor-feeding predecessor of a's ControlNode as well.
	d := w.DAG()
	aCN := d.dataNodes[a.dataNode].pred
	d.dataNodes[b.dataNode].succ = append(d.dataNodes[b.dataNode].succ, aCN)
	d.controlNodes[aCN].inputs["injected"] = b.dataNode
	d.controlNodes[aCN].argOrder = append(d.controlNodes[aCN].argOrder, "injected")

	if err := d.Validate(); err == nil {
		t.Fatalf("expected cycle to be detected")
	}
}

func TestAddAndIndexCombinators(t *testing.T) {
	w := NewWorkflow(nil)
	lhs := w.DAG().Literal(2)
	rhs := w.DAG().Literal(3)
	sum, err := lhs.Add(rhs)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.EndWith(sum); err != nil {
		t.Fatalf("end_with: %v", err)
	}
	result, err := w.Execute(map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !reflect.DeepEqual(result, 5) {
		t.Fatalf("expected 5, got %v", result)
	}
}
