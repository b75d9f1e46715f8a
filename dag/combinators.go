package dag

import "fmt"

// asSlice coerces a computed value into []any for the sequence combinators.
// Stage handlers and Func callables are expected to return []any (or a
// concrete slice type normalized to []any) when feeding map/fork/join.
func asSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a sequence value, got %T", v)
	}
}

// Map produces a Lambda whose value is [fn(x) for x in self]. fn is applied
// per element inside the ControlNode's callable — the sub-computation is
// plain Go rather than a dynamically-built sub-graph (see SPEC_FULL.md §9
// "Fluent-API polymorphism": explicit methods, no hidden attribute lookup).
func (l *Lambda) Map(fn func(any) (any, error)) (*Lambda, error) {
	callable := func(args map[string]any) (any, error) {
		items, err := asSlice(args["self"])
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := fn(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return l.dag.emitControlNode(callable, []string{"self"}, map[string]any{"self": l})
}

// Fork splits self (expected to hold a sequence) into n contiguous chunks at
// evaluation time; ceil(len/n) elements land in each of the first chunks,
// with the last chunk holding the remainder. n is fixed at build time (the
// DAG records exactly n ControlNodes); a chunk may be empty if len < n.
//
// n here is a chunk *count*, not a batch size: it names how many ControlNodes
// to build, and the per-chunk element count is derived at evaluation time
// from however many items self turns out to hold. A batch-size reading of n
// (fixed elements per chunk, a data-dependent number of chunks) isn't
// representable here since the DAG's node count is fixed when Fork is
// called, before self's length is known.
func (l *Lambda) Fork(n int) ([]*Lambda, error) {
	if n <= 0 {
		return nil, fmt.Errorf("fork: n must be positive, got %d", n)
	}
	out := make([]*Lambda, n)
	for i := 0; i < n; i++ {
		idx := i
		callable := func(args map[string]any) (any, error) {
			items, err := asSlice(args["self"])
			if err != nil {
				return nil, err
			}
			chunkSize := (len(items) + n - 1) / n
			if chunkSize == 0 {
				return []any{}, nil
			}
			start := idx * chunkSize
			if start >= len(items) {
				return []any{}, nil
			}
			end := start + chunkSize
			if end > len(items) {
				end = len(items)
			}
			return append([]any(nil), items[start:end]...), nil
		}
		ld, err := l.dag.emitControlNode(callable, []string{"self"}, map[string]any{"self": l})
		if err != nil {
			return nil, err
		}
		out[i] = ld
	}
	return out, nil
}

// MapEach applies fn independently to each part's value — used after Fork to
// run the same stage/function over every partition, e.g. fork(3).map(count).
func MapEach(parts []*Lambda, fn func(any) (any, error)) ([]*Lambda, error) {
	out := make([]*Lambda, len(parts))
	for i, part := range parts {
		d := part.dag
		callable := func(args map[string]any) (any, error) {
			return fn(args["self"])
		}
		ld, err := d.emitControlNode(callable, []string{"self"}, map[string]any{"self": part})
		if err != nil {
			return nil, err
		}
		out[i] = ld
	}
	return out, nil
}

// Join flattens a list of sequence-valued Lambdas into one sequence and
// applies fn to the flattened result.
func Join(parts []*Lambda, fn func([]any) (any, error)) (*Lambda, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("join: no parts given")
	}
	d := parts[0].dag
	keys := make([]string, len(parts))
	params := make(map[string]any, len(parts))
	for i, p := range parts {
		key := fmt.Sprintf("p%d", i)
		keys[i] = key
		params[key] = p
	}
	callable := func(args map[string]any) (any, error) {
		var flat []any
		for _, key := range keys {
			items, err := asSlice(args[key])
			if err != nil {
				return nil, err
			}
			flat = append(flat, items...)
		}
		return fn(flat)
	}
	return d.emitControlNode(callable, keys, params)
}

// Index emits a 1-input ControlNode projecting self[k] — k may be an int
// (slice/array index) or a string (map key).
func (l *Lambda) Index(k any) (*Lambda, error) {
	callable := func(args map[string]any) (any, error) {
		self := args["self"]
		switch key := k.(type) {
		case string:
			m, ok := self.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("index %q: value is %T, not a map", key, self)
			}
			return m[key], nil
		case int:
			s, err := asSlice(self)
			if err != nil {
				return nil, err
			}
			if key < 0 || key >= len(s) {
				return nil, fmt.Errorf("index %d: out of range (len %d)", key, len(s))
			}
			return s[key], nil
		default:
			return nil, fmt.Errorf("index: unsupported key type %T", k)
		}
	}
	return l.dag.emitControlNode(callable, []string{"self"}, map[string]any{"self": l})
}

// Add emits a 2-input ControlNode computing self + other. Supports int,
// float64, and string (concatenation) operands.
func (l *Lambda) Add(other *Lambda) (*Lambda, error) {
	callable := func(args map[string]any) (any, error) {
		return addValues(args["lhs"], args["rhs"])
	}
	return l.dag.emitControlNode(callable, []string{"lhs", "rhs"}, map[string]any{"lhs": l, "rhs": other})
}

func addValues(a, b any) (any, error) {
	switch av := a.(type) {
	case int:
		switch bv := b.(type) {
		case int:
			return av + bv, nil
		case float64:
			return float64(av) + bv, nil
		}
	case float64:
		switch bv := b.(type) {
		case int:
			return av + float64(bv), nil
		case float64:
			return av + bv, nil
		}
	case string:
		if bv, ok := b.(string); ok {
			return av + bv, nil
		}
	}
	return nil, fmt.Errorf("add: unsupported operand types %T + %T", a, b)
}
