// Package dag implements the DAG-building front end and dataflow evaluator:
// Lambda (lazy value handle), DataNode (value slot), ControlNode (pure
// computation), and the DAG arena that owns them.
//
// DataNode, Lambda, and ControlNode naturally form a reference cycle
// (DataNode -> owning Lambda -> owning Workflow -> DAG -> DataNode). Rather
// than model that with pointers, the arena owns every node in a slice and
// all cross-references are integer ids (NodeID/LambdaID) scoped to the
// arena's lifetime — see SPEC_FULL.md §9 "Cyclic back-references".
package dag

import "github.com/flowmesh/flowmesh/ferrors"

// LambdaID indexes into DAG.lambdas.
type LambdaID int

// DataNodeID indexes into DAG.dataNodes.
type DataNodeID int

// ControlNodeID indexes into DAG.controlNodes.
type ControlNodeID int

const noID = -1

// Lambda is a lazy placeholder for a value. Once its DataNode's value is
// set by the Evaluator it is never overwritten.
type Lambda struct {
	id       LambdaID
	dag      *DAG
	dataNode DataNodeID
}

// ID returns this lambda's identity within its owning DAG.
func (l *Lambda) ID() LambdaID { return l.id }

// Ready reports whether the lambda's value has been computed.
func (l *Lambda) Ready() bool {
	return l.dag.dataNodes[l.dataNode].ready
}

// Value returns the lambda's computed value. Only valid once Ready() is true.
func (l *Lambda) Value() any {
	return l.dag.dataNodes[l.dataNode].value
}

// DataNode owns one Lambda. It becomes ready exactly when its Lambda's value
// is set, either because it was a root input or because its (at most one)
// predecessor ControlNode fired and populated it.
type DataNode struct {
	id       DataNodeID
	lambda   LambdaID
	ready    bool
	value    any
	pred     ControlNodeID // noID if this is a root DataNode
	succ     []ControlNodeID
	terminal bool
}

// Callable is a pure computation over named arguments, used by ControlNode.
type Callable func(args map[string]any) (any, error)

// ControlNode fires exactly once, when every inbound DataNode is ready, and
// writes its result to its one outbound DataNode.
type ControlNode struct {
	id       ControlNodeID
	callable Callable
	argOrder []string // stable order of argument keys, for deterministic dispatch
	inputs   map[string]DataNodeID
	outbound DataNodeID
	fired    bool

	boundCount int // how many distinct inbound DataNodes are currently ready
}

// inboundSet returns the distinct DataNodeIDs this control node depends on.
func (c *ControlNode) inboundSet() []DataNodeID {
	seen := make(map[DataNodeID]bool, len(c.inputs))
	out := make([]DataNodeID, 0, len(c.inputs))
	for _, key := range c.argOrder {
		id := c.inputs[key]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DAG is the arena owning every Lambda, DataNode, and ControlNode created by
// a single Workflow. Exactly one DataNode may be marked terminal.
type DAG struct {
	lambdas      []Lambda
	dataNodes    []DataNode
	controlNodes []ControlNode
	terminal     DataNodeID
}

// New creates an empty DAG arena.
func New() *DAG {
	return &DAG{terminal: noID}
}

func (d *DAG) newDataNode() DataNodeID {
	id := DataNodeID(len(d.dataNodes))
	d.dataNodes = append(d.dataNodes, DataNode{id: id, pred: noID})
	return id
}

// newLambda creates a Lambda bound to dataNode and returns a handle to it.
func (d *DAG) newLambda(dataNode DataNodeID) *Lambda {
	id := LambdaID(len(d.lambdas))
	d.lambdas = append(d.lambdas, Lambda{id: id, dag: d, dataNode: dataNode})
	d.dataNodes[dataNode].lambda = id
	return &d.lambdas[id]
}

// Literal wraps a plain value in a fresh, already-ready DataNode/Lambda pair.
func (d *DAG) Literal(value any) *Lambda {
	dn := d.newDataNode()
	d.dataNodes[dn].ready = true
	d.dataNodes[dn].value = value
	return d.newLambda(dn)
}

// asLambda returns v unchanged if it is already a *Lambda from this DAG,
// otherwise wraps it as a literal.
func (d *DAG) asLambda(v any) (*Lambda, error) {
	if ld, ok := v.(*Lambda); ok {
		if ld.dag != d {
			return nil, ferrors.New(ferrors.KindMissingInput, "", nil)
		}
		return ld, nil
	}
	return d.Literal(v), nil
}

// emitControlNode creates a ControlNode over orderedKeys -> params (literal
// or Lambda), wires it to a fresh outbound DataNode, and returns the
// resulting Lambda handle.
func (d *DAG) emitControlNode(callable Callable, orderedKeys []string, params map[string]any) (*Lambda, error) {
	inputs := make(map[string]DataNodeID, len(orderedKeys))
	for _, key := range orderedKeys {
		ld, err := d.asLambda(params[key])
		if err != nil {
			return nil, err
		}
		inputs[key] = ld.dataNode
	}

	cnID := ControlNodeID(len(d.controlNodes))
	d.controlNodes = append(d.controlNodes, ControlNode{
		id:       cnID,
		callable: callable,
		argOrder: append([]string(nil), orderedKeys...),
		inputs:   inputs,
		outbound: noID,
	})
	cn := &d.controlNodes[cnID]

	for _, dnID := range cn.inboundSet() {
		d.dataNodes[dnID].succ = append(d.dataNodes[dnID].succ, cnID)
	}

	outDN := d.newDataNode()
	d.dataNodes[outDN].pred = cnID
	cn.outbound = outDN

	return d.newLambda(outDN), nil
}

// MarkTerminal designates ld's DataNode as the DAG's single terminal node.
func (d *DAG) MarkTerminal(ld *Lambda) error {
	if d.terminal != noID && d.terminal != ld.dataNode {
		return ferrors.New(ferrors.KindMissingInput, "terminal already set", nil)
	}
	d.dataNodes[ld.dataNode].terminal = true
	d.terminal = ld.dataNode
	return nil
}

// Validate performs a topological check (Kahn's algorithm) over the
// DataNode/ControlNode bipartite graph and fails with *ferrors.ErrCycle if a
// cycle is present. Ordinary use of the builder API cannot construct a
// cycle (nodes may only reference previously returned Lambdas), but this
// guards against direct arena manipulation and is exercised by the
// acyclicity property test.
func (d *DAG) Validate() error {
	// in-degree: DataNode in-degree = 1 if it has a predecessor control node
	// and that control node hasn't "fired" in topological terms; ControlNode
	// in-degree = number of distinct inbound DataNodes not yet satisfied.
	dataRemaining := make([]bool, len(d.dataNodes))
	cnRemaining := make([]int, len(d.controlNodes))
	for i := range d.controlNodes {
		cnRemaining[i] = len(d.controlNodes[i].inboundSet())
	}

	queue := make([]int, 0)
	kind := make([]byte, 0) // 'd' or 'c'
	for i, dn := range d.dataNodes {
		if dn.pred == noID {
			queue = append(queue, i)
			kind = append(kind, 'd')
			dataRemaining[i] = true
		}
	}
	for i := range cnRemaining {
		if cnRemaining[i] == 0 {
			queue = append(queue, i)
			kind = append(kind, 'c')
		}
	}

	visitedData, visitedControl := 0, 0
	for len(queue) > 0 {
		idx := queue[0]
		k := kind[0]
		queue = queue[1:]
		kind = kind[1:]

		if k == 'd' {
			visitedData++
			for _, cnID := range d.dataNodes[idx].succ {
				cnRemaining[cnID]--
				if cnRemaining[cnID] == 0 {
					queue = append(queue, int(cnID))
					kind = append(kind, 'c')
				}
			}
		} else {
			visitedControl++
			outDN := d.controlNodes[idx].outbound
			if !dataRemaining[outDN] {
				dataRemaining[outDN] = true
				queue = append(queue, int(outDN))
				kind = append(kind, 'd')
			}
		}
	}

	if visitedData != len(d.dataNodes) || visitedControl != len(d.controlNodes) {
		return ferrors.New(ferrors.KindCycle, "", nil)
	}
	return nil
}
