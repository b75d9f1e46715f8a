package dag

import "github.com/flowmesh/flowmesh/ferrors"

type queueItem struct {
	isControl bool
	id        int
}

// Evaluate runs d to completion: dependency-driven firing, FIFO pop order,
// topological order consistent with data dependence. Sibling ControlNodes
// may fire in any relative order; this implementation processes them in
// FIFO enqueue order, which is one valid linearization.
//
// Terminates when the terminal DataNode becomes ready and returns its value.
// A ControlNode callable returning an error aborts evaluation immediately —
// no partial results are reported.
func Evaluate(d *DAG) (any, error) {
	if d.terminal == noID {
		return nil, ferrors.New(ferrors.KindMissingInput, "no terminal node", nil)
	}

	queue := make([]queueItem, 0, len(d.dataNodes)+len(d.controlNodes))

	// Initial ready set: DataNodes already populated, and ControlNodes with
	// no inbound DataNodes at all (fn() with zero args).
	for i := range d.dataNodes {
		if d.dataNodes[i].ready {
			queue = append(queue, queueItem{isControl: false, id: i})
		}
	}
	for i := range d.controlNodes {
		if len(d.controlNodes[i].inboundSet()) == 0 {
			queue = append(queue, queueItem{isControl: true, id: i})
		}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if !item.isControl {
			dn := &d.dataNodes[item.id]
			if dn.terminal {
				return dn.value, nil
			}
			for _, cnID := range dn.succ {
				cn := &d.controlNodes[cnID]
				cn.boundCount++
				if cn.boundCount == len(cn.inboundSet()) {
					queue = append(queue, queueItem{isControl: true, id: int(cnID)})
				}
			}
			continue
		}

		cn := &d.controlNodes[item.id]
		if cn.fired {
			continue
		}
		cn.fired = true

		args := make(map[string]any, len(cn.argOrder))
		for _, key := range cn.argOrder {
			args[key] = d.dataNodes[cn.inputs[key]].value
		}

		value, err := cn.callable(args)
		if err != nil {
			return nil, err
		}

		outDN := &d.dataNodes[cn.outbound]
		outDN.value = value
		outDN.ready = true
		queue = append(queue, queueItem{isControl: false, id: int(cn.outbound)})
	}

	return nil, ferrors.New(ferrors.KindMissingInput, "terminal node never became ready", nil)
}
