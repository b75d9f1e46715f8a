// Package placement implements the Placement Planner ("Ditto", spec.md
// §4.7): a critical-path-aware heuristic that merges stages into
// deployment groups and assigns each group to a node, minimizing
// end-to-end latency subject to per-node vCPU capacity.
//
// Grounded on spec.md's own algorithm description; tie-breaking and
// enumeration order follow the teacher's deterministic-ordering idiom
// (graph/scheduler.go's ComputeOrderKey: ties broken by stable,
// first-encountered order rather than map iteration order).
package placement

import (
	"sort"

	"github.com/flowmesh/flowmesh/ferrors"
)

// StageProfile is one stage's declared compute/input/output time and
// minimum vCPU requirement (spec.md §3).
type StageProfile struct {
	Stage          string
	InputTime      float64
	ComputeTime    float64
	OutputTime     float64
	MinVCPU        float64
	ImageColdstart float64
}

// Node describes one deployment target's available capacity.
type Node struct {
	Name     string
	VCPU     float64
	MemoryMB float64
}

// edge is a weighted dependency u -> v with weight = output_time[u] +
// input_time[v] (spec.md §4.7 step a).
type edge struct {
	u, v   string
	weight float64
}

// Plan is the planner's output: each stage assigned to exactly one node,
// plus the worker start-point schedule (spec.md §4.7 "Worker start-point
// schedule").
type Plan struct {
	Assignment  map[string]string // stage -> node name
	TimeToWork  map[string]float64
	ContainerAt map[string]float64 // container_start per stage
	MergeCount  int
}

// group is a mutable merge-in-progress cluster of stages sharing one node.
type group struct {
	stages []string
}

// Compute computes a stage->node assignment minimizing critical-path
// latency. profiles and deps (adjacency: stage -> direct successors)
// describe the workflow; nodes is the ordered (stable, for tie-breaking)
// list of available deployment targets. safetyMargin is subtracted from
// each stage's time-to-work when computing its container_start (spec.md
// §4.7).
func Compute(profiles map[string]StageProfile, deps map[string][]string, nodes []Node, safetyMargin float64) (*Plan, error) {
	stages := sortedStageNames(profiles)

	groups := make(map[string]*group, len(stages))
	stageGroup := make(map[string]string, len(stages)) // stage -> owning group key
	for _, s := range stages {
		groups[s] = &group{stages: []string{s}}
		stageGroup[s] = s
	}

	edges := buildEdges(stages, deps, profiles)
	mergeCount := 0

	for {
		cpLen, onCriticalPath := criticalPath(stages, deps, profiles, edges, stageGroup)
		heaviest, found := pickHeaviestCriticalEdge(edges, onCriticalPath, stageGroup)
		if !found || cpLen == 0 {
			break
		}

		gu, gv := stageGroup[heaviest.u], stageGroup[heaviest.v]
		edges = removeEdge(edges, heaviest)
		if gu == gv {
			continue
		}

		merged := append(append([]string(nil), groups[gu].stages...), groups[gv].stages...)
		if _, fits := feasibleAssignment(mergedGroupView(groups, stageGroup, gu, gv, merged), profiles, nodes); fits {
			newGroup := &group{stages: merged}
			groups[gu] = newGroup
			delete(groups, gv)
			for _, s := range merged {
				stageGroup[s] = gu
			}
			mergeCount++
		}
	}

	assignment, ok := feasibleAssignment(groups, profiles, nodes)
	if !ok {
		return nil, ferrors.New(ferrors.KindInfeasible, "", nil)
	}

	timeToWork, containerAt := schedule(stages, deps, profiles, safetyMargin)

	return &Plan{
		Assignment:  assignment,
		TimeToWork:  timeToWork,
		ContainerAt: containerAt,
		MergeCount:  mergeCount,
	}, nil
}

func sortedStageNames(profiles map[string]StageProfile) []string {
	out := make([]string, 0, len(profiles))
	for s := range profiles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func buildEdges(stages []string, deps map[string][]string, profiles map[string]StageProfile) []edge {
	var out []edge
	for _, u := range stages {
		for _, v := range deps[u] {
			out = append(out, edge{u: u, v: v, weight: profiles[u].OutputTime + profiles[v].InputTime})
		}
	}
	return out
}

func removeEdge(edges []edge, target edge) []edge {
	out := make([]edge, 0, len(edges))
	removed := false
	for _, e := range edges {
		if !removed && e == target {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out
}

// criticalPath computes cp_len[u] = compute_time[u] + max over outgoing
// edges (weight + cp_len[v]) via reverse-topological DP (spec.md §4.7 step
// b), and marks the edges of the workflow's critical path: starting from the
// stage with the largest cp_len, it follows at each stage the outgoing edge
// achieving that max.
func criticalPath(stages []string, deps map[string][]string, profiles map[string]StageProfile, edges []edge, stageGroup map[string]string) (float64, map[edge]bool) {
	order := reverseTopological(stages, deps)
	cpLen := make(map[string]float64, len(stages))
	onPath := make(map[edge]bool)
	next := make(map[string]edge)
	var head string

	byU := make(map[string][]edge)
	for _, e := range edges {
		byU[e.u] = append(byU[e.u], e)
	}

	var maxCP float64
	for _, u := range order {
		best := 0.0
		var bestEdge *edge
		for i := range byU[u] {
			e := byU[u][i]
			cand := e.weight + cpLen[e.v]
			if bestEdge == nil || cand > best {
				best = cand
				ec := e
				bestEdge = &ec
			}
		}
		cpLen[u] = profiles[u].ComputeTime + best
		if bestEdge != nil {
			next[u] = *bestEdge
		}
		if cpLen[u] > maxCP {
			maxCP = cpLen[u]
			head = u
		}
	}
	for e, ok := next[head]; ok; e, ok = next[e.v] {
		onPath[e] = true
	}
	return maxCP, onPath
}

// reverseTopological returns stages ordered so every stage appears after
// all of its dependency-graph successors (sinks first).
func reverseTopological(stages []string, deps map[string][]string) []string {
	indeg := make(map[string]int, len(stages))
	for _, s := range stages {
		indeg[s] = 0
	}
	for _, outs := range deps {
		for _, v := range outs {
			indeg[v]++
		}
	}
	// Kahn's algorithm on the reversed graph: start from sinks (no outgoing
	// successors consumed yet -> those with indeg 0 in the *reverse* sense
	// are stages with no dependents remaining), i.e. standard topo sort
	// reversed.
	remaining := make(map[string]int, len(stages))
	for _, s := range stages {
		remaining[s] = len(deps[s])
	}
	queue := make([]string, 0)
	for _, s := range stages {
		if remaining[s] == 0 {
			queue = append(queue, s)
		}
	}
	sort.Strings(queue)

	predOf := make(map[string][]string)
	for u, outs := range deps {
		for _, v := range outs {
			predOf[v] = append(predOf[v], u)
		}
	}

	var out []string
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		out = append(out, u)
		nextBatch := make([]string, 0)
		for _, p := range predOf[u] {
			remaining[p]--
			if remaining[p] == 0 {
				nextBatch = append(nextBatch, p)
			}
		}
		sort.Strings(nextBatch)
		queue = append(queue, nextBatch...)
	}
	return out
}

// pickHeaviestCriticalEdge returns the heaviest edge lying on the critical
// path (ties broken by first-encountered order in the edges slice, which is
// itself built in sorted-stage order — spec.md §4.7 "Tie-break").
func pickHeaviestCriticalEdge(edges []edge, onPath map[edge]bool, stageGroup map[string]string) (edge, bool) {
	var best edge
	found := false
	for _, e := range edges {
		if !onPath[e] {
			continue
		}
		if stageGroup[e.u] == stageGroup[e.v] {
			continue
		}
		if !found || e.weight > best.weight {
			best = e
			found = true
		}
	}
	return best, found
}

func mergedGroupView(groups map[string]*group, stageGroup map[string]string, gu, gv string, merged []string) map[string]*group {
	out := make(map[string]*group, len(groups))
	for k, g := range groups {
		if k == gu || k == gv {
			continue
		}
		out[k] = g
	}
	out[gu] = &group{stages: merged}
	return out
}

// feasibleAssignment places groups in sorted group-name order, each on the
// first node in node-iteration order whose remaining vCPU fits it (greedy
// first-fit, stable by declaration order). It does not enumerate or
// backtrack: earlier placements are never revisited, so it returns false as
// soon as one group fits on no node, even when a different group->node
// assignment would fit.
func feasibleAssignment(groups map[string]*group, profiles map[string]StageProfile, nodes []Node) (map[string]string, bool) {
	groupNames := make([]string, 0, len(groups))
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	nodeLoad := make([]float64, len(nodes))
	assignment := make(map[string]string, len(profiles))

	for _, gname := range groupNames {
		g := groups[gname]
		need := 0.0
		for _, s := range g.stages {
			need += profiles[s].MinVCPU
		}
		placed := false
		for i, n := range nodes {
			if nodeLoad[i]+need <= n.VCPU {
				nodeLoad[i] += need
				for _, s := range g.stages {
					assignment[s] = n.Name
				}
				placed = true
				break
			}
		}
		if !placed {
			return nil, false
		}
	}
	return assignment, true
}

// schedule computes, per spec.md §4.7 "Worker start-point schedule":
//
//	time_to_work[s] = max over predecessors p (time_to_work[p] + input_time[p]
//	                    + compute_time[p] + output_time[p])
//	container_start[s] = max(0, time_to_work[s] - image_coldstart[s] - safetyMargin)
//
// When container_start clamps at 0, time_to_work is shifted forward by the
// clamp amount so the budget stays internally consistent.
func schedule(stages []string, deps map[string][]string, profiles map[string]StageProfile, safetyMargin float64) (map[string]float64, map[string]float64) {
	predOf := make(map[string][]string)
	for u, outs := range deps {
		for _, v := range outs {
			predOf[v] = append(predOf[v], u)
		}
	}
	order := topological(stages, deps)

	timeToWork := make(map[string]float64, len(stages))
	containerAt := make(map[string]float64, len(stages))

	for _, s := range order {
		maxPred := 0.0
		for _, p := range predOf[s] {
			cand := timeToWork[p] + profiles[p].InputTime + profiles[p].ComputeTime + profiles[p].OutputTime
			if cand > maxPred {
				maxPred = cand
			}
		}
		ttw := maxPred
		start := ttw - profiles[s].ImageColdstart - safetyMargin
		if start < 0 {
			ttw += -start
			start = 0
		}
		timeToWork[s] = ttw
		containerAt[s] = start
	}
	return timeToWork, containerAt
}

func topological(stages []string, deps map[string][]string) []string {
	indeg := make(map[string]int, len(stages))
	for _, s := range stages {
		indeg[s] = 0
	}
	for _, outs := range deps {
		for _, v := range outs {
			indeg[v]++
		}
	}
	queue := make([]string, 0)
	for _, s := range stages {
		if indeg[s] == 0 {
			queue = append(queue, s)
		}
	}
	sort.Strings(queue)

	var out []string
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		out = append(out, u)
		nextBatch := make([]string, 0)
		for _, v := range deps[u] {
			indeg[v]--
			if indeg[v] == 0 {
				nextBatch = append(nextBatch, v)
			}
		}
		sort.Strings(nextBatch)
		queue = append(queue, nextBatch...)
	}
	return out
}
