package graph

import (
	"cmp"
	"slices"
)

// Stats summarizes one Process call.
type Stats struct {
	// Steps counts node or cycle-group visits.
	Steps int
	// Rewinds counts visits that went back to an earlier index than the
	// previous visit because the order or the dirty set changed under it.
	Rewinds int
	// Swept counts unreachable nodes invalidated after the main pass.
	Swept int
}

// Process walks dirty nodes that can reach a retained node, in topological
// order, asking fn to invalidate and recompute them. Pending operations are
// applied before the walk and after every visit. Dirty nodes left over
// because nothing retained depends on them are invalidated without being
// recomputed, and the dirty set is cleared.
//
// Process is not re-entrant: fn must not call Process.
func (g *Graph) Process(fn ProcessFunc) (Stats, error) {
	var stats Stats
	if g.processing {
		return stats, newInvariantError(CodeProcessReentry, 0, "process called while already processing")
	}
	g.processing = true
	defer func() { g.processing = false }()

	g.applyPending()

	last := -1
	for {
		id, ok := g.nextDirty()
		if !ok {
			break
		}
		idx := g.index[id]
		if idx < last {
			stats.Rewinds++
			g.logger.Debug("traversal rewound", "node", id, "index", idx, "previous", last)
		}
		stats.Steps++
		if stats.Steps > g.maxSteps {
			return stats, newInvariantError(CodeStepQuota, id,
				"process exceeded %d visits", g.maxSteps)
		}
		if err := g.visit(id, fn); err != nil {
			return stats, err
		}
		if i, ok := g.index[id]; ok {
			last = i
		}
	}

	stats.Swept = g.sweep(fn)
	g.applyPending()
	return stats, nil
}

// nextDirty returns the lowest-index dirty node that reaches a root.
func (g *Graph) nextDirty() (NodeID, bool) {
	g.ensureReach()
	best, found := NodeID(0), false
	bestIdx := len(g.order)
	for id := range g.dirty {
		idx, ok := g.index[id]
		if !ok || !g.reach[id] {
			continue
		}
		if idx < bestIdx {
			best, bestIdx, found = id, idx, true
		}
	}
	return best, found
}

// ensureReach recomputes the set of nodes with a path to a retained node.
func (g *Graph) ensureReach() {
	if g.reachValid {
		return
	}
	clear(g.reach)
	var stack []NodeID
	for id, count := range g.refs {
		if _, ok := g.index[id]; ok && count > 0 {
			g.reach[id] = true
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for p := range g.reverse[x] {
			if !g.reach[p] {
				g.reach[p] = true
				stack = append(stack, p)
			}
		}
	}
	g.reachValid = true
}

// visit processes id, or its whole cycle group, and then applies pending
// operations. If that changes whether id is cyclic and its group still has
// dirty work, the visit repeats, up to maxCyclePasses times.
func (g *Graph) visit(id NodeID, fn ProcessFunc) error {
	for pass := 1; ; pass++ {
		if pass > g.maxCyclePasses {
			return newInvariantError(CodeCyclePassLimit, id,
				"cycle membership did not settle after %d passes", g.maxCyclePasses)
		}
		wasCyclic := g.cycles[id] != nil
		if wasCyclic {
			g.visitCycle(id, fn)
		} else {
			g.visitNode(id, fn)
		}
		g.applyPending()

		if _, ok := g.index[id]; !ok {
			return nil
		}
		if (g.cycles[id] != nil) == wasCyclic {
			return nil
		}
		next, ok := g.nextDirty()
		if !ok || !g.sameBlock(next, id) {
			return nil
		}
		g.logger.Debug("cycle membership changed, revisiting", "node", id, "pass", pass)
	}
}

func (g *Graph) visitNode(id NodeID, fn ProcessFunc) {
	delete(g.dirty, id)
	n := g.nodes[id]
	fn(n, ActionInvalidate)
	if fn(n, ActionRecalculate) {
		g.propagate(id, nil)
	}
}

func (g *Graph) visitCycle(id NodeID, fn ProcessFunc) {
	rec := g.cycles[id]
	members := g.sortedMembers(rec)

	wasDirty := make(map[NodeID]bool, len(members))
	for _, m := range members {
		if _, ok := g.dirty[m]; ok {
			wasDirty[m] = true
			delete(g.dirty, m)
		}
	}
	for _, m := range members {
		fn(g.nodes[m], ActionInvalidate)
	}

	// A member that joined an already informed component still reruns its
	// body, otherwise a rewiring that breaks the cycle is never observed.
	priorInformed := g.anyInformed(members)
	changed := false
	for _, m := range members {
		var action Action
		switch {
		case g.informed[m]:
			action = ActionRecalculateCycle
		case wasDirty[m] && priorInformed:
			action = ActionRecalculateCycle
			g.informed[m] = true
		case wasDirty[m] && !g.anyInformed(members):
			action = ActionRecalculate
		default:
			action = ActionCycle
			g.informed[m] = true
		}
		if fn(g.nodes[m], action) {
			changed = true
		}
	}

	// Recalculation may have fractured or regrown the record; use whichever
	// record now holds the members for the external boundary.
	if changed {
		for _, m := range members {
			g.propagate(m, g.cycles[m])
		}
	}
}

func (g *Graph) anyInformed(members []NodeID) bool {
	for _, m := range members {
		if g.informed[m] {
			return true
		}
	}
	return false
}

// propagate marks id's hard dependents dirty, skipping members of rec.
func (g *Graph) propagate(id NodeID, rec *cycleRecord) {
	for s, kind := range g.forward[id] {
		if kind&EdgeHard == 0 {
			continue
		}
		if rec != nil && rec.has(s) {
			continue
		}
		if _, ok := g.nodes[s]; ok {
			g.dirty[s] = struct{}{}
		}
	}
}

// sweep invalidates every node downstream of the remaining dirty nodes along
// hard edges, without recomputing any of them, and clears the dirty set.
func (g *Graph) sweep(fn ProcessFunc) int {
	if len(g.dirty) == 0 {
		return 0
	}
	var queue []NodeID
	for id := range g.dirty {
		if _, ok := g.index[id]; ok {
			queue = append(queue, id)
		}
	}
	g.sortByIndex(queue)

	seen := make(map[NodeID]bool, len(queue))
	for _, id := range queue {
		seen[id] = true
	}
	swept := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		fn(g.nodes[id], ActionInvalidate)
		swept++
		var next []NodeID
		for s, kind := range g.forward[id] {
			if kind&EdgeHard != 0 && !seen[s] {
				seen[s] = true
				next = append(next, s)
			}
		}
		g.sortByIndex(next)
		queue = append(queue, next...)
	}
	clear(g.dirty)

	g.logger.Debug("swept unreachable dirty nodes", "count", swept)
	return swept
}

// DirtyNodes returns the dirty set in index order. Staged-only nodes are
// listed last.
func (g *Graph) DirtyNodes() []NodeID {
	out := make([]NodeID, 0, len(g.dirty))
	for id := range g.dirty {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b NodeID) int {
		ia, oka := g.index[a]
		ib, okb := g.index[b]
		switch {
		case oka && okb:
			return ia - ib
		case oka:
			return -1
		case okb:
			return 1
		default:
			return cmp.Compare(a, b)
		}
	})
	return out
}
