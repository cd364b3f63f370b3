package graph

// A block is either a single acyclic node or the full member set of one cycle
// record. Blocks occupy contiguous index ranges, and every edge between two
// different blocks points from the lower range to the higher one.

func (g *Graph) blockMin(id NodeID) int {
	rec := g.cycles[id]
	if rec == nil {
		return g.index[id]
	}
	lo := g.index[id]
	for m := range rec.members {
		lo = min(lo, g.index[m])
	}
	return lo
}

func (g *Graph) blockMax(id NodeID) int {
	rec := g.cycles[id]
	if rec == nil {
		return g.index[id]
	}
	hi := g.index[id]
	for m := range rec.members {
		hi = max(hi, g.index[m])
	}
	return hi
}

func (g *Graph) sameBlock(a, b NodeID) bool {
	if a == b {
		return true
	}
	rec := g.cycles[a]
	return rec != nil && rec.has(b)
}

// blockOf returns id alone or every member of its cycle record, in order.
func (g *Graph) blockOf(id NodeID) []NodeID {
	rec := g.cycles[id]
	if rec == nil {
		return []NodeID{id}
	}
	return g.sortedMembers(rec)
}

// insertEdge restores the order after the new edge from -> to was written to
// the adjacency maps. It searches only the window between the two blocks and
// materializes a cycle record when the edge closes a loop.
func (g *Graph) insertEdge(from, to NodeID) {
	k := edgeKey{from, to}
	if from == to {
		if rec := g.cycles[from]; rec != nil {
			rec.edges[k] = g.forward[from][to]
			return
		}
		g.formCycle([]NodeID{from})
		return
	}
	if rec := g.cycles[from]; rec != nil && rec.has(to) {
		rec.edges[k] = g.forward[from][to]
		return
	}

	lo, hi := g.blockMin(to), g.blockMax(from)
	if lo > hi {
		return
	}

	fwd, cycle := g.searchForward(to, from, hi)
	bwd := g.searchBackward(from, lo)

	var comp map[NodeID]bool
	if cycle {
		comp = make(map[NodeID]bool)
		within := func(id NodeID) bool { return fwd[id] }
		for _, c := range strongComponents([]NodeID{to}, within, g.successors) {
			if containsID(c, to) {
				for _, id := range c {
					comp[id] = true
				}
				break
			}
		}
	}

	g.resplice(lo, hi, bwd, comp, fwd)
	g.logger.Debug("order repaired",
		"from", from,
		"to", to,
		"lower", lo,
		"upper", hi,
		"forward", len(fwd),
		"backward", len(bwd),
		"cycle", cycle)

	if cycle {
		members := make([]NodeID, 0, len(comp))
		for id := range comp {
			members = append(members, id)
		}
		g.sortByIndex(members)
		g.formCycle(members)
	}
}

// searchForward collects whole blocks reachable from start without leaving
// indices <= hi. It reports whether target's block was reached.
func (g *Graph) searchForward(start, target NodeID, hi int) (map[NodeID]bool, bool) {
	seen := make(map[NodeID]bool)
	var stack []NodeID
	addBlock := func(id NodeID) {
		for _, m := range g.blockOf(id) {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}

	cycle := false
	addBlock(start)
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range g.successors(x) {
			if g.index[s] > hi || seen[s] {
				continue
			}
			if g.sameBlock(s, target) {
				cycle = true
			}
			addBlock(s)
		}
	}
	return seen, cycle
}

// searchBackward collects whole blocks that reach start without leaving
// indices >= lo.
func (g *Graph) searchBackward(start NodeID, lo int) map[NodeID]bool {
	seen := make(map[NodeID]bool)
	var stack []NodeID
	addBlock := func(id NodeID) {
		for _, m := range g.blockOf(id) {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}

	addBlock(start)
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.predecessors(x) {
			if g.index[p] < lo || seen[p] {
				continue
			}
			addBlock(p)
		}
	}
	return seen
}

// resplice rewrites order[lo..hi] as: ancestors, untouched, component,
// descendants. Each group keeps its prior relative order, so blocks stay
// contiguous.
func (g *Graph) resplice(lo, hi int, bwd, comp, fwd map[NodeID]bool) {
	var head, rest, mid, tail []NodeID
	for _, id := range g.order[lo : hi+1] {
		switch {
		case comp[id]:
			mid = append(mid, id)
		case bwd[id]:
			head = append(head, id)
		case fwd[id]:
			tail = append(tail, id)
		default:
			rest = append(rest, id)
		}
	}
	seq := make([]NodeID, 0, hi-lo+1)
	seq = append(seq, head...)
	seq = append(seq, rest...)
	seq = append(seq, mid...)
	seq = append(seq, tail...)
	g.rewrite(lo, seq)
}

// rewrite replaces order[lo:lo+len(seq)] with seq and refreshes indices.
func (g *Graph) rewrite(lo int, seq []NodeID) {
	copy(g.order[lo:], seq)
	g.reindex(lo, lo+len(seq)-1)
	g.reachValid = false
}

func containsID(ids []NodeID, id NodeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
