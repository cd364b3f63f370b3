package graph

import "slices"

// applyPending drains the pending log as one batch.
//
// Nodes added in the batch are held out of the order until the batch ends.
// Edges touching them are collected rather than applied, then the new nodes
// are appended in dependency-first order over those edges, and finally the
// collected edges are inserted one at a time with ordinary repair.
func (g *Graph) applyPending() {
	if len(g.pending) == 0 {
		return
	}
	ops := g.pending
	g.pending = nil

	fresh := make(map[NodeID]bool)
	var freshOrder []NodeID
	var deferred []edgeKey
	deferredKind := make(map[edgeKey]EdgeKind)

	dropDeferred := func(id NodeID) {
		for _, k := range deferred {
			if k.from == id || k.to == id {
				deferredKind[k] = 0
			}
		}
	}

	for _, o := range ops {
		switch o.kind {
		case opAddNode:
			id := o.node.NodeID()
			if _, ok := g.nodes[id]; ok {
				continue
			}
			g.nodes[id] = o.node
			fresh[id] = true
			freshOrder = append(freshOrder, id)

		case opRemoveNode:
			id := o.node.NodeID()
			dropDeferred(id)
			if fresh[id] {
				delete(fresh, id)
				freshOrder = slices.DeleteFunc(freshOrder, func(x NodeID) bool { return x == id })
				delete(g.nodes, id)
				continue
			}
			if _, ok := g.nodes[id]; ok {
				g.detachNode(id)
			}

		case opAddEdge:
			if !g.applied(o.from) || !g.applied(o.to) {
				continue
			}
			if fresh[o.from] || fresh[o.to] {
				k := edgeKey{o.from, o.to}
				if _, seen := deferredKind[k]; !seen {
					deferred = append(deferred, k)
				}
				deferredKind[k] |= o.edge
				continue
			}
			g.addEdgeApplied(o.from, o.to, o.edge)

		case opRemoveEdge:
			if fresh[o.from] || fresh[o.to] {
				k := edgeKey{o.from, o.to}
				if _, seen := deferredKind[k]; seen {
					deferredKind[k] &^= o.edge
				}
				continue
			}
			g.removeEdgeApplied(o.from, o.to, o.edge)
		}
	}

	if len(freshOrder) > 0 {
		g.placeFresh(freshOrder, fresh, deferred, deferredKind)
	}
	for _, k := range deferred {
		kind := deferredKind[k]
		if kind == 0 || !g.applied(k.from) || !g.applied(k.to) {
			continue
		}
		g.addEdgeApplied(k.from, k.to, kind)
	}

	g.logger.Debug("pending batch applied",
		"ops", len(ops),
		"added", len(freshOrder),
		"nodes", len(g.nodes))
}

func (g *Graph) applied(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// placeFresh appends the batch's new nodes to the order so that each comes
// after its fresh dependencies. Cycles among fresh nodes are left for the
// edge insertion pass to detect.
func (g *Graph) placeFresh(freshOrder []NodeID, fresh map[NodeID]bool, deferred []edgeKey, kinds map[edgeKey]EdgeKind) {
	preds := make(map[NodeID][]NodeID)
	for _, k := range deferred {
		if kinds[k] == 0 || k.from == k.to {
			continue
		}
		if fresh[k.from] && fresh[k.to] {
			preds[k.to] = append(preds[k.to], k.from)
		}
	}

	placed := make(map[NodeID]bool, len(freshOrder))
	var place func(NodeID)
	place = func(id NodeID) {
		if placed[id] {
			return
		}
		placed[id] = true
		for _, p := range preds[id] {
			place(p)
		}
		g.index[id] = len(g.order)
		g.order = append(g.order, id)
	}
	for _, id := range freshOrder {
		place(id)
	}
	g.reachValid = false
}

// addEdgeApplied ORs kind into the applied edge from -> to and repairs the
// order if the edge is new.
func (g *Graph) addEdgeApplied(from, to NodeID, kind EdgeKind) {
	old := g.forward[from][to]
	merged := old | kind
	if merged == old {
		return
	}
	g.setEdge(from, to, merged)
	g.reachValid = false
	if old == 0 {
		g.insertEdge(from, to)
		return
	}
	if rec := g.cycles[from]; rec != nil && rec.has(to) {
		rec.edges[edgeKey{from, to}] = merged
	}
}

// removeEdgeApplied clears kind bits from the applied edge from -> to. Losing
// the last bit of an edge inside a cycle record fractures the record.
func (g *Graph) removeEdgeApplied(from, to NodeID, kind EdgeKind) {
	old := g.forward[from][to]
	if old&kind == 0 {
		return
	}
	remaining := old &^ kind
	g.setEdge(from, to, remaining)
	g.reachValid = false

	rec := g.cycles[from]
	if rec == nil || !rec.has(to) {
		return
	}
	k := edgeKey{from, to}
	if remaining != 0 {
		rec.edges[k] = remaining
		return
	}
	delete(rec.edges, k)
	g.splitCycle(rec)
}

func (g *Graph) setEdge(from, to NodeID, kind EdgeKind) {
	if kind == 0 {
		delete(g.forward[from], to)
		delete(g.reverse[to], from)
		return
	}
	if g.forward[from] == nil {
		g.forward[from] = make(map[NodeID]EdgeKind)
	}
	if g.reverse[to] == nil {
		g.reverse[to] = make(map[NodeID]EdgeKind)
	}
	g.forward[from][to] = kind
	g.reverse[to][from] = kind
}

// detachNode removes an applied node. Its edges go first so that any cycle
// record it belongs to fractures through the ordinary split path, which
// leaves the node as an acyclic singleton.
func (g *Graph) detachNode(id NodeID) {
	for _, s := range g.successors(id) {
		g.removeEdgeApplied(id, s, EdgeSoft|EdgeHard)
	}
	for _, p := range g.predecessors(id) {
		g.removeEdgeApplied(p, id, EdgeSoft|EdgeHard)
	}
	if i, ok := g.index[id]; ok {
		g.order = slices.Delete(g.order, i, i+1)
		delete(g.index, id)
		g.reindex(i, len(g.order)-1)
	}
	delete(g.nodes, id)
	delete(g.forward, id)
	delete(g.reverse, id)
	delete(g.dirty, id)
	delete(g.informed, id)
	g.reachValid = false
}

// reindex refreshes index entries for order[lo..hi].
func (g *Graph) reindex(lo, hi int) {
	for i := lo; i <= hi && i < len(g.order); i++ {
		g.index[g.order[i]] = i
	}
}
