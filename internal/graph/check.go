package graph

import "fmt"

// Check verifies the applied state: the index array matches the order,
// adjacency is symmetric, every edge between blocks points forward, cycle
// records are contiguous, and the records agree with a fresh component pass
// over every node. The first violation found is returned as ORDER_CORRUPT.
//
// Check is diagnostic. It runs in time linear in nodes plus edges and is
// meant for tests and debug tooling, not the flush path.
func (g *Graph) Check() error {
	if len(g.order) != len(g.index) {
		return g.corrupt(0, "order has %d entries but index has %d", len(g.order), len(g.index))
	}
	for i, id := range g.order {
		if g.index[id] != i {
			return g.corrupt(id, "index %d does not match order position %d", g.index[id], i)
		}
		if _, ok := g.nodes[id]; !ok {
			return g.corrupt(id, "ordered node is not registered")
		}
	}
	if len(g.nodes) != len(g.order) {
		return g.corrupt(0, "%d nodes registered but %d ordered", len(g.nodes), len(g.order))
	}

	for from, succ := range g.forward {
		for to, kind := range succ {
			if g.reverse[to][from] != kind {
				return g.corrupt(from, "edge to %d is %s forward but %s reverse", to, kind, g.reverse[to][from])
			}
			if g.sameBlock(from, to) {
				continue
			}
			if g.blockMax(from) >= g.blockMin(to) {
				return g.corrupt(from, "edge to %d runs backwards (%d >= %d)", to, g.blockMax(from), g.blockMin(to))
			}
		}
	}
	for to, pred := range g.reverse {
		for from, kind := range pred {
			if g.forward[from][to] != kind {
				return g.corrupt(to, "reverse edge from %d has no forward twin", from)
			}
		}
	}

	seen := make(map[*cycleRecord]bool)
	for id, rec := range g.cycles {
		if !rec.has(id) {
			return g.corrupt(id, "cycle record does not list its member")
		}
		if seen[rec] {
			continue
		}
		seen[rec] = true
		members := g.sortedMembers(rec)
		lo, hi := g.index[members[0]], g.index[members[len(members)-1]]
		if hi-lo+1 != len(members) {
			return g.corrupt(members[0], "cycle record spans %d slots for %d members", hi-lo+1, len(members))
		}
		for k, kind := range rec.edges {
			if g.forward[k.from][k.to] != kind {
				return g.corrupt(k.from, "cycle record edge to %d is stale", k.to)
			}
		}
	}

	for _, comp := range g.Components(g.order) {
		cyclic := len(comp) > 1 || g.forward[comp[0]][comp[0]] != 0
		rec := g.cycles[comp[0]]
		if !cyclic {
			if rec != nil {
				return g.corrupt(comp[0], "node has a cycle record but is acyclic")
			}
			continue
		}
		if rec == nil || len(rec.members) != len(comp) {
			return g.corrupt(comp[0], "component of %d nodes has no matching cycle record", len(comp))
		}
		for _, id := range comp {
			if g.cycles[id] != rec {
				return g.corrupt(id, "component member belongs to a different record")
			}
		}
	}
	return nil
}

func (g *Graph) corrupt(id NodeID, format string, args ...any) error {
	err := newInvariantError(CodeOrderCorrupt, id, format, args...)
	g.logger.Error("graph invariant violated", "error", err)
	return fmt.Errorf("check: %w", err)
}
