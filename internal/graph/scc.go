package graph

// strongComponents finds strongly connected components with Tarjan's
// algorithm, starting from roots in the given order and following succ.
// Nodes for which within returns false are ignored (nil accepts all).
//
// Components are returned in completion order: every component appears
// after all components reachable from it.
func strongComponents(roots []NodeID, within func(NodeID) bool, succ func(NodeID) []NodeID) [][]NodeID {
	var (
		counter = 0
		stack   []NodeID
		indices = make(map[NodeID]int)
		lowlink = make(map[NodeID]int)
		onStack = make(map[NodeID]bool)
		sccs    [][]NodeID
	)

	var strongConnect func(NodeID)
	strongConnect = func(v NodeID) {
		indices[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ(v) {
			if within != nil && !within(w) {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, r := range roots {
		if within != nil && !within(r) {
			continue
		}
		if _, visited := indices[r]; !visited {
			strongConnect(r)
		}
	}
	return sccs
}

// Components returns the strongly connected components of everything that
// reaches roots, in dependency order: a component is listed only after every
// component with an edge into it. Members of each component are sorted by
// their current index.
func (g *Graph) Components(roots []NodeID) [][]NodeID {
	var start []NodeID
	for _, r := range roots {
		if _, ok := g.index[r]; ok {
			start = append(start, r)
		}
	}
	sccs := strongComponents(start, nil, g.predecessors)
	for _, c := range sccs {
		g.sortByIndex(c)
	}
	return sccs
}
