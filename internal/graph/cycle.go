package graph

import "slices"

// formCycle creates one record covering members, absorbing any records they
// already belonged to. Members that were never told they are cyclic are
// marked dirty so the scheduler gives them a first attempt.
func (g *Graph) formCycle(members []NodeID) {
	rec := &cycleRecord{
		members: make(map[NodeID]struct{}, len(members)),
		edges:   make(map[edgeKey]EdgeKind),
	}
	for _, m := range members {
		rec.members[m] = struct{}{}
		g.cycles[m] = rec
	}
	for _, m := range members {
		for s, kind := range g.forward[m] {
			if rec.has(s) {
				rec.edges[edgeKey{m, s}] = kind
			}
		}
		if !g.informed[m] {
			g.dirty[m] = struct{}{}
		}
	}
	g.reachValid = false

	g.logger.Debug("cycle formed",
		"members", members,
		"edges", len(rec.edges))
	g.notifyCycle(CycleChange{Formed: true, Members: slices.Clone(members)})
}

// splitCycle recomputes the components of rec's members over the current
// edges. Components that are still cyclic become new records and keep their
// informed state. Singletons leave cycle handling and are marked dirty. The
// members' index slots are reassigned in dependency order.
func (g *Graph) splitCycle(rec *cycleRecord) {
	members := g.sortedMembers(rec)
	if len(members) == 0 {
		return
	}
	slots := make([]int, len(members))
	for i, m := range members {
		slots[i] = g.index[m]
		delete(g.cycles, m)
	}

	comps := strongComponents(members, rec.has, g.successors)
	slices.Reverse(comps)

	seq := make([]NodeID, 0, len(members))
	survivors := 0
	for _, c := range comps {
		g.sortByIndex(c)
		seq = append(seq, c...)
		if len(c) > 1 || g.forward[c[0]][c[0]] != 0 {
			sub := &cycleRecord{
				members: make(map[NodeID]struct{}, len(c)),
				edges:   make(map[edgeKey]EdgeKind),
			}
			for _, m := range c {
				sub.members[m] = struct{}{}
				g.cycles[m] = sub
			}
			for k, kind := range rec.edges {
				if sub.has(k.from) && sub.has(k.to) {
					sub.edges[k] = kind
				}
			}
			survivors++
			continue
		}
		id := c[0]
		delete(g.informed, id)
		g.dirty[id] = struct{}{}
	}

	for i, id := range seq {
		g.order[slots[i]] = id
		g.index[id] = slots[i]
	}
	g.reachValid = false

	g.logger.Debug("cycle fractured",
		"members", members,
		"components", len(comps),
		"cyclic", survivors)
	g.notifyCycle(CycleChange{Formed: false, Members: members})
}

func (g *Graph) notifyCycle(change CycleChange) {
	if g.cycleHook != nil {
		g.cycleHook(change)
	}
}
