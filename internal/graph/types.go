package graph

import "strings"

// NodeID is the stable integer identity of a graph node.
type NodeID int64

// Node is anything that can live in the graph. Only the identity is used.
type Node interface {
	NodeID() NodeID
}

// Labeler is implemented by nodes that want a readable name in Describe.
type Labeler interface {
	Label() string
}

// EdgeKind is a bitmask; parallel edges between the same pair merge with OR.
type EdgeKind uint8

const (
	// EdgeSoft constrains ordering only. Dirtiness does not cross it.
	EdgeSoft EdgeKind = 1 << iota
	// EdgeHard is a data dependency. Dirtiness propagates across it.
	EdgeHard
)

func (k EdgeKind) String() string {
	var parts []string
	if k&EdgeHard != 0 {
		parts = append(parts, "hard")
	}
	if k&EdgeSoft != 0 {
		parts = append(parts, "soft")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Action tells a ProcessFunc what to do with a node.
type Action int

const (
	// ActionInvalidate drops any cached state for the node.
	ActionInvalidate Action = iota + 1
	// ActionRecalculate recomputes an acyclic node, or makes the first
	// attempt on a cycle member that has not been told it is cyclic.
	ActionRecalculate
	// ActionCycle informs a cycle member that it is part of a cycle.
	ActionCycle
	// ActionRecalculateCycle recomputes a member already informed of its cycle.
	ActionRecalculateCycle
)

func (a Action) String() string {
	switch a {
	case ActionInvalidate:
		return "invalidate"
	case ActionRecalculate:
		return "recalculate"
	case ActionCycle:
		return "cycle"
	case ActionRecalculateCycle:
		return "recalculate-cycle"
	default:
		return "unknown"
	}
}

// ProcessFunc handles one node visit during Process. For every action other
// than ActionInvalidate the return value reports whether the node's value
// changed, in which case its hard dependents are marked dirty.
type ProcessFunc func(n Node, action Action) bool

// CycleChange is reported to the cycle hook whenever a cycle record is formed
// (or grown by a merge) and whenever one fractures.
type CycleChange struct {
	Formed  bool
	Members []NodeID
}

type edgeKey struct {
	from, to NodeID
}

// cycleRecord is shared by every member of one strongly connected component.
type cycleRecord struct {
	members map[NodeID]struct{}
	edges   map[edgeKey]EdgeKind
}

func (r *cycleRecord) has(id NodeID) bool {
	_, ok := r.members[id]
	return ok
}
