package graph

import (
	"log/slog"
	"slices"
)

const (
	// DefaultMaxSteps bounds the number of node visits in one Process call.
	DefaultMaxSteps = 100000

	// DefaultMaxCyclePasses bounds how often one node is revisited while its
	// cycle membership keeps changing.
	DefaultMaxCyclePasses = 16
)

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMaxSteps sets the visit budget for a single Process call.
func WithMaxSteps(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.maxSteps = n
		}
	}
}

// WithMaxCyclePasses sets the per-node cycle stabilization bound.
func WithMaxCyclePasses(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.maxCyclePasses = n
		}
	}
}

// WithCycleHook registers a function called whenever a cycle record forms
// or fractures.
func WithCycleHook(fn func(CycleChange)) Option {
	return func(g *Graph) {
		g.cycleHook = fn
	}
}

type opKind int

const (
	opAddNode opKind = iota + 1
	opRemoveNode
	opAddEdge
	opRemoveEdge
)

type op struct {
	kind     opKind
	node     Node
	from, to NodeID
	edge     EdgeKind
}

// Graph is the node/edge store with a maintained topological order.
type Graph struct {
	logger *slog.Logger

	// Applied state.
	nodes   map[NodeID]Node
	forward map[NodeID]map[NodeID]EdgeKind
	reverse map[NodeID]map[NodeID]EdgeKind
	order   []NodeID
	index   map[NodeID]int
	cycles  map[NodeID]*cycleRecord

	// informed holds cycle members that have already been told they are
	// cyclic. Cleared when a node leaves its last cycle.
	informed map[NodeID]bool

	// Staged view: what callers see as registered, ahead of the pending log.
	staged  map[NodeID]Node
	pending []op

	dirty map[NodeID]struct{}
	refs  map[NodeID]int

	reach      map[NodeID]bool
	reachValid bool

	processing     bool
	maxSteps       int
	maxCyclePasses int
	cycleHook      func(CycleChange)
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		logger:         slog.Default(),
		nodes:          make(map[NodeID]Node),
		forward:        make(map[NodeID]map[NodeID]EdgeKind),
		reverse:        make(map[NodeID]map[NodeID]EdgeKind),
		index:          make(map[NodeID]int),
		cycles:         make(map[NodeID]*cycleRecord),
		informed:       make(map[NodeID]bool),
		staged:         make(map[NodeID]Node),
		dirty:          make(map[NodeID]struct{}),
		refs:           make(map[NodeID]int),
		reach:          make(map[NodeID]bool),
		maxSteps:       DefaultMaxSteps,
		maxCyclePasses: DefaultMaxCyclePasses,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode stages registration of n.
func (g *Graph) AddNode(n Node) error {
	id := n.NodeID()
	if _, ok := g.staged[id]; ok {
		return newInvariantError(CodeNodeExists, id, "node already registered")
	}
	g.staged[id] = n
	g.pending = append(g.pending, op{kind: opAddNode, node: n})
	return nil
}

// RemoveNode stages removal of n and every incident edge. Retained nodes
// cannot be removed.
func (g *Graph) RemoveNode(n Node) error {
	id := n.NodeID()
	if _, ok := g.staged[id]; !ok {
		return newInvariantError(CodeNodeMissing, id, "cannot remove unregistered node")
	}
	if g.refs[id] > 0 {
		return newInvariantError(CodeNodeRetained, id, "cannot remove retained node (refs=%d)", g.refs[id])
	}
	delete(g.staged, id)
	delete(g.dirty, id)
	g.pending = append(g.pending, op{kind: opRemoveNode, node: n})
	return nil
}

// AddEdge stages an edge from -> to. Both endpoints must be registered.
func (g *Graph) AddEdge(from, to Node, kind EdgeKind) error {
	if err := g.checkEdge(from, to, kind); err != nil {
		return err
	}
	g.pending = append(g.pending, op{kind: opAddEdge, from: from.NodeID(), to: to.NodeID(), edge: kind})
	return nil
}

// RemoveEdge stages removal of the given kind bits from the edge from -> to.
func (g *Graph) RemoveEdge(from, to Node, kind EdgeKind) error {
	if err := g.checkEdge(from, to, kind); err != nil {
		return err
	}
	g.pending = append(g.pending, op{kind: opRemoveEdge, from: from.NodeID(), to: to.NodeID(), edge: kind})
	return nil
}

func (g *Graph) checkEdge(from, to Node, kind EdgeKind) error {
	if kind&(EdgeSoft|EdgeHard) == 0 {
		return newInvariantError(CodeInvalidEdge, from.NodeID(), "edge kind %d has no soft or hard bit", kind)
	}
	if _, ok := g.staged[from.NodeID()]; !ok {
		return newInvariantError(CodeNodeMissing, from.NodeID(), "edge source is not registered")
	}
	if _, ok := g.staged[to.NodeID()]; !ok {
		return newInvariantError(CodeNodeMissing, to.NodeID(), "edge target is not registered")
	}
	return nil
}

// HasNode reports whether id is registered, counting staged operations.
func (g *Graph) HasNode(id NodeID) bool {
	_, ok := g.staged[id]
	return ok
}

// Node returns the registered node for id, counting staged operations.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.staged[id]
	return n, ok
}

// MarkDirty flags n for recomputation. Returns false if n is not registered.
func (g *Graph) MarkDirty(n Node) bool {
	id := n.NodeID()
	if _, ok := g.staged[id]; !ok {
		return false
	}
	g.dirty[id] = struct{}{}
	return true
}

// IsDirty reports whether id is waiting for recomputation.
func (g *Graph) IsDirty(id NodeID) bool {
	_, ok := g.dirty[id]
	return ok
}

// HasDirty reports whether any node is waiting for recomputation.
func (g *Graph) HasDirty() bool {
	return len(g.dirty) > 0
}

// Retain increments n's reference count, registering it on first retain.
// A node with a positive count is a traversal root.
func (g *Graph) Retain(n Node) int {
	id := n.NodeID()
	if _, ok := g.staged[id]; !ok {
		g.staged[id] = n
		g.pending = append(g.pending, op{kind: opAddNode, node: n})
	}
	g.refs[id]++
	if g.refs[id] == 1 {
		g.reachValid = false
	}
	return g.refs[id]
}

// Release decrements n's reference count. Releasing an unretained node is
// an error and leaves the count at zero.
func (g *Graph) Release(n Node) (int, error) {
	id := n.NodeID()
	count := g.refs[id]
	if count == 0 {
		return 0, newInvariantError(CodeNotRetained, id, "release without matching retain")
	}
	count--
	if count == 0 {
		delete(g.refs, id)
		g.reachValid = false
	} else {
		g.refs[id] = count
	}
	return count, nil
}

// RefCount returns id's reference count.
func (g *Graph) RefCount(id NodeID) int {
	return g.refs[id]
}

// IsRetained reports whether id is a traversal root.
func (g *Graph) IsRetained(id NodeID) bool {
	return g.refs[id] > 0
}

// Commit applies staged operations now. It is a no-op inside Process, where
// the traversal owns the checkpoints.
func (g *Graph) Commit() {
	if g.processing {
		return
	}
	g.applyPending()
}

// Pending returns the number of staged operations not yet applied.
func (g *Graph) Pending() int {
	return len(g.pending)
}

// Len returns the number of applied nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Index returns id's position in the applied topological order.
func (g *Graph) Index(id NodeID) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Order returns a copy of the applied topological order.
func (g *Graph) Order() []NodeID {
	return slices.Clone(g.order)
}

// Edge returns the applied edge kind bits for from -> to.
func (g *Graph) Edge(from, to NodeID) EdgeKind {
	return g.forward[from][to]
}

// Dependents returns the applied targets of id's outgoing edges, in order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	return g.successors(id)
}

// Dependencies returns the applied sources of id's incoming edges, in order.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	return g.predecessors(id)
}

// InCycle reports whether id currently belongs to a cycle record.
func (g *Graph) InCycle(id NodeID) bool {
	return g.cycles[id] != nil
}

// CycleMembers returns the members of id's cycle record in order, or nil.
func (g *Graph) CycleMembers(id NodeID) []NodeID {
	rec := g.cycles[id]
	if rec == nil {
		return nil
	}
	return g.sortedMembers(rec)
}

// MarkCycle records that id has been told it is part of a cycle.
func (g *Graph) MarkCycle(id NodeID) {
	g.informed[id] = true
}

// IsInformed reports whether id has been told it is part of a cycle.
func (g *Graph) IsInformed(id NodeID) bool {
	return g.informed[id]
}

// successors returns indexed targets of id's outgoing edges sorted by index.
func (g *Graph) successors(id NodeID) []NodeID {
	return g.sortedKeys(g.forward[id])
}

// predecessors returns indexed sources of id's incoming edges sorted by index.
func (g *Graph) predecessors(id NodeID) []NodeID {
	return g.sortedKeys(g.reverse[id])
}

func (g *Graph) sortedKeys(m map[NodeID]EdgeKind) []NodeID {
	out := make([]NodeID, 0, len(m))
	for id := range m {
		if _, ok := g.index[id]; ok {
			out = append(out, id)
		}
	}
	g.sortByIndex(out)
	return out
}

func (g *Graph) sortByIndex(ids []NodeID) {
	slices.SortFunc(ids, func(a, b NodeID) int {
		return g.index[a] - g.index[b]
	})
}

func (g *Graph) sortedMembers(rec *cycleRecord) []NodeID {
	out := make([]NodeID, 0, len(rec.members))
	for id := range rec.members {
		out = append(out, id)
	}
	g.sortByIndex(out)
	return out
}
