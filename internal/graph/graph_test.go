package graph

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	id   NodeID
	name string
}

func (n *testNode) NodeID() NodeID { return n.id }
func (n *testNode) Label() string  { return n.name }

func nodes(n int) []*testNode {
	out := make([]*testNode, n+1)
	for i := 1; i <= n; i++ {
		out[i] = &testNode{id: NodeID(i)}
	}
	return out
}

func newTestGraph(opts ...Option) *Graph {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(append([]Option{WithLogger(logger)}, opts...)...)
}

func mustAdd(t *testing.T, g *Graph, ns ...*testNode) {
	t.Helper()
	for _, n := range ns {
		require.NoError(t, g.AddNode(n))
	}
}

func mustEdge(t *testing.T, g *Graph, from, to *testNode, kind EdgeKind) {
	t.Helper()
	require.NoError(t, g.AddEdge(from, to, kind))
}

func assertBefore(t *testing.T, g *Graph, a, b NodeID) {
	t.Helper()
	ia, ok := g.Index(a)
	require.True(t, ok, "node %d not ordered", a)
	ib, ok := g.Index(b)
	require.True(t, ok, "node %d not ordered", b)
	assert.Less(t, ia, ib, "expected %d before %d in %v", a, b, g.Order())
}

// =============================================================================
// Staging
// =============================================================================

func TestGraph_AddNodeIsStaged(t *testing.T) {
	g := newTestGraph()
	n := nodes(1)

	require.NoError(t, g.AddNode(n[1]))
	assert.True(t, g.HasNode(1), "staged node is visible to queries")
	assert.Equal(t, 0, g.Len(), "staged node is not applied yet")
	assert.Equal(t, 1, g.Pending())

	g.Commit()
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 0, g.Pending())
	idx, ok := g.Index(1)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestGraph_AddNodeTwice(t *testing.T) {
	g := newTestGraph()
	n := nodes(1)

	require.NoError(t, g.AddNode(n[1]))
	err := g.AddNode(n[1])
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeNodeExists))
	assert.True(t, IsInvariantError(err))
}

func TestGraph_EdgeRequiresEndpoints(t *testing.T) {
	g := newTestGraph()
	n := nodes(2)
	mustAdd(t, g, n[1])

	err := g.AddEdge(n[1], n[2], EdgeHard)
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeNodeMissing))

	err = g.RemoveEdge(n[2], n[1], EdgeHard)
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeNodeMissing))

	mustAdd(t, g, n[2])
	err = g.AddEdge(n[1], n[2], 0)
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidEdge))
}

func TestGraph_BatchPlacementFollowsEdges(t *testing.T) {
	g := newTestGraph()
	n := nodes(3)

	// Added in reverse of their dependency order.
	mustAdd(t, g, n[3], n[2], n[1])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[3], EdgeHard)
	g.Commit()

	if diff := cmp.Diff([]NodeID{1, 2, 3}, g.Order()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, g.Check())
}

func TestGraph_EdgesMergeKinds(t *testing.T) {
	g := newTestGraph()
	n := nodes(2)
	mustAdd(t, g, n[1], n[2])
	mustEdge(t, g, n[1], n[2], EdgeSoft)
	mustEdge(t, g, n[1], n[2], EdgeHard)
	g.Commit()

	assert.Equal(t, EdgeHard|EdgeSoft, g.Edge(1, 2))

	require.NoError(t, g.RemoveEdge(n[1], n[2], EdgeSoft))
	g.Commit()
	assert.Equal(t, EdgeHard, g.Edge(1, 2))
	assert.Equal(t, []NodeID{2}, g.Dependents(1))
	assert.Equal(t, []NodeID{1}, g.Dependencies(2))

	require.NoError(t, g.RemoveEdge(n[1], n[2], EdgeHard))
	g.Commit()
	assert.Equal(t, EdgeKind(0), g.Edge(1, 2))
	assert.Empty(t, g.Dependents(1))
}

func TestGraph_RemoveNodeInSameBatch(t *testing.T) {
	g := newTestGraph()
	n := nodes(2)
	mustAdd(t, g, n[1], n[2])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	require.NoError(t, g.RemoveNode(n[2]))
	g.Commit()

	assert.False(t, g.HasNode(2))
	assert.Equal(t, 1, g.Len())
	assert.Empty(t, g.Dependents(1))
	require.NoError(t, g.Check())
}

// =============================================================================
// Order maintenance
// =============================================================================

func TestGraph_InsertEdgeRepairsOrder(t *testing.T) {
	g := newTestGraph()
	n := nodes(4)
	mustAdd(t, g, n[1], n[2], n[3], n[4])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	g.Commit()
	require.Equal(t, []NodeID{1, 2, 3, 4}, g.Order())

	// 4 must now precede 1, dragging nothing else out of place.
	mustEdge(t, g, n[4], n[1], EdgeSoft)
	g.Commit()

	assertBefore(t, g, 4, 1)
	assertBefore(t, g, 1, 2)
	assert.False(t, g.InCycle(1))
	require.NoError(t, g.Check())
}

func TestGraph_ConsistentEdgeNeedsNoRepair(t *testing.T) {
	g := newTestGraph()
	n := nodes(3)
	mustAdd(t, g, n[1], n[2], n[3])
	g.Commit()
	before := g.Order()

	mustEdge(t, g, n[1], n[3], EdgeHard)
	g.Commit()
	assert.Equal(t, before, g.Order())
}

func TestGraph_RandomMutationsKeepInvariants(t *testing.T) {
	const size = 10
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			g := newTestGraph()
			n := nodes(size)
			for i := 1; i <= size; i++ {
				mustAdd(t, g, n[i])
			}
			g.Commit()

			for step := 0; step < 300; step++ {
				a := n[1+rng.Intn(size)]
				b := n[1+rng.Intn(size)]
				kind := EdgeKind(1 + rng.Intn(3))
				switch r := rng.Intn(10); {
				case r < 5:
					require.NoError(t, g.AddEdge(a, b, kind))
				case r < 9:
					require.NoError(t, g.RemoveEdge(a, b, kind))
				default:
					if g.HasNode(a.id) {
						require.NoError(t, g.RemoveNode(a))
					}
					g.Commit()
					mustAdd(t, g, a)
				}
				if rng.Intn(3) == 0 {
					continue // let a few operations batch up
				}
				g.Commit()
				require.NoError(t, g.Check(), "step %d", step)
			}
			g.Commit()
			require.NoError(t, g.Check())
		})
	}
}

// =============================================================================
// Cycles
// =============================================================================

func TestGraph_CycleFormation(t *testing.T) {
	var changes []CycleChange
	g := newTestGraph(WithCycleHook(func(c CycleChange) { changes = append(changes, c) }))
	n := nodes(4)
	mustAdd(t, g, n[1], n[2], n[3], n[4])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[3], EdgeHard)
	mustEdge(t, g, n[3], n[4], EdgeHard)
	g.Commit()
	assert.Empty(t, changes)

	mustEdge(t, g, n[3], n[1], EdgeHard)
	g.Commit()

	for _, id := range []NodeID{1, 2, 3} {
		assert.True(t, g.InCycle(id), "node %d should be cyclic", id)
		assert.True(t, g.IsDirty(id), "uninformed member %d is marked dirty", id)
	}
	assert.False(t, g.InCycle(4))
	assert.ElementsMatch(t, []NodeID{1, 2, 3}, g.CycleMembers(2))
	assertBefore(t, g, 3, 4)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Formed)
	assert.ElementsMatch(t, []NodeID{1, 2, 3}, changes[0].Members)
	require.NoError(t, g.Check())
}

func TestGraph_CycleAmongNewNodes(t *testing.T) {
	g := newTestGraph()
	n := nodes(2)
	mustAdd(t, g, n[1], n[2])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[1], EdgeHard)
	g.Commit()

	assert.True(t, g.InCycle(1))
	assert.True(t, g.InCycle(2))
	require.NoError(t, g.Check())
}

func TestGraph_SelfLoop(t *testing.T) {
	g := newTestGraph()
	n := nodes(1)
	mustAdd(t, g, n[1])
	mustEdge(t, g, n[1], n[1], EdgeHard)
	g.Commit()
	assert.True(t, g.InCycle(1))
	require.NoError(t, g.Check())

	require.NoError(t, g.RemoveEdge(n[1], n[1], EdgeHard))
	g.Commit()
	assert.False(t, g.InCycle(1))
	require.NoError(t, g.Check())
}

func TestGraph_CycleFracture(t *testing.T) {
	var changes []CycleChange
	g := newTestGraph(WithCycleHook(func(c CycleChange) { changes = append(changes, c) }))
	n := nodes(3)
	mustAdd(t, g, n[1], n[2], n[3])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[1], EdgeHard)
	mustEdge(t, g, n[2], n[3], EdgeHard)
	mustEdge(t, g, n[3], n[2], EdgeHard)
	g.Commit()
	require.ElementsMatch(t, []NodeID{1, 2, 3}, g.CycleMembers(1))
	g.MarkCycle(1)
	g.MarkCycle(2)
	g.MarkCycle(3)
	_, err := g.Process(func(Node, Action) bool { return false })
	require.NoError(t, err)

	require.NoError(t, g.RemoveEdge(n[3], n[2], EdgeHard))
	g.Commit()

	// 1 and 2 still form a loop and keep their informed state; 3 falls out.
	assert.ElementsMatch(t, []NodeID{1, 2}, g.CycleMembers(1))
	assert.True(t, g.IsInformed(1))
	assert.True(t, g.IsInformed(2))
	assert.False(t, g.InCycle(3))
	assert.False(t, g.IsInformed(3))
	assert.True(t, g.IsDirty(3))
	assertBefore(t, g, 2, 3)

	last := changes[len(changes)-1]
	assert.False(t, last.Formed)
	assert.ElementsMatch(t, []NodeID{1, 2, 3}, last.Members)
	require.NoError(t, g.Check())
}

func TestGraph_RemoveNodeInCycle(t *testing.T) {
	g := newTestGraph()
	n := nodes(3)
	mustAdd(t, g, n[1], n[2], n[3])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[3], EdgeHard)
	mustEdge(t, g, n[3], n[1], EdgeHard)
	g.Commit()
	require.True(t, g.InCycle(2))

	require.NoError(t, g.RemoveNode(n[2]))
	g.Commit()

	assert.False(t, g.HasNode(2))
	assert.False(t, g.InCycle(1))
	assert.False(t, g.InCycle(3))
	assert.True(t, g.IsDirty(1))
	assert.True(t, g.IsDirty(3))
	assert.False(t, g.IsDirty(2))
	assertBefore(t, g, 3, 1)
	require.NoError(t, g.Check())
}

func TestComponents_DependencyOrder(t *testing.T) {
	g := newTestGraph()
	n := nodes(5)
	mustAdd(t, g, n[1], n[2], n[3], n[4], n[5])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[3], EdgeHard)
	mustEdge(t, g, n[3], n[2], EdgeHard)
	mustEdge(t, g, n[3], n[4], EdgeSoft)
	g.Commit()

	comps := g.Components([]NodeID{4})
	require.Len(t, comps, 3)
	assert.Equal(t, []NodeID{1}, comps[0])
	assert.ElementsMatch(t, []NodeID{2, 3}, comps[1])
	assert.Equal(t, []NodeID{4}, comps[2])
}

// =============================================================================
// Retain / Release
// =============================================================================

func TestGraph_RetainRelease(t *testing.T) {
	g := newTestGraph()
	n := nodes(1)

	assert.Equal(t, 1, g.Retain(n[1]), "first retain registers the node")
	assert.True(t, g.HasNode(1))
	assert.Equal(t, 2, g.Retain(n[1]))

	count, err := g.Release(n[1])
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, g.IsRetained(1))

	count, err = g.Release(n[1])
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.False(t, g.IsRetained(1))
	assert.True(t, g.HasNode(1), "release does not remove the node")

	count, err = g.Release(n[1])
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeNotRetained))
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, g.RefCount(1))
}

func TestGraph_RemoveRetainedNode(t *testing.T) {
	g := newTestGraph()
	n := nodes(1)
	g.Retain(n[1])

	err := g.RemoveNode(n[1])
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeNodeRetained))
	assert.True(t, g.HasNode(1))
}

// =============================================================================
// Process
// =============================================================================

type processLog struct {
	calls   []string
	changed map[NodeID]bool
}

func (p *processLog) fn(n Node, a Action) bool {
	p.calls = append(p.calls, fmt.Sprintf("%s:%d", a, n.NodeID()))
	if a == ActionInvalidate {
		return false
	}
	return p.changed[n.NodeID()]
}

func diamond(t *testing.T, g *Graph) []*testNode {
	t.Helper()
	n := nodes(4)
	mustAdd(t, g, n[1], n[2], n[3], n[4])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[1], n[3], EdgeHard)
	mustEdge(t, g, n[2], n[4], EdgeHard)
	mustEdge(t, g, n[3], n[4], EdgeHard)
	g.Retain(n[4])
	g.Commit()
	return n
}

func TestProcess_TopologicalOrder(t *testing.T) {
	g := newTestGraph()
	n := diamond(t, g)
	g.MarkDirty(n[1])

	p := &processLog{changed: map[NodeID]bool{1: true, 2: true, 3: true, 4: true}}
	stats, err := g.Process(p.fn)
	require.NoError(t, err)

	want := []string{
		"invalidate:1", "recalculate:1",
		"invalidate:2", "recalculate:2",
		"invalidate:3", "recalculate:3",
		"invalidate:4", "recalculate:4",
	}
	if diff := cmp.Diff(want, p.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, stats.Steps)
	assert.Equal(t, 0, stats.Rewinds)
	assert.False(t, g.HasDirty())
}

func TestProcess_UnchangedStopsPropagation(t *testing.T) {
	g := newTestGraph()
	n := diamond(t, g)
	g.MarkDirty(n[1])

	p := &processLog{changed: map[NodeID]bool{1: true}}
	stats, err := g.Process(p.fn)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Steps)
	assert.NotContains(t, p.calls, "recalculate:4")
}

func TestProcess_SweepsUnreachable(t *testing.T) {
	g := newTestGraph()
	n := nodes(2)
	mustAdd(t, g, n[1], n[2])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	g.Commit()
	g.MarkDirty(n[1])

	p := &processLog{}
	stats, err := g.Process(p.fn)
	require.NoError(t, err)

	assert.Equal(t, []string{"invalidate:1", "invalidate:2"}, p.calls)
	assert.Equal(t, 0, stats.Steps)
	assert.Equal(t, 2, stats.Swept)
	assert.False(t, g.HasDirty())
}

func TestProcess_MutationDuringVisitRewinds(t *testing.T) {
	g := newTestGraph()
	n := nodes(3)
	mustAdd(t, g, n[1], n[2])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	g.Retain(n[2])
	g.Commit()
	g.MarkDirty(n[1])

	added := false
	var calls []NodeID
	fn := func(node Node, a Action) bool {
		if a != ActionRecalculate {
			return false
		}
		calls = append(calls, node.NodeID())
		if node.NodeID() == 2 && !added {
			added = true
			require.NoError(t, g.AddNode(n[3]))
			require.NoError(t, g.AddEdge(n[3], n[2], EdgeHard))
			g.MarkDirty(n[3])
		}
		return true
	}

	stats, err := g.Process(fn)
	require.NoError(t, err)

	assert.Equal(t, []NodeID{1, 2, 3, 2}, calls)
	assert.Equal(t, 4, stats.Steps)
	assert.Equal(t, 1, stats.Rewinds)
	assertBefore(t, g, 3, 2)
	require.NoError(t, g.Check())
}

func TestProcess_CycleGroup(t *testing.T) {
	g := newTestGraph()
	n := nodes(4)
	mustAdd(t, g, n[1], n[2], n[3], n[4])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	mustEdge(t, g, n[2], n[3], EdgeHard)
	mustEdge(t, g, n[3], n[2], EdgeHard)
	mustEdge(t, g, n[3], n[4], EdgeHard)
	g.Retain(n[4])
	g.Commit()
	require.Equal(t, []NodeID{1, 2, 3, 4}, g.Order())

	var calls []string
	fn := func(node Node, a Action) bool {
		calls = append(calls, fmt.Sprintf("%s:%d", a, node.NodeID()))
		// A cyclic recompute discovers the loop on its own.
		if a == ActionRecalculate && g.InCycle(node.NodeID()) {
			g.MarkCycle(node.NodeID())
		}
		return a != ActionInvalidate
	}

	_, err := g.Process(fn)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"invalidate:2", "invalidate:3",
		"recalculate:2", "cycle:3",
		"invalidate:4", "recalculate:4",
	}, calls)

	calls = nil
	g.MarkDirty(n[1])
	_, err = g.Process(fn)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"invalidate:1", "recalculate:1",
		"invalidate:2", "invalidate:3",
		"recalculate-cycle:2", "recalculate-cycle:3",
		"invalidate:4", "recalculate:4",
	}, calls)

	require.NoError(t, g.RemoveEdge(n[3], n[2], EdgeHard))
	g.Commit()
	assert.False(t, g.InCycle(2))
	assert.False(t, g.IsInformed(2))
	assert.True(t, g.IsDirty(2))
	require.NoError(t, g.Check())
}

func TestProcess_StepQuota(t *testing.T) {
	g := newTestGraph(WithMaxSteps(5))
	n := nodes(1)
	g.Retain(n[1])
	g.MarkDirty(n[1])

	stats, err := g.Process(func(node Node, a Action) bool {
		g.MarkDirty(node)
		return false
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeStepQuota))
	assert.Equal(t, 6, stats.Steps)
}

func TestProcess_Reentry(t *testing.T) {
	g := newTestGraph()
	n := nodes(1)
	g.Retain(n[1])
	g.MarkDirty(n[1])

	var inner error
	_, err := g.Process(func(Node, Action) bool {
		_, inner = g.Process(func(Node, Action) bool { return false })
		return false
	})
	require.NoError(t, err)
	require.Error(t, inner)
	assert.True(t, HasCode(inner, CodeProcessReentry))
}

// =============================================================================
// Describe
// =============================================================================

func TestDescribe_DOT(t *testing.T) {
	g := newTestGraph()
	source := &testNode{id: 1, name: "source"}
	double := &testNode{id: 2, name: "double"}
	view := &testNode{id: 3, name: "view"}
	marker := &testNode{id: 4}
	mustAdd(t, g, source, double, view, marker)
	mustEdge(t, g, source, double, EdgeHard)
	mustEdge(t, g, double, view, EdgeHard)
	mustEdge(t, g, marker, view, EdgeSoft)
	mustEdge(t, g, source, view, EdgeHard|EdgeSoft)
	g.Retain(view)
	g.MarkDirty(source)
	g.Commit()

	d := g.Describe()
	require.Len(t, d.Nodes, 4)
	assert.Equal(t, "node-4", d.Nodes[2].Label)

	var buf bytes.Buffer
	require.NoError(t, d.WriteDOT(&buf))

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "describe_dot", buf.Bytes())
}

func TestDescribe_JSON(t *testing.T) {
	g := newTestGraph()
	n := nodes(2)
	mustAdd(t, g, n[1], n[2])
	mustEdge(t, g, n[1], n[2], EdgeHard)
	g.Retain(n[2])
	g.Commit()

	var buf bytes.Buffer
	require.NoError(t, g.Describe().WriteJSON(&buf))
	assert.JSONEq(t, `{
		"nodes": [
			{"id": 1, "label": "node-1", "index": 0},
			{"id": 2, "label": "node-2", "index": 1, "retained": true}
		],
		"edges": [{"from": 1, "to": 2, "kind": "hard"}]
	}`, buf.String())
}

func TestEdgeKind_String(t *testing.T) {
	tests := []struct {
		kind EdgeKind
		want string
	}{
		{EdgeHard, "hard"},
		{EdgeSoft, "soft"},
		{EdgeHard | EdgeSoft, "hard+soft"},
		{0, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}
