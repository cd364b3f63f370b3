package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/config"
	"github.com/roach88/ripple/internal/graph"
)

// extNode stands for a node owned by code outside the engine.
type extNode struct{ id graph.NodeID }

func (n extNode) NodeID() graph.NodeID { return n.id }
func (n extNode) Label() string        { return "ext" }

// =============================================================================
// Retain / Release
// =============================================================================

func TestEngine_RetainReleaseBalance(t *testing.T) {
	e := newTestEngine(t)
	x := NewMarker(e, "x")

	assert.Equal(t, 1, e.Retain(x))
	assert.Equal(t, 2, e.Retain(x))

	require.NoError(t, e.Release(x))
	assert.True(t, e.IsRetained(x), "one retain still outstanding")

	require.NoError(t, e.Release(x))
	assert.False(t, e.IsRetained(x))
	assert.Equal(t, 0, e.RefCount(x))

	err := e.Release(x)
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeOverRelease, re.Code)
	assert.Equal(t, 0, e.RefCount(x), "count never goes negative")
	assert.True(t, e.Graph().HasNode(x.NodeID()), "release does not remove the node")
}

func TestEngine_RetainRegistersExternalNode(t *testing.T) {
	e := newTestEngine(t)
	n := extNode{id: 1000}

	e.Retain(n)
	assert.True(t, e.Graph().HasNode(n.id))
	require.NoError(t, e.Release(n))
	require.NoError(t, e.DisposeNode(n))
	assert.False(t, e.Graph().HasNode(n.id))
}

func TestEngine_RegisterNodeTwice(t *testing.T) {
	e := newTestEngine(t)
	n := extNode{id: 1000}
	require.NoError(t, e.RegisterNode(n))

	err := e.RegisterNode(n)
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))
	assert.True(t, graph.HasCode(err, graph.CodeNodeExists))
}

func TestEngine_ReleasedCalcStopsUpdating(t *testing.T) {
	e := newTestEngine(t)
	f := NewField(e, "f", 1)
	c := NewCalc(e, "c", func() (int, error) { return f.Get(), nil })
	e.Retain(c)
	mustGet(t, c)
	require.NoError(t, e.Release(c))

	f.Set(2)
	mustFlush(t, e)
	assert.Equal(t, 1, c.Calls(), "unretained calcs are invalidated, not recomputed")

	// Pulling it recomputes on demand.
	assert.Equal(t, 2, mustGet(t, c))
}

// =============================================================================
// Manual and ordering dependencies
// =============================================================================

func TestEngine_ManualDependency(t *testing.T) {
	e := newTestEngine(t)
	n := extNode{id: 1000}
	require.NoError(t, e.RegisterNode(n))
	c := NewCalc(e, "c", func() (int, error) { return 1, nil })
	e.Retain(c)
	mustGet(t, c)

	require.NoError(t, e.AddManualDep(n, c))
	assert.Equal(t, graph.EdgeHard, e.Graph().Edge(n.id, c.NodeID()))

	require.NoError(t, e.MarkDirty(n))
	mustFlush(t, e)
	assert.Equal(t, 2, c.Calls())

	require.NoError(t, e.RemoveManualDep(n, c))
	require.NoError(t, e.MarkDirty(n))
	mustFlush(t, e)
	assert.Equal(t, 2, c.Calls())
}

func TestEngine_OrderingDependencyDoesNotPropagate(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, WithObserver(obs))

	first := extNode{id: 1000}
	require.NoError(t, e.RegisterNode(first))
	c := NewCalc(e, "c", func() (int, error) { return 1, nil })
	e.Retain(c)
	mustGet(t, c)

	require.NoError(t, e.AddOrderingDep(first, c))
	assert.Equal(t, graph.EdgeSoft, e.Graph().Edge(first.id, c.NodeID()))

	require.NoError(t, e.MarkDirty(first))
	mustFlush(t, e)
	assert.Equal(t, 1, c.Calls())
	assert.Equal(t, []string{"ext"}, obs.recomputed(), "the soft source is still visited")

	require.NoError(t, e.RemoveOrderingDep(first, c))
	assert.Equal(t, graph.EdgeKind(0), e.Graph().Edge(first.id, c.NodeID()))
}

func TestEngine_EdgeToUnknownNode(t *testing.T) {
	e := newTestEngine(t)
	c := NewCalc(e, "c", func() (int, error) { return 1, nil })

	err := e.AddManualDep(extNode{id: 1000}, c)
	require.Error(t, err)
	assert.True(t, graph.HasCode(err, graph.CodeNodeMissing))
}

func TestEngine_MarkDirtyUnregistered(t *testing.T) {
	e := newTestEngine(t)
	err := e.MarkDirty(extNode{id: 1000})
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))
}

// =============================================================================
// Effects
// =============================================================================

func TestEffect_RunsWhileRetained(t *testing.T) {
	e := newTestEngine(t)
	f := NewField(e, "f", 1)
	var log []int
	eff := NewEffect(e, "logger", func() error {
		log = append(log, f.Get())
		return nil
	})

	e.Retain(eff)
	mustFlush(t, e)
	assert.Equal(t, []int{1}, log)

	f.Set(2)
	mustFlush(t, e)
	assert.Equal(t, []int{1, 2}, log)

	require.NoError(t, e.Release(eff))
	f.Set(3)
	mustFlush(t, e)
	assert.Equal(t, []int{1, 2}, log, "released effects do not run")
}

func TestEffect_NotRecordedAsDependency(t *testing.T) {
	e := newTestEngine(t)
	runs := 0
	eff := NewEffect(e, "side", func() error {
		runs++
		return nil
	})
	c := NewCalc(e, "caller", func() (int, error) {
		return 1, eff.Run()
	})

	assert.Equal(t, 1, mustGet(t, c))
	assert.Equal(t, 1, runs)
	assert.NotContains(t, e.Graph().Dependencies(c.NodeID()), eff.NodeID())
}

func TestEffect_OnError(t *testing.T) {
	e := newTestEngine(t)
	var caught error
	eff := NewEffect(e, "failing", func() error {
		return errNegative
	}).OnError(func(err error) { caught = err })

	require.NoError(t, eff.Run())
	assert.ErrorIs(t, caught, errNegative)
}

func TestEffect_ErrorWithoutHandler(t *testing.T) {
	e := newTestEngine(t)
	eff := NewEffect(e, "failing", func() error { return errNegative })

	err := eff.Run()
	assert.True(t, IsCalcError(err))
	assert.ErrorIs(t, err, errNegative)
}

// =============================================================================
// Scheduling
// =============================================================================

func TestEngine_SubscribeCalledOncePerDirtyPeriod(t *testing.T) {
	e := newTestEngine(t)
	f := NewField(e, "f", 1)
	c := NewCalc(e, "c", func() (int, error) { return f.Get(), nil })
	e.Retain(c)
	mustGet(t, c)

	calls := 0
	unsubscribe := e.Subscribe(func() { calls++ })

	f.Set(2)
	f.Set(3)
	assert.Equal(t, 1, calls)

	mustFlush(t, e)
	f.Set(4)
	assert.Equal(t, 2, calls)

	unsubscribe()
	mustFlush(t, e)
	f.Set(5)
	assert.Equal(t, 2, calls)
}

func TestEngine_NextFlush(t *testing.T) {
	e := newTestEngine(t)
	scheduled := 0
	e.Subscribe(func() { scheduled++ })

	ch := e.NextFlush()
	assert.Equal(t, 1, scheduled, "waiting for a flush schedules one")
	select {
	case <-ch:
		t.Fatal("closed before flush")
	default:
	}

	mustFlush(t, e)
	select {
	case <-ch:
	default:
		t.Fatal("not closed after flush")
	}
}

func TestEngine_FlushReentryRejected(t *testing.T) {
	e := newTestEngine(t)
	var inner error
	eff := NewEffect(e, "reenter", func() error {
		inner = e.Flush()
		return nil
	})
	e.Retain(eff)

	mustFlush(t, e)
	require.Error(t, inner)
	assert.True(t, IsInvariantError(inner))
}

func TestEngine_StepQuota(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, WithMaxFlushSteps(10), WithObserver(obs))
	f := NewField(e, "counter", 0)
	eff := NewEffect(e, "runaway", func() error {
		f.Set(f.Get() + 1)
		return nil
	})
	e.Retain(eff)

	err := e.Flush()
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))

	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "flush-1", se.FlushID)
	assert.Equal(t, 11, se.Steps)
	assert.Equal(t, 10, se.Limit)
	assert.True(t, graph.HasCode(err, graph.CodeStepQuota))

	require.Len(t, obs.finished, 1)
	assert.Equal(t, err, obs.finished[0].Err)
}

func TestEngine_WithConfig(t *testing.T) {
	e := newTestEngine(t, WithConfig(config.Config{MaxFlushSteps: 3, MaxCyclePasses: 2}))
	assert.Equal(t, 3, e.maxFlushSteps)
	assert.Equal(t, 2, e.maxCyclePasses)

	defaults := newTestEngine(t, WithConfig(config.Config{}))
	assert.Equal(t, DefaultMaxFlushSteps, defaults.maxFlushSteps)
	assert.Equal(t, DefaultMaxCyclePasses, defaults.maxCyclePasses)
}

// =============================================================================
// Observer
// =============================================================================

func TestEngine_ObserverEvents(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, WithObserver(obs))
	dep := NewField(e, "dependency", 1)
	c := NewCalc(e, "calc", func() (int, error) { return dep.Get(), nil })
	e.Retain(c)
	mustGet(t, c)

	dep.Set(2)
	mustFlush(t, e)

	require.Len(t, obs.started, 1)
	assert.Equal(t, FlushInfo{ID: "flush-1", Seq: 1}, obs.started[0])

	want := []NodeEvent{
		{FlushID: "flush-1", Seq: 2, Node: dep.NodeID(), Label: "dependency", Action: graph.ActionInvalidate},
		{FlushID: "flush-1", Seq: 3, Node: dep.NodeID(), Label: "dependency", Action: graph.ActionRecalculate, Changed: true},
		{FlushID: "flush-1", Seq: 4, Node: c.NodeID(), Label: "calc", Action: graph.ActionInvalidate},
		{FlushID: "flush-1", Seq: 5, Node: c.NodeID(), Label: "calc", Action: graph.ActionRecalculate, Changed: true},
	}
	assert.Equal(t, want, obs.nodes)

	require.Len(t, obs.finished, 1)
	done := obs.finished[0]
	assert.Equal(t, "flush-1", done.ID)
	assert.Equal(t, int64(6), done.Seq)
	assert.Equal(t, 2, done.Steps)
	assert.NoError(t, done.Err)
}

func TestMultiObserver_FansOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	e := newTestEngine(t, WithObserver(MultiObserver{a, b}))
	mustFlush(t, e)

	assert.Len(t, a.started, 1)
	assert.Len(t, b.started, 1)
	assert.Len(t, a.finished, 1)
	assert.Len(t, b.finished, 1)
}

func TestEngine_Describe(t *testing.T) {
	e := newTestEngine(t)
	f := NewField(e, "source", 1)
	c := NewCalc(e, "view", func() (int, error) { return f.Get(), nil })
	e.Retain(c)
	mustGet(t, c)
	f.Set(2)

	d := e.Describe()
	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "source", d.Nodes[0].Label)
	assert.True(t, d.Nodes[0].Dirty)
	assert.Equal(t, "view", d.Nodes[1].Label)
	assert.True(t, d.Nodes[1].Retained)
	require.Len(t, d.Edges, 1)
	assert.Equal(t, "hard", d.Edges[0].Kind)
}

func TestRuntimeError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *RuntimeError
		want string
	}{
		{
			name: "cycle with label",
			err:  NewCycleError(3, "total"),
			want: "CYCLE: cycle reached (node=total)",
		},
		{
			name: "calc error with id",
			err:  &RuntimeError{Code: ErrCodeCalc, Message: "calculation failed", Node: 7, Err: errors.New("bad")},
			want: "CALC_ERROR: calculation failed (node=7): bad",
		},
		{
			name: "no node",
			err:  &RuntimeError{Code: ErrCodeInvariant, Message: "flush called during flush"},
			want: "INVARIANT: flush called during flush",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
