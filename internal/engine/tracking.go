package engine

import "github.com/roach88/ripple/internal/graph"

// vertex is implemented by nodes with a cached value the scheduler manages.
// Nodes without it (fields, markers, external nodes) are treated as changed
// whenever they are visited.
type vertex interface {
	graph.Node
	invalidate() error
	recalculate() bool
	recalculateCycle() bool
	setCycle() bool
}

// frame records the dependencies read by one executing calculation.
type frame struct {
	owner graph.Node
	deps  map[graph.NodeID]graph.Node
	order []graph.Node

	// cycle is set when the owner, or a calculation it called, read a
	// calculation that was still executing.
	cycle bool
}

func (e *Engine) pushFrame(owner graph.Node) *frame {
	f := &frame{
		owner: owner,
		deps:  make(map[graph.NodeID]graph.Node),
	}
	e.frames = append(e.frames, f)
	return f
}

func (e *Engine) popFrame(f *frame) {
	for i := len(e.frames) - 1; i >= 0; i-- {
		if e.frames[i] == f {
			e.frames = e.frames[:i]
			return
		}
	}
}

// caller returns the frame of the calculation that is executing, or nil at
// top level.
func (e *Engine) caller() *frame {
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1]
}

// tracking reports whether a calculation is currently collecting
// dependencies.
func (e *Engine) tracking() bool {
	return len(e.frames) > 0
}

// track records dep as a dependency of the executing calculation.
func (e *Engine) track(dep graph.Node) {
	f := e.caller()
	if f == nil {
		return
	}
	id := dep.NodeID()
	if _, ok := f.deps[id]; ok {
		return
	}
	f.deps[id] = dep
	f.order = append(f.order, dep)
}

// ensureNode registers n if it is not in the graph yet.
func (e *Engine) ensureNode(n graph.Node) {
	if e.graph.HasNode(n.NodeID()) {
		return
	}
	if err := e.graph.AddNode(n); err != nil {
		e.logger.Error("lazy registration failed", "node", n.NodeID(), "error", err)
	}
}

// signalCycle flags every frame from owner's frame to the top of the stack:
// all of them are part of the loop that just closed.
func (e *Engine) signalCycle(owner graph.NodeID) {
	for i := len(e.frames) - 1; i >= 0; i-- {
		e.frames[i].cycle = true
		if e.frames[i].owner.NodeID() == owner {
			return
		}
	}
}
