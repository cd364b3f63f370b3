package engine

import "github.com/roach88/ripple/internal/graph"

// source is a plain graph node standing for one observable piece of data.
// It joins the graph the first time a calculation reads it, so data nobody
// depends on costs nothing.
type source struct {
	e     *Engine
	id    graph.NodeID
	label string
}

func newSource(e *Engine, label string) *source {
	return &source{e: e, id: e.newID(), label: label}
}

func (s *source) NodeID() graph.NodeID { return s.id }
func (s *source) Label() string        { return s.label }

// read records the source as a dependency of the executing calculation.
func (s *source) read() {
	if !s.e.tracking() {
		return
	}
	s.e.ensureNode(s)
	s.e.track(s)
}

// changed dirties the source if anything could depend on it.
func (s *source) changed() {
	if s.e.graph.HasNode(s.id) {
		s.e.markDirty(s)
	}
}

func (s *source) dispose() error {
	if !s.e.graph.HasNode(s.id) {
		return nil
	}
	return s.e.DisposeNode(s)
}

// Marker is a plain node with no value, used as an ordering anchor or as a
// sink that external code marks dirty.
type Marker struct {
	source
}

// NewMarker creates and registers a marker node.
func NewMarker(e *Engine, label string) *Marker {
	m := &Marker{source: source{e: e, id: e.newID(), label: label}}
	if err := e.RegisterNode(m); err != nil {
		e.logger.Error("marker registration failed", "label", label, "error", err)
	}
	return m
}

// Read records the marker as a dependency of the executing calculation.
func (m *Marker) Read() {
	m.read()
}

// Touch marks the marker dirty so its hard dependents recompute.
func (m *Marker) Touch() {
	m.changed()
}

// Dispose removes the marker from the graph.
func (m *Marker) Dispose() error {
	return m.dispose()
}
