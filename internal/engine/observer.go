package engine

import (
	"time"

	"github.com/roach88/ripple/internal/graph"
)

// FlushInfo is reported when a flush starts.
type FlushInfo struct {
	ID  string
	Seq int64
}

// FlushResult is reported when a flush ends, successfully or not.
type FlushResult struct {
	ID       string
	Seq      int64
	Steps    int
	Rewinds  int
	Swept    int
	Duration time.Duration
	Err      error
}

// NodeEvent is reported for every action the scheduler applies to a node.
type NodeEvent struct {
	FlushID string
	Seq     int64
	Node    graph.NodeID
	Label   string
	Action  graph.Action
	Changed bool
}

// CycleEvent is reported when a cycle record forms or fractures. FlushID is
// empty when the change happened outside a flush.
type CycleEvent struct {
	FlushID string
	Seq     int64
	Formed  bool
	Members []graph.NodeID
}

// Observer receives engine events. Methods are called synchronously on the
// goroutine that owns the Engine and must not call back into it.
type Observer interface {
	FlushStarted(FlushInfo)
	NodeProcessed(NodeEvent)
	FlushFinished(FlushResult)
	CycleChanged(CycleEvent)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) FlushStarted(FlushInfo)    {}
func (NopObserver) NodeProcessed(NodeEvent)   {}
func (NopObserver) FlushFinished(FlushResult) {}
func (NopObserver) CycleChanged(CycleEvent)   {}

// MultiObserver fans events out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) FlushStarted(ev FlushInfo) {
	for _, o := range m {
		o.FlushStarted(ev)
	}
}

func (m MultiObserver) NodeProcessed(ev NodeEvent) {
	for _, o := range m {
		o.NodeProcessed(ev)
	}
}

func (m MultiObserver) FlushFinished(ev FlushResult) {
	for _, o := range m {
		o.FlushFinished(ev)
	}
}

func (m MultiObserver) CycleChanged(ev CycleEvent) {
	for _, o := range m {
		o.CycleChanged(ev)
	}
}
