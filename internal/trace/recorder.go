package trace

import (
	"sync"

	"github.com/roach88/ripple/internal/engine"
)

// Recorder collects trace events in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) FlushStarted(ev engine.FlushInfo)    { r.add(fromFlushInfo(ev)) }
func (r *Recorder) NodeProcessed(ev engine.NodeEvent)   { r.add(fromNodeEvent(ev)) }
func (r *Recorder) FlushFinished(ev engine.FlushResult) { r.add(fromFlushResult(ev)) }
func (r *Recorder) CycleChanged(ev engine.CycleEvent)   { r.add(fromCycleEvent(ev)) }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Flush returns the events of one flush.
func (r *Recorder) Flush(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.FlushID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Drain returns everything recorded and clears the recorder.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
