package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/graph"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFlushIDGenerator(NewSequenceGenerator("flush")),
	}
	return New(append(base, opts...)...)
}

func mustFlush(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Flush())
	require.NoError(t, e.Check())
}

func mustGet[T any](t *testing.T, c *Calc[T]) T {
	t.Helper()
	v, err := c.Get()
	require.NoError(t, err)
	return v
}

// recordingObserver keeps every event in arrival order.
type recordingObserver struct {
	started  []FlushInfo
	nodes    []NodeEvent
	finished []FlushResult
	cycles   []CycleEvent
}

func (r *recordingObserver) FlushStarted(ev FlushInfo)  { r.started = append(r.started, ev) }
func (r *recordingObserver) NodeProcessed(ev NodeEvent) { r.nodes = append(r.nodes, ev) }
func (r *recordingObserver) FlushFinished(ev FlushResult) {
	r.finished = append(r.finished, ev)
}
func (r *recordingObserver) CycleChanged(ev CycleEvent) { r.cycles = append(r.cycles, ev) }

// recomputed returns the labels of nodes that got a recalculate action.
func (r *recordingObserver) recomputed() []string {
	var out []string
	for _, ev := range r.nodes {
		if ev.Action == graph.ActionRecalculate {
			out = append(out, ev.Label)
		}
	}
	return out
}
