package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/engine"
)

var _ engine.FlushIDGenerator = (*FixedFlushIDGenerator)(nil)

func TestFixedFlushIDGenerator(t *testing.T) {
	gen := NewFixedFlushIDGenerator("run-a")
	for i := 0; i < 3; i++ {
		assert.Equal(t, "run-a", gen.Generate())
	}
	assert.Equal(t, "flush-fixed", NewFixedFlushIDGenerator("").Generate())
}

func TestFixedFlushIDGenerator_Concurrent(t *testing.T) {
	gen := NewFixedFlushIDGenerator("same")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "same", gen.Generate())
		}()
	}
	wg.Wait()
}

type flushIDs struct{ ids []string }

func (f *flushIDs) FlushStarted(ev engine.FlushInfo) { f.ids = append(f.ids, ev.ID) }
func (f *flushIDs) NodeProcessed(engine.NodeEvent)   {}
func (f *flushIDs) FlushFinished(engine.FlushResult) {}
func (f *flushIDs) CycleChanged(engine.CycleEvent)   {}

func TestNewEngine_Deterministic(t *testing.T) {
	obs := &flushIDs{}
	e := NewEngine(t, engine.WithObserver(obs))

	a := engine.NewField(e, "a", 1)
	b := engine.NewCalc(e, "b", func() (int, error) { return a.Get() * 2, nil })
	e.Retain(b)
	v, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	a.Set(5)
	Flush(t, e)
	Flush(t, e)

	assert.Equal(t, []string{"flush-1", "flush-2"}, obs.ids)
	assert.Equal(t, 10, b.MustGet())
}

func TestNewEngine_OptionsOverride(t *testing.T) {
	obs := &flushIDs{}
	e := NewEngine(t,
		engine.WithObserver(obs),
		engine.WithFlushIDGenerator(NewFixedFlushIDGenerator("")))

	Flush(t, e)
	Flush(t, e)
	assert.Equal(t, []string{"flush-fixed", "flush-fixed"}, obs.ids)
}
