package engine

import (
	"reflect"

	"github.com/roach88/ripple/internal/graph"
)

type calcState int

const (
	stateFlushed calcState = iota
	stateTracking
	stateCached
	stateError
	stateCycle
)

func (s calcState) String() string {
	switch s {
	case stateFlushed:
		return "flushed"
	case stateTracking:
		return "tracking"
	case stateCached:
		return "cached"
	case stateError:
		return "error"
	case stateCycle:
		return "cycle"
	default:
		return "unknown"
	}
}

type result[T any] struct {
	value T
	err   error
}

// Calc is a memoized computation. Its dependencies are whatever fields,
// models, collections and other calculations the body reads while it runs;
// the set is replaced on every run.
//
// Get returns the cached result when there is one, and runs the body
// otherwise. Flush invalidates and reruns retained calculations whose
// dependencies changed.
type Calc[T any] struct {
	e      *Engine
	id     graph.NodeID
	label  string
	fn     func() (T, error)
	eq     func(a, b T) bool
	onErr  func(error) T
	effect bool

	state    calcState
	current  result[T]
	computed bool

	// prior is the result cached when the scheduler last invalidated the
	// calculation. Recalculation reports a change when the new result
	// differs from it.
	prior    result[T]
	hadPrior bool

	deps     map[graph.NodeID]graph.Node
	depOrder []graph.Node
	calls    int
	disposed bool
}

// NewCalc creates a calculation and registers it with the engine. Values are
// compared with == when T is comparable; use Equal to supply a comparison.
func NewCalc[T any](e *Engine, label string, fn func() (T, error)) *Calc[T] {
	c := &Calc[T]{
		e:     e,
		id:    e.newID(),
		label: label,
		fn:    fn,
		eq:    strictEqual[T],
		deps:  make(map[graph.NodeID]graph.Node),
	}
	if err := e.graph.AddNode(c); err != nil {
		e.logger.Error("calc registration failed", "label", label, "error", err)
	}
	e.commit()
	return c
}

// Equal sets the comparison used to suppress propagation of unchanged
// results.
func (c *Calc[T]) Equal(eq func(a, b T) bool) *Calc[T] {
	if eq != nil {
		c.eq = eq
	}
	return c
}

// OnError installs a handler whose return value replaces the result when the
// body fails or the calculation is part of a cycle. Dependents see the
// substitute as an ordinary value.
func (c *Calc[T]) OnError(handler func(error) T) *Calc[T] {
	c.onErr = handler
	return c
}

func (c *Calc[T]) NodeID() graph.NodeID { return c.id }
func (c *Calc[T]) Label() string        { return c.label }

// Calls returns how many times the body has run.
func (c *Calc[T]) Calls() int { return c.calls }

// Get returns the current result, running the body if nothing is cached.
// Inside another calculation the read is recorded as a dependency.
func (c *Calc[T]) Get() (T, error) {
	var zero T
	if c.disposed {
		return zero, &RuntimeError{
			Code:    ErrCodeDisposed,
			Message: "calculation used after dispose",
			Node:    c.id,
			Label:   c.label,
		}
	}
	if !c.effect {
		c.e.track(c)
	}
	switch c.state {
	case stateTracking:
		c.e.signalCycle(c.id)
		return zero, NewCycleError(c.id, c.label)
	case stateCached, stateError, stateCycle:
		return c.current.value, c.current.err
	}
	value, err := c.compute()
	c.e.commit()
	return value, err
}

// MustGet is Get for callers that treat any error as fatal.
func (c *Calc[T]) MustGet() T {
	v, err := c.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Dispose removes the calculation from the graph. It must not be retained.
func (c *Calc[T]) Dispose() error {
	if c.disposed {
		return nil
	}
	if err := c.e.DisposeNode(c); err != nil {
		return err
	}
	c.disposed = true
	c.state = stateFlushed
	c.deps = nil
	c.depOrder = nil
	return nil
}

func (c *Calc[T]) compute() (T, error) {
	e := c.e
	c.state = stateTracking
	c.calls++
	f := e.pushFrame(c)

	finished := false
	defer func() {
		if !finished {
			// The body panicked. Leave the node recomputable.
			e.popFrame(f)
			c.state = stateFlushed
		}
	}()
	value, err := c.fn()
	finished = true
	e.popFrame(f)

	c.replaceDeps(f)

	switch {
	case f.cycle:
		return c.finishCycle()
	case err != nil:
		return c.finishError(err)
	default:
		return c.finishOk(value)
	}
}

// finishCycle settles a run that took part in a cycle. With a handler the
// substitute is cached, but only the outermost calculation of the loop
// returns it; the nested ones return the cycle error so their callers
// unwind, and the cycle is reported once.
func (c *Calc[T]) finishCycle() (T, error) {
	var zero T
	e := c.e
	e.graph.MarkCycle(c.id)
	cycleErr := NewCycleError(c.id, c.label)

	if c.onErr == nil {
		c.settle(stateCycle, result[T]{err: cycleErr})
		return zero, cycleErr
	}
	c.settle(stateCycle, result[T]{value: c.onErr(cycleErr)})
	if outer := e.caller(); outer != nil && outer.cycle {
		return zero, cycleErr
	}
	return c.current.value, nil
}

func (c *Calc[T]) finishError(err error) (T, error) {
	if c.onErr != nil {
		c.settle(stateError, result[T]{value: c.onErr(err)})
		return c.current.value, nil
	}
	wrapped := wrapCalcError(c.id, c.label, err)
	c.settle(stateError, result[T]{err: wrapped})
	var zero T
	return zero, wrapped
}

func (c *Calc[T]) finishOk(value T) (T, error) {
	// An equal result keeps the previous value so nothing downstream sees a
	// new object.
	if c.computed && c.current.err == nil && c.eq(c.current.value, value) {
		c.settle(stateCached, c.current)
	} else {
		c.settle(stateCached, result[T]{value: value})
	}
	return c.current.value, nil
}

func (c *Calc[T]) settle(state calcState, r result[T]) {
	c.state = state
	c.current = r
	c.computed = true
}

// replaceDeps swaps the calculation's incoming hard edges for the
// dependencies read during the run that just ended.
func (c *Calc[T]) replaceDeps(f *frame) {
	g := c.e.graph
	for _, dep := range c.depOrder {
		if _, keep := f.deps[dep.NodeID()]; keep {
			continue
		}
		if !g.HasNode(dep.NodeID()) {
			continue
		}
		if err := g.RemoveEdge(dep, c, graph.EdgeHard); err != nil {
			c.e.logger.Warn("dropping dependency failed", "calc", c.label, "dep", dep.NodeID(), "error", err)
		}
	}
	for _, dep := range f.order {
		if _, had := c.deps[dep.NodeID()]; had {
			continue
		}
		if err := g.AddEdge(dep, c, graph.EdgeHard); err != nil {
			c.e.logger.Warn("recording dependency failed", "calc", c.label, "dep", dep.NodeID(), "error", err)
		}
	}
	c.deps = f.deps
	c.depOrder = f.order
}

// changed reports whether the current result differs from the one cached
// before the last invalidation, and makes it the new baseline.
func (c *Calc[T]) changed() bool {
	prev, had := c.prior, c.hadPrior
	c.prior, c.hadPrior = c.current, c.computed
	if !had {
		return true
	}
	return !c.sameResult(prev, c.current)
}

func (c *Calc[T]) sameResult(a, b result[T]) bool {
	switch {
	case a.err == nil && b.err == nil:
		return c.eq(a.value, b.value)
	case a.err != nil && b.err != nil:
		return a.err.Error() == b.err.Error()
	default:
		return false
	}
}

// invalidate drops the cached result and remembers it as the baseline for
// the next recalculation. A calculation that is still running cannot be
// invalidated.
func (c *Calc[T]) invalidate() error {
	if c.state == stateTracking {
		return &RuntimeError{
			Code:    ErrCodeInvariant,
			Message: "calculation invalidated while running",
			Node:    c.id,
			Label:   c.label,
		}
	}
	c.prior, c.hadPrior = c.current, c.computed
	c.state = stateFlushed
	return nil
}

func (c *Calc[T]) recalculate() bool {
	if c.disposed {
		return false
	}
	if c.state == stateFlushed {
		c.compute()
	}
	return c.changed()
}

func (c *Calc[T]) recalculateCycle() bool {
	return c.recalculate()
}

// setCycle tells the calculation it is part of a cycle without running the
// body. With a handler the substitute is recomputed; without one the cached
// result becomes the cycle error, which only counts as a change the first
// time.
func (c *Calc[T]) setCycle() bool {
	if c.disposed {
		return false
	}
	cycleErr := NewCycleError(c.id, c.label)
	if c.onErr != nil {
		c.settle(stateCycle, result[T]{value: c.onErr(cycleErr)})
	} else {
		c.settle(stateCycle, result[T]{err: cycleErr})
	}
	return c.changed()
}

// strictEqual compares with == when the dynamic type allows it and treats
// everything else as different.
func strictEqual[T any](a, b T) bool {
	va, vb := any(a), any(b)
	ta := reflect.TypeOf(va)
	if ta == nil {
		return vb == nil
	}
	if !ta.Comparable() || ta != reflect.TypeOf(vb) {
		return false
	}
	return va == vb
}
