package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/ripple/internal/config"
	"github.com/roach88/ripple/internal/graph"
)

// Engine owns one dependency graph, the tracking stack of calculations that
// are currently executing, and the flush scheduling state.
//
// An Engine is single-threaded: every method must be called from the same
// goroutine (see Loop for driving an Engine from other goroutines).
// Independent Engines share nothing and may run side by side.
type Engine struct {
	graph    *graph.Graph
	logger   *slog.Logger
	clock    *Clock
	flushIDs FlushIDGenerator
	observer Observer

	maxFlushSteps  int
	maxCyclePasses int

	lastID graph.NodeID
	frames []*frame

	subscribers map[int]func()
	nextSubID   int
	notified    bool

	flushing     bool
	currentFlush string
	violation    error // first invariant violation seen by processNode
	waiters      []chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used by the engine and its graph.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver installs an observer for flush events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithFlushIDGenerator sets the flush id source. Default: UUIDv7Generator.
func WithFlushIDGenerator(g FlushIDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.flushIDs = g
		}
	}
}

// WithClock sets the logical clock used to stamp observer events.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithMaxFlushSteps sets the node visit quota per flush.
//
// Default: 100000 (DefaultMaxFlushSteps)
func WithMaxFlushSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxFlushSteps = n
		}
	}
}

// WithMaxCyclePasses sets how often one node may be revisited while its cycle
// membership changes during a flush.
//
// Default: 16 (DefaultMaxCyclePasses)
func WithMaxCyclePasses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCyclePasses = n
		}
	}
}

// WithConfig applies the limits from a loaded configuration.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		WithMaxFlushSteps(cfg.MaxFlushSteps)(e)
		WithMaxCyclePasses(cfg.MaxCyclePasses)(e)
	}
}

// New creates an Engine with an empty graph.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:         slog.Default(),
		clock:          NewClock(),
		flushIDs:       UUIDv7Generator{},
		observer:       NopObserver{},
		maxFlushSteps:  DefaultMaxFlushSteps,
		maxCyclePasses: DefaultMaxCyclePasses,
		subscribers:    make(map[int]func()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.graph = graph.New(
		graph.WithLogger(e.logger),
		graph.WithMaxSteps(e.maxFlushSteps),
		graph.WithMaxCyclePasses(e.maxCyclePasses),
		graph.WithCycleHook(e.cycleChanged),
	)
	return e
}

// newID allocates the next node id. Ids start at 1.
func (e *Engine) newID() graph.NodeID {
	e.lastID++
	return e.lastID
}

// RegisterNode adds an external node to the graph. Its NodeID must not
// collide with ids the engine allocated; use NewMarker for engine-owned
// plain nodes.
func (e *Engine) RegisterNode(n graph.Node) error {
	if err := e.graph.AddNode(n); err != nil {
		return invariant(err, n.NodeID(), e.graph.Label(n.NodeID()))
	}
	e.commit()
	return nil
}

// DisposeNode removes a node and all its edges. Retained nodes must be
// released first.
func (e *Engine) DisposeNode(n graph.Node) error {
	label := e.graph.Label(n.NodeID())
	if err := e.graph.RemoveNode(n); err != nil {
		return invariant(err, n.NodeID(), label)
	}
	e.commit()
	return nil
}

// AddManualDep adds a hard edge: to recomputes whenever from changes.
func (e *Engine) AddManualDep(from, to graph.Node) error {
	return e.edge(e.graph.AddEdge, from, to, graph.EdgeHard)
}

// RemoveManualDep removes a hard edge added by AddManualDep.
func (e *Engine) RemoveManualDep(from, to graph.Node) error {
	return e.edge(e.graph.RemoveEdge, from, to, graph.EdgeHard)
}

// AddOrderingDep adds a soft edge: from is processed before to within a
// flush, but changes to from do not dirty to.
func (e *Engine) AddOrderingDep(from, to graph.Node) error {
	return e.edge(e.graph.AddEdge, from, to, graph.EdgeSoft)
}

// RemoveOrderingDep removes a soft edge added by AddOrderingDep.
func (e *Engine) RemoveOrderingDep(from, to graph.Node) error {
	return e.edge(e.graph.RemoveEdge, from, to, graph.EdgeSoft)
}

func (e *Engine) edge(op func(from, to graph.Node, kind graph.EdgeKind) error, from, to graph.Node, kind graph.EdgeKind) error {
	if err := op(from, to, kind); err != nil {
		return invariant(err, from.NodeID(), e.graph.Label(from.NodeID()))
	}
	e.commit()
	return nil
}

// MarkDirty flags n for recomputation and schedules a flush.
func (e *Engine) MarkDirty(n graph.Node) error {
	if !e.markDirty(n) {
		return &RuntimeError{
			Code:    ErrCodeInvariant,
			Message: "cannot mark unregistered node dirty",
			Node:    n.NodeID(),
		}
	}
	return nil
}

func (e *Engine) markDirty(n graph.Node) bool {
	if !e.graph.MarkDirty(n) {
		return false
	}
	e.notify()
	return true
}

// Retain increments n's reference count, registering it if needed. A
// retained node, and everything it depends on, is kept up to date by Flush.
// Retaining an effect schedules its first run.
func (e *Engine) Retain(n graph.Node) int {
	count := e.graph.Retain(n)
	if count == 1 {
		if eff, ok := n.(*Effect); ok {
			e.markDirty(eff)
		}
	}
	e.commit()
	return count
}

// Release decrements n's reference count. Releasing more often than
// retaining returns an OVER_RELEASE error and leaves the count at zero.
func (e *Engine) Release(n graph.Node) error {
	_, err := e.graph.Release(n)
	if err != nil {
		label := e.graph.Label(n.NodeID())
		e.logger.Warn("release without matching retain", "node", n.NodeID(), "label", label)
		return invariant(err, n.NodeID(), label)
	}
	return nil
}

// RefCount returns n's reference count.
func (e *Engine) RefCount(n graph.Node) int {
	return e.graph.RefCount(n.NodeID())
}

// IsRetained reports whether n is a flush root.
func (e *Engine) IsRetained(n graph.Node) bool {
	return e.graph.IsRetained(n.NodeID())
}

// Subscribe registers fn to be called once each time the graph goes from
// clean to dirty. fn is expected to arrange for Flush to be called later; it
// must not call Flush synchronously. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func()) func() {
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	return func() { delete(e.subscribers, id) }
}

// NextFlush returns a channel closed when the next flush completes. It
// schedules a flush if one is not already pending.
func (e *Engine) NextFlush() <-chan struct{} {
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.notify()
	return ch
}

func (e *Engine) notify() {
	if e.notified || e.flushing {
		return
	}
	e.notified = true
	for id := 0; id < e.nextSubID; id++ {
		if fn, ok := e.subscribers[id]; ok {
			fn()
		}
	}
}

// Flush recomputes every dirty node that a retained node depends on, in
// topological order. It may not be called from inside a calculation or
// from inside another flush.
func (e *Engine) Flush() error {
	if e.flushing {
		return &RuntimeError{Code: ErrCodeInvariant, Message: "flush called during flush"}
	}
	if len(e.frames) > 0 {
		top := e.frames[len(e.frames)-1]
		return &RuntimeError{
			Code:    ErrCodeInvariant,
			Message: "flush called inside a calculation",
			Node:    top.owner.NodeID(),
			Label:   e.graph.Label(top.owner.NodeID()),
		}
	}

	id := e.flushIDs.Generate()
	e.flushing = true
	e.notified = false
	e.currentFlush = id
	start := time.Now()

	e.observer.FlushStarted(FlushInfo{ID: id, Seq: e.clock.Next()})
	e.logger.Debug("flush started", "flush", id)

	stats, err := e.graph.Process(e.processNode)

	e.flushing = false
	e.currentFlush = ""
	if err != nil {
		err = flushError(id, stats, e.maxFlushSteps, err)
	} else if e.violation != nil {
		err = e.violation
	}
	e.violation = nil
	if err != nil {
		e.logger.Error("flush failed", "flush", id, "steps", stats.Steps, "error", err)
	}
	duration := time.Since(start)
	e.observer.FlushFinished(FlushResult{
		ID:       id,
		Seq:      e.clock.Next(),
		Steps:    stats.Steps,
		Rewinds:  stats.Rewinds,
		Swept:    stats.Swept,
		Duration: duration,
		Err:      err,
	})
	e.logger.Debug("flush finished",
		"flush", id,
		"steps", stats.Steps,
		"rewinds", stats.Rewinds,
		"swept", stats.Swept,
		"duration", duration)

	waiters := e.waiters
	e.waiters = nil
	for _, ch := range waiters {
		close(ch)
	}
	if e.graph.HasDirty() {
		e.notify()
	}
	return err
}

// processNode is the graph.ProcessFunc for every flush.
func (e *Engine) processNode(n graph.Node, action graph.Action) bool {
	var changed bool
	v, ok := n.(vertex)
	switch {
	case action == graph.ActionInvalidate:
		if !ok {
			break
		}
		if err := v.invalidate(); err != nil {
			e.logger.Error("invalidate rejected", "node", n.NodeID(), "error", err)
			if e.violation == nil {
				e.violation = err
			}
		}
	case !ok:
		// Plain nodes have no value of their own; being dirty is the change.
		changed = true
	case action == graph.ActionRecalculate:
		changed = v.recalculate()
	case action == graph.ActionRecalculateCycle:
		changed = v.recalculateCycle()
	case action == graph.ActionCycle:
		changed = v.setCycle()
	}

	e.observer.NodeProcessed(NodeEvent{
		FlushID: e.currentFlush,
		Seq:     e.clock.Next(),
		Node:    n.NodeID(),
		Label:   e.graph.Label(n.NodeID()),
		Action:  action,
		Changed: changed,
	})
	return changed
}

func (e *Engine) cycleChanged(c graph.CycleChange) {
	labels := make([]string, len(c.Members))
	for i, id := range c.Members {
		labels[i] = e.graph.Label(id)
	}
	if c.Formed {
		e.logger.Debug("cycle formed", "members", labels)
	} else {
		e.logger.Debug("cycle broken", "members", labels)
	}
	e.observer.CycleChanged(CycleEvent{
		FlushID: e.currentFlush,
		Seq:     e.clock.Next(),
		Formed:  c.Formed,
		Members: c.Members,
	})
}

// commit applies staged graph operations outside a flush. Inside a flush
// the scheduler applies them between visits.
func (e *Engine) commit() {
	if e.flushing || len(e.frames) > 0 {
		return
	}
	e.graph.Commit()
	if e.graph.HasDirty() {
		e.notify()
	}
}

// AddObserver installs o next to the observers already in place.
func (e *Engine) AddObserver(o Observer) {
	if o == nil {
		return
	}
	if _, nop := e.observer.(NopObserver); nop {
		e.observer = o
		return
	}
	e.observer = MultiObserver{e.observer, o}
}

// Describe returns a debug snapshot of the graph.
func (e *Engine) Describe() graph.Description {
	e.commit()
	return e.graph.Describe()
}

// Check verifies the graph's structural invariants.
func (e *Engine) Check() error {
	e.commit()
	return e.graph.Check()
}

// Graph exposes the underlying graph for diagnostics.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}
