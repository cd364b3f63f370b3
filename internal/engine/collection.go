package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/ripple/internal/graph"
)

// Collection is an observable list. Each position has its own node and a
// length node tracks size changes, so a calculation reading only the length
// is not dirtied by in-place writes.
type Collection[T any] struct {
	e      *Engine
	label  string
	items  []T
	nodes  map[int]*source
	length *source
	eq     func(a, b T) bool
}

// NewCollection creates a collection holding a copy of initial.
func NewCollection[T any](e *Engine, label string, initial ...T) *Collection[T] {
	return &Collection[T]{
		e:      e,
		label:  label,
		items:  append([]T(nil), initial...),
		nodes:  make(map[int]*source),
		length: newSource(e, label+".length"),
		eq:     strictEqual[T],
	}
}

// Equal sets the comparison Set uses to ignore writes of an equal value.
func (c *Collection[T]) Equal(eq func(a, b T) bool) *Collection[T] {
	if eq != nil {
		c.eq = eq
	}
	return c
}

func (c *Collection[T]) node(i int) *source {
	n, ok := c.nodes[i]
	if !ok {
		n = newSource(c.e, fmt.Sprintf("%s[%d]", c.label, i))
		c.nodes[i] = n
	}
	return n
}

func (c *Collection[T]) touch(i int) {
	if n, ok := c.nodes[i]; ok {
		n.changed()
	}
}

// Len returns the number of items and records a dependency on the length.
func (c *Collection[T]) Len() int {
	c.length.read()
	return len(c.items)
}

// At returns the item at i and whether i is in range. It records a
// dependency on position i.
func (c *Collection[T]) At(i int) (T, bool) {
	if c.e.tracking() {
		c.node(i).read()
	}
	if i < 0 || i >= len(c.items) {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

// Items returns a copy of the items and records a dependency on the length
// and on every position.
func (c *Collection[T]) Items() []T {
	c.length.read()
	if c.e.tracking() {
		for i := range c.items {
			c.node(i).read()
		}
	}
	return append([]T(nil), c.items...)
}

// Set replaces the item at i. Out-of-range indices are ignored and reported
// as false.
func (c *Collection[T]) Set(i int, v T) bool {
	if i < 0 || i >= len(c.items) {
		return false
	}
	if c.eq(c.items[i], v) {
		return true
	}
	c.items[i] = v
	c.touch(i)
	return true
}

// Push appends items.
func (c *Collection[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	start := len(c.items)
	c.items = append(c.items, items...)
	for i := start; i < len(c.items); i++ {
		c.touch(i)
	}
	c.length.changed()
}

// Pop removes and returns the last item.
func (c *Collection[T]) Pop() (T, bool) {
	var zero T
	if len(c.items) == 0 {
		return zero, false
	}
	last := len(c.items) - 1
	v := c.items[last]
	c.items[last] = zero
	c.items = c.items[:last]
	c.touch(last)
	c.length.changed()
	return v, true
}

// Splice removes deleteCount items at start, inserts items in their place,
// and returns the removed items. Every position from start to the end of the
// longer of the old and new lists is dirtied.
func (c *Collection[T]) Splice(start, deleteCount int, items ...T) []T {
	oldLen := len(c.items)
	start = max(0, min(start, oldLen))
	deleteCount = max(0, min(deleteCount, oldLen-start))

	removed := append([]T(nil), c.items[start:start+deleteCount]...)
	next := make([]T, 0, oldLen-deleteCount+len(items))
	next = append(next, c.items[:start]...)
	next = append(next, items...)
	next = append(next, c.items[start+deleteCount:]...)
	c.items = next

	if deleteCount == 0 && len(items) == 0 {
		return removed
	}
	end := max(oldLen, len(c.items))
	if deleteCount == len(items) {
		end = start + deleteCount
	}
	for i := start; i < end; i++ {
		c.touch(i)
	}
	if len(c.items) != oldLen {
		c.length.changed()
	}
	return removed
}

// LengthNode returns the graph node for the length.
func (c *Collection[T]) LengthNode() graph.Node {
	c.e.ensureNode(c.length)
	return c.length
}

// Dispose removes every node the collection created from the graph.
func (c *Collection[T]) Dispose() error {
	indices := make([]int, 0, len(c.nodes))
	for i := range c.nodes {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	for _, i := range indices {
		if err := c.nodes[i].dispose(); err != nil {
			return err
		}
		delete(c.nodes, i)
	}
	return c.length.dispose()
}
