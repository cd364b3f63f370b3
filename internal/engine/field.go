package engine

import "github.com/roach88/ripple/internal/graph"

// Field is a single observable value.
type Field[T any] struct {
	src   *source
	value T
	eq    func(a, b T) bool
}

// NewField creates a field holding initial.
func NewField[T any](e *Engine, label string, initial T) *Field[T] {
	return &Field[T]{
		src:   newSource(e, label),
		value: initial,
		eq:    strictEqual[T],
	}
}

// Equal sets the comparison Set uses to ignore writes of an equal value.
func (f *Field[T]) Equal(eq func(a, b T) bool) *Field[T] {
	if eq != nil {
		f.eq = eq
	}
	return f
}

func (f *Field[T]) NodeID() graph.NodeID { return f.src.id }
func (f *Field[T]) Label() string        { return f.src.label }

// Get returns the value, recording a dependency when called from a
// calculation.
func (f *Field[T]) Get() T {
	f.src.read()
	return f.value
}

// Peek returns the value without recording a dependency.
func (f *Field[T]) Peek() T {
	return f.value
}

// Set stores v. Dependents are dirtied only if v differs from the current
// value.
func (f *Field[T]) Set(v T) {
	if f.eq(f.value, v) {
		return
	}
	f.value = v
	f.src.changed()
}

// Update applies fn to the current value and stores the result.
func (f *Field[T]) Update(fn func(T) T) {
	f.Set(fn(f.value))
}

// Dispose removes the field from the graph.
func (f *Field[T]) Dispose() error {
	return f.src.dispose()
}
