package engine

import (
	"slices"

	"github.com/roach88/ripple/internal/graph"
)

// Model is an observable string-keyed record. Each key has its own node, so
// a calculation reading one key is not dirtied by writes to another, and a
// separate key-set node tracks additions and deletions.
type Model[V any] struct {
	e       *Engine
	label   string
	values  map[string]V
	nodes   map[string]*source
	keysSrc *source
	eq      func(a, b V) bool
}

// NewModel creates a model with the given initial entries.
func NewModel[V any](e *Engine, label string, initial map[string]V) *Model[V] {
	m := &Model[V]{
		e:       e,
		label:   label,
		values:  make(map[string]V, len(initial)),
		nodes:   make(map[string]*source),
		keysSrc: newSource(e, label+".keys"),
		eq:      strictEqual[V],
	}
	for k, v := range initial {
		m.values[k] = v
	}
	return m
}

// Equal sets the comparison Set uses to ignore writes of an equal value.
func (m *Model[V]) Equal(eq func(a, b V) bool) *Model[V] {
	if eq != nil {
		m.eq = eq
	}
	return m
}

func (m *Model[V]) node(key string) *source {
	n, ok := m.nodes[key]
	if !ok {
		n = newSource(m.e, m.label+"."+key)
		m.nodes[key] = n
	}
	return n
}

// Get returns the value at key and whether it is present. Reading a missing
// key still records a dependency, so a later Set dirties the reader.
func (m *Model[V]) Get(key string) (V, bool) {
	if m.e.tracking() {
		m.node(key).read()
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present, recording a dependency on key.
func (m *Model[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores v at key.
func (m *Model[V]) Set(key string, v V) {
	old, existed := m.values[key]
	if existed && m.eq(old, v) {
		return
	}
	m.values[key] = v
	if n, ok := m.nodes[key]; ok {
		n.changed()
	}
	if !existed {
		m.keysSrc.changed()
	}
}

// Delete removes key.
func (m *Model[V]) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	if n, ok := m.nodes[key]; ok {
		n.changed()
	}
	m.keysSrc.changed()
}

// Keys returns the present keys in sorted order and records a dependency on
// the key set.
func (m *Model[V]) Keys() []string {
	m.keysSrc.read()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of keys and records a dependency on the key set.
func (m *Model[V]) Len() int {
	m.keysSrc.read()
	return len(m.values)
}

// KeyNode returns the graph node for key, for wiring manual dependencies.
func (m *Model[V]) KeyNode(key string) graph.Node {
	n := m.node(key)
	m.e.ensureNode(n)
	return n
}

// Dispose removes every node the model created from the graph.
func (m *Model[V]) Dispose() error {
	keys := make([]string, 0, len(m.nodes))
	for k := range m.nodes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := m.nodes[k].dispose(); err != nil {
			return err
		}
		delete(m.nodes, k)
	}
	return m.keysSrc.dispose()
}
