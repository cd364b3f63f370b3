package testutil

// FixedFlushIDGenerator returns the same flush id every time, so traces of
// runs with different numbers of flushes still share one id.
//
// Unlike engine.FixedGenerator, which hands out ids in sequence, this
// generator never changes. It is stateless and safe for concurrent use.
type FixedFlushIDGenerator struct {
	id string
}

// NewFixedFlushIDGenerator creates a generator returning id. An empty id
// defaults to "flush-fixed".
func NewFixedFlushIDGenerator(id string) *FixedFlushIDGenerator {
	if id == "" {
		id = "flush-fixed"
	}
	return &FixedFlushIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedFlushIDGenerator) Generate() string {
	return g.id
}
