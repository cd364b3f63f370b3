// Package testutil builds deterministic engines for tests.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/roach88/ripple/internal/engine"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewEngine creates an engine for tests: logs are discarded, flush ids are
// "flush-1", "flush-2", ... and sequence numbers start at 1. opts are
// applied afterwards and may override any of these.
func NewEngine(t testing.TB, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithLogger(DiscardLogger()),
		engine.WithFlushIDGenerator(engine.NewSequenceGenerator("flush")),
		engine.WithClock(engine.NewClock()),
	}
	return engine.New(append(base, opts...)...)
}

// Flush flushes e and fails the test on error.
func Flush(t testing.TB, e *engine.Engine) {
	t.Helper()
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
}
