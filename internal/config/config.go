// Package config loads ripple's engine configuration from CUE.
//
// A configuration file is a plain CUE struct, unified with the embedded
// #Config definition so unknown fields and out-of-range values are rejected
// with a source position:
//
//	max_flush_steps:  5000
//	max_cycle_passes: 8
//	log_level:        "debug"
//	trace_db:         "ripple-trace.db"
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ripple/internal/graph"
)

//go:embed schema.cue
var schemaSource []byte

// Config holds engine limits and ambient settings.
type Config struct {
	MaxFlushSteps  int    `json:"max_flush_steps,omitempty"`
	MaxCyclePasses int    `json:"max_cycle_passes,omitempty"`
	LogLevel       string `json:"log_level,omitempty"`
	TraceDB        string `json:"trace_db,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		MaxFlushSteps:  graph.DefaultMaxSteps,
		MaxCyclePasses: graph.DefaultMaxCyclePasses,
		LogLevel:       "info",
	}
}

// Error reports an invalid configuration file.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Load reads and validates the CUE file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against #Config and fills unset fields with defaults.
// filename is only used in error positions.
func Parse(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.MaxFlushSteps == 0 {
		c.MaxFlushSteps = d.MaxFlushSteps
	}
	if c.MaxCyclePasses == 0 {
		c.MaxCyclePasses = d.MaxCyclePasses
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

// Level maps LogLevel to a slog level. Unknown values mean info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
