package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/config"
	"github.com/roach88/ripple/internal/engine"
	"github.com/roach88/ripple/internal/metrics"
	"github.com/roach88/ripple/internal/scenario"
	"github.com/roach88/ripple/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	TraceDB string
	Metrics bool
}

// RunResult is the outcome of one scenario run.
type RunResult struct {
	Scenario string         `json:"scenario"`
	Pass     bool           `json:"pass"`
	Errors   []string       `json:"errors,omitempty"`
	Flushes  int            `json:"flushes"`
	Events   int            `json:"events"`
	Values   map[string]any `json:"values"`
	Log      []string       `json:"log,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario",
		Long: `Run a scenario on a fresh engine and report its outcome.

With --trace-db every flush event is appended to a SQLite trace database
that "ripple trace" can query. With --metrics the engine's Prometheus
metrics are printed to stderr after the run.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (unreadable scenario, config or database)

Examples:
  ripple run ./scenarios/chain.yaml
  ripple run ./scenarios/chain.yaml --trace-db ./ripple.db
  ripple run ./scenarios/chain.yaml --config ./ripple.cue --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TraceDB, "trace-db", "", "append flush events to this SQLite database")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine metrics to stderr")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Fail("failed to load config", err)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	logger := opts.logger(cfg, cmd.ErrOrStderr())
	reg := prometheus.NewRegistry()
	engineOpts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithObserver(metrics.NewCollector(reg)),
	}

	dbPath := opts.TraceDB
	if dbPath == "" {
		dbPath = cfg.TraceDB
	}
	var st *trace.Store
	if dbPath != "" {
		st, err = trace.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace database", err)
		}
		defer st.Close()

		last, err := st.MaxSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read trace database", err)
		}
		// Continue the stored sequence and use globally unique flush ids so
		// several runs can share one database.
		engineOpts = append(engineOpts,
			engine.WithClock(engine.NewClockAt(last)),
			engine.WithFlushIDGenerator(engine.UUIDv7Generator{}))
	}

	formatter.VerboseLog("running scenario %s", s.Name)
	result, err := scenario.Run(s, engineOpts...)
	if err != nil {
		_ = formatter.Fail("failed to build scenario", err)
		return WrapExitError(ExitCommandError, "failed to build scenario", err)
	}

	if st != nil {
		if err := st.WriteEvents(ctx, result.Trace); err != nil {
			return WrapExitError(ExitCommandError, "failed to write trace", err)
		}
		logger.Info("trace written", "db", dbPath, "events", len(result.Trace))
	}

	out := newRunResult(s.Name, result)
	if opts.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		writeRunText(cmd.OutOrStdout(), out)
	}

	if opts.Metrics {
		if err := writeMetrics(formatter.GetErrWriter(), reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", s.Name))
	}
	return nil
}

func newRunResult(name string, result *scenario.Result) RunResult {
	out := RunResult{
		Scenario: name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Events:   len(result.Trace),
		Values:   result.Values,
		Log:      result.Log,
	}
	for _, ev := range result.Trace {
		if ev.Kind == trace.KindFlushStart {
			out.Flushes++
		}
	}
	return out
}

func writeRunText(w io.Writer, r RunResult) {
	status := "PASS"
	if !r.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d flushes, %d events)\n", status, r.Scenario, r.Flushes, r.Events)

	names := make([]string, 0, len(r.Values))
	for name := range r.Values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %v\n", name, r.Values[name])
	}
	for _, line := range r.Log {
		fmt.Fprintf(w, "  log: %s\n", line)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

// writeMetrics prints the registry in the Prometheus text format.
func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// engineOptions is shared by commands that only need config and logging.
func engineOptions(cfg config.Config, logger *slog.Logger) []engine.Option {
	return []engine.Option{engine.WithConfig(cfg), engine.WithLogger(logger)}
}
