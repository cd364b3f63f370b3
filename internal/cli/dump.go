package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/scenario"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	DOT bool
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <scenario.yaml>",
		Short: "Print the dependency graph a scenario leaves behind",
		Long: `Run a scenario and print the engine's dependency graph: nodes in
topological order with their reference counts, dirty flags and cycle
membership, and every edge with its kind.

The default output is JSON. --dot prints a Graphviz digraph instead.

Examples:
  ripple dump ./scenarios/chain.yaml
  ripple dump ./scenarios/chain.yaml --dot | dot -Tsvg > chain.svg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DOT, "dot", false, "print Graphviz DOT instead of JSON")

	return cmd
}

func runDump(opts *DumpOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	result, err := scenario.Run(s, engineOptions(cfg, opts.logger(cfg, cmd.ErrOrStderr()))...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build scenario", err)
	}

	desc := result.Engine.Describe()
	if opts.DOT {
		return desc.WriteDOT(cmd.OutOrStdout())
	}
	return desc.WriteJSON(cmd.OutOrStdout())
}
