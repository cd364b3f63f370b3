package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Flush    string // optional - show one flush
	Node     string // optional - show one node's history
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query a trace database",
		Long: `Query flush traces written by "ripple run --trace-db".

Without --flush or --node, lists every stored flush with its step count
and outcome. --flush shows the events of one flush in order. --node shows
every event recorded for the node with that label.

Examples:
  ripple trace --db ./ripple.db
  ripple trace --db ./ripple.db --flush 0190f5c2-...
  ripple trace --db ./ripple.db --node total --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Flush, "flush", "", "show the events of one flush")
	cmd.Flags().StringVar(&opts.Node, "node", "", "show the history of one node label")
	cmd.MarkFlagsMutuallyExclusive("flush", "node")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case opts.Flush != "":
		events, err := st.ReadFlush(ctx, opts.Flush)
		if errors.Is(err, trace.ErrFlushNotFound) {
			_ = formatter.Fail("cannot show flush", err)
			return NewExitError(ExitFailure, "flush not found")
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read flush", err)
		}
		return outputEvents(opts, cmd, events)
	case opts.Node != "":
		events, err := st.NodeHistory(ctx, opts.Node)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read node history", err)
		}
		return outputEvents(opts, cmd, events)
	}

	flushes, err := st.ListFlushes(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list flushes", err)
	}
	if opts.Format == "json" {
		return formatter.Success(flushes)
	}
	writeFlushesText(cmd.OutOrStdout(), flushes)
	return nil
}

func outputEvents(opts *TraceOptions, cmd *cobra.Command, events []trace.Event) error {
	if opts.Format == "json" {
		data, err := trace.MarshalEvents(events)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
		return err
	}
	writeEventsText(cmd.OutOrStdout(), events)
	return nil
}

func writeFlushesText(w io.Writer, flushes []trace.FlushSummary) {
	if len(flushes) == 0 {
		fmt.Fprintln(w, "No flushes recorded.")
		return
	}
	for _, f := range flushes {
		status := "ok"
		switch {
		case f.FinishedSeq == 0:
			status = "unfinished"
		case f.Error != "":
			status = "error: " + f.Error
		}
		fmt.Fprintf(w, "%s  seq %d-%d  steps=%d rewinds=%d swept=%d events=%d  %s\n",
			f.ID, f.StartedSeq, f.FinishedSeq, f.Steps, f.Rewinds, f.Swept, f.Events, status)
	}
}

func writeEventsText(w io.Writer, events []trace.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(w, "[%d] %s\n", ev.Seq, describeEvent(ev))
	}
}

func describeEvent(ev trace.Event) string {
	switch ev.Kind {
	case trace.KindFlushStart:
		return "flush started " + ev.FlushID
	case trace.KindFlushEnd:
		s := fmt.Sprintf("flush finished %s steps=%d rewinds=%d swept=%d", ev.FlushID, ev.Steps, ev.Rewinds, ev.Swept)
		if ev.Error != "" {
			s += " error=" + ev.Error
		}
		return s
	case trace.KindCycle:
		verb := "broken"
		if ev.Formed {
			verb = "formed"
		}
		members := make([]string, len(ev.Members))
		for i, m := range ev.Members {
			members[i] = fmt.Sprint(m)
		}
		return fmt.Sprintf("cycle %s [%s]", verb, strings.Join(members, " "))
	default:
		changed := ""
		if ev.Changed {
			changed = " changed"
		}
		return fmt.Sprintf("%s %s%s", ev.Action, ev.Label, changed)
	}
}
