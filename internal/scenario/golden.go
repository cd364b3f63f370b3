package scenario

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ripple/internal/graph"
	"github.com/roach88/ripple/internal/trace"
)

// Snapshot renders the parts of a result that golden files pin down: final
// values, call counts, the effect log, and which calculations each flush
// recalculated, in order. Sources are left out of the per-flush lists.
func Snapshot(name string, result *Result) ([]byte, error) {
	values := make(map[string]any, len(result.Values))
	for k, v := range result.Values {
		values[k] = v
	}
	calls := make(map[string]any, len(result.Calls))
	for k, v := range result.Calls {
		calls[k] = v
	}
	log := make([]any, len(result.Log))
	for i, line := range result.Log {
		log[i] = line
	}

	return trace.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"values":        values,
		"calls":         calls,
		"log":           log,
		"flushes":       flushSummaries(result.Trace, result.Calls),
	})
}

func flushSummaries(events []trace.Event, bodies map[string]int) []any {
	recalculate := graph.ActionRecalculate.String()
	var out []any
	var current map[string]any
	var labels []any
	for _, ev := range events {
		switch ev.Kind {
		case trace.KindFlushStart:
			current = map[string]any{"id": ev.FlushID}
			labels = []any{}
		case trace.KindNode:
			if _, body := bodies[ev.Label]; body && ev.Action == recalculate && current != nil {
				labels = append(labels, ev.Label)
			}
		case trace.KindFlushEnd:
			if current == nil {
				continue
			}
			current["recalculated"] = labels
			if ev.Error != "" {
				current["error"] = ev.Error
			}
			out = append(out, current)
			current = nil
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/scenario -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(s)
	if err != nil {
		return nil, err
	}
	data, err := Snapshot(s.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
	return result, nil
}
