package scenario

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/ripple/internal/graph"
	"github.com/roach88/ripple/internal/trace"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Node     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s", e.Type)
	if e.Node != "" {
		fmt.Fprintf(&buf, " (%s)", e.Node)
	}
	fmt.Fprintf(&buf, "\n  expected: %s\n  actual: %s", e.Expected, e.Actual)
	return buf.String()
}

func (r *runner) assert(a Assertion, result *Result) error {
	switch a.Type {
	case AssertValue:
		v, err := r.read(a.Node)
		if err != nil {
			return &AssertionError{Type: a.Type, Node: a.Node, Expected: fmt.Sprint(a.Expect), Actual: err.Error()}
		}
		if !reflect.DeepEqual(v, a.Expect) {
			return &AssertionError{Type: a.Type, Node: a.Node, Expected: fmt.Sprint(a.Expect), Actual: fmt.Sprint(v)}
		}
	case AssertError:
		_, err := r.read(a.Node)
		if err == nil {
			return &AssertionError{Type: a.Type, Node: a.Node, Expected: a.Code, Actual: "no error"}
		}
		if code := errorCode(err); code != a.Code {
			return &AssertionError{Type: a.Type, Node: a.Node, Expected: a.Code, Actual: code}
		}
	case AssertCalls:
		if got := result.Calls[a.Node]; got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Node:     a.Node,
				Expected: fmt.Sprintf("%d calls", a.Count),
				Actual:   fmt.Sprintf("%d calls", got),
			}
		}
	case AssertOrder:
		return assertOrder(r.rec.Events(), a)
	case AssertLog:
		if !slices.Equal(r.log, a.Lines) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%q", a.Lines),
				Actual:   fmt.Sprintf("%q", r.log),
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertOrder checks that each node's first recalculation comes after the
// previous node's. Other nodes may be recalculated in between.
func assertOrder(events []trace.Event, a Assertion) error {
	first := make(map[string]int)
	recalculate := graph.ActionRecalculate.String()
	for i, ev := range events {
		if a.Flush != "" && ev.FlushID != a.Flush {
			continue
		}
		if ev.Kind != trace.KindNode || ev.Action != recalculate {
			continue
		}
		if _, seen := first[ev.Label]; !seen {
			first[ev.Label] = i
		}
	}

	prev := -1
	for _, name := range a.Nodes {
		pos, ok := first[name]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Node:     name,
				Expected: fmt.Sprintf("recalculated in order %v", a.Nodes),
				Actual:   "never recalculated",
			}
		}
		if pos < prev {
			return &AssertionError{
				Type:     a.Type,
				Node:     name,
				Expected: fmt.Sprintf("recalculated in order %v", a.Nodes),
				Actual:   "recalculated before its predecessor",
			}
		}
		prev = pos
	}
	return nil
}
