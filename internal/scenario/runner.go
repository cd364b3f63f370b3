package scenario

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"

	"github.com/roach88/ripple/internal/engine"
	"github.com/roach88/ripple/internal/graph"
	"github.com/roach88/ripple/internal/trace"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool

	// Errors lists failed expectations in the order they were found.
	Errors []string

	// Trace holds every engine event of the run.
	Trace []trace.Event

	// Log holds the lines appended by effects.
	Log []string

	// Values maps each calculation to its final value, or "error:CODE".
	Values map[string]any

	// Calls maps each calculation and effect to how often its body ran.
	Calls map[string]int

	// Engine is the engine the scenario ran on, for inspection.
	Engine *engine.Engine
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

type runner struct {
	e   *engine.Engine
	rec *trace.Recorder

	fields  map[string]*engine.Field[any]
	calcs   map[string]*engine.Calc[any]
	effects map[string]*engine.Effect
	nodes   map[string]graph.Node

	calcNames []string
	log       []string
}

// Run builds the scenario's graph on a fresh engine, executes its steps and
// evaluates its assertions. The returned error covers problems building the
// graph; failed expectations are reported in the Result.
func Run(s *Scenario, opts ...engine.Option) (*Result, error) {
	rec := trace.NewRecorder()
	base := []engine.Option{
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithFlushIDGenerator(engine.NewSequenceGenerator("flush")),
	}
	e := engine.New(append(base, opts...)...)
	e.AddObserver(rec)

	r := &runner{
		e:       e,
		rec:     rec,
		fields:  make(map[string]*engine.Field[any]),
		calcs:   make(map[string]*engine.Calc[any]),
		effects: make(map[string]*engine.Effect),
		nodes:   make(map[string]graph.Node),
	}
	if err := r.build(s); err != nil {
		return nil, err
	}

	result := &Result{Pass: true, Engine: e}
	for i, st := range s.Steps {
		r.step(i, st, result)
	}

	result.Calls = r.callCounts()
	for _, a := range s.Assertions {
		if err := r.assert(a, result); err != nil {
			result.addError("%v", err)
		}
	}
	result.Values = r.values()
	result.Trace = rec.Events()
	result.Log = append([]string{}, r.log...)
	return result, nil
}

func (r *runner) build(s *Scenario) error {
	for _, f := range s.Fields {
		field := engine.NewField[any](r.e, f.Name, f.Value)
		r.fields[f.Name] = field
		r.nodes[f.Name] = field
	}
	for _, def := range s.Calcs {
		c := engine.NewCalc(r.e, def.Name, func() (any, error) { return r.eval(def) })
		if def.OnError != nil {
			fallback := def.OnError
			c.OnError(func(error) any { return fallback })
		}
		r.calcs[def.Name] = c
		r.nodes[def.Name] = c
		r.calcNames = append(r.calcNames, def.Name)
	}
	for _, def := range s.Effects {
		eff := engine.NewEffect(r.e, def.Name, func() error {
			parts := make([]string, 0, len(def.Args))
			for _, arg := range def.Args {
				v, err := r.read(arg)
				if err != nil {
					return err
				}
				parts = append(parts, fmt.Sprint(v))
			}
			r.log = append(r.log, def.Name+"="+strings.Join(parts, ","))
			return nil
		})
		r.effects[def.Name] = eff
		r.nodes[def.Name] = eff
	}

	for _, def := range s.Calcs {
		if !def.Retain {
			continue
		}
		c := r.calcs[def.Name]
		r.e.Retain(c)
		// Cycle and body errors here are part of the scenario's outcome.
		_, _ = c.Get()
	}
	for _, def := range s.Effects {
		r.e.Retain(r.effects[def.Name])
	}
	return r.e.Check()
}

// read returns the value of the named node, recording it as a dependency
// when called from a calculation.
func (r *runner) read(name string) (any, error) {
	if f, ok := r.fields[name]; ok {
		return f.Get(), nil
	}
	if c, ok := r.calcs[name]; ok {
		return c.Get()
	}
	if eff, ok := r.effects[name]; ok {
		return nil, eff.Run()
	}
	return nil, fmt.Errorf("unknown node %q", name)
}

func (r *runner) eval(def CalcDef) (any, error) {
	switch def.Op {
	case OpValue:
		return r.read(def.Args[0])
	case OpSum:
		total := def.Add
		for _, arg := range def.Args {
			v, err := r.read(arg)
			if err != nil {
				return nil, err
			}
			n, ok := v.(int)
			if !ok {
				return nil, fmt.Errorf("sum: %s is %T, not an integer", arg, v)
			}
			total += n
		}
		return total, nil
	case OpConcat:
		parts := make([]string, 0, len(def.Args)+1)
		for _, arg := range def.Args {
			v, err := r.read(arg)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprint(v))
		}
		if def.Text != "" {
			parts = append(parts, def.Text)
		}
		return strings.Join(parts, " "), nil
	case OpSelect:
		v, err := r.read(def.Args[0])
		if err != nil {
			return nil, err
		}
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("select: %s is %T, not a node name", def.Args[0], v)
		}
		return r.read(name)
	case OpFail:
		return nil, errors.New(def.Message)
	default:
		return nil, fmt.Errorf("unknown op %q", def.Op)
	}
}

func (r *runner) step(i int, st Step, result *Result) {
	where := fmt.Sprintf("steps[%d]", i)
	var err error
	switch {
	case st.Set != "":
		r.fields[st.Set].Set(st.Value)
	case st.Read != "":
		var v any
		v, err = r.read(st.Read)
		if err == nil && st.ExpectError == "" && st.Expect != nil && !reflect.DeepEqual(v, st.Expect) {
			result.addError("%s: read %s = %v, want %v", where, st.Read, v, st.Expect)
		}
	case st.Flush:
		err = r.e.Flush()
	case st.Retain != "":
		r.e.Retain(r.nodes[st.Retain])
	case st.Release != "":
		err = r.e.Release(r.nodes[st.Release])
	}

	switch {
	case st.ExpectError == "" && err != nil:
		result.addError("%s: unexpected error: %v", where, err)
	case st.ExpectError != "" && err == nil:
		result.addError("%s: expected %s error, got none", where, st.ExpectError)
	case st.ExpectError != "" && errorCode(err) != st.ExpectError:
		result.addError("%s: expected %s error, got %v", where, st.ExpectError, err)
	}
}

func (r *runner) callCounts() map[string]int {
	calls := make(map[string]int, len(r.calcs)+len(r.effects))
	for name, c := range r.calcs {
		calls[name] = c.Calls()
	}
	for name, eff := range r.effects {
		calls[name] = eff.Calls()
	}
	return calls
}

func (r *runner) values() map[string]any {
	values := make(map[string]any, len(r.calcs))
	for _, name := range r.calcNames {
		v, err := r.calcs[name].Get()
		if err != nil {
			values[name] = "error:" + errorCode(err)
			continue
		}
		values[name] = v
	}
	return values
}

// errorCode returns the engine error code carried by err.
func errorCode(err error) string {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "ERROR"
}
