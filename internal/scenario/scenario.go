package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a graph, a sequence of steps to drive it, and the
// expected outcome.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	Fields  []FieldDef  `yaml:"fields,omitempty"`
	Calcs   []CalcDef   `yaml:"calcs,omitempty"`
	Effects []EffectDef `yaml:"effects,omitempty"`

	// Steps run in order after the graph is built.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// FieldDef declares an observable value.
type FieldDef struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// CalcDef declares a calculation.
type CalcDef struct {
	Name string   `yaml:"name"`
	Op   string   `yaml:"op"`
	Args []string `yaml:"args,omitempty"`

	// Add is the constant term of sum.
	Add int `yaml:"add,omitempty"`

	// Text is appended by concat.
	Text string `yaml:"text,omitempty"`

	// Message is the error text of fail.
	Message string `yaml:"message,omitempty"`

	// OnError, when set, replaces errors and cycle results.
	OnError any `yaml:"on_error,omitempty"`

	// Retain makes the calculation a flush root and reads it once after
	// the graph is built.
	Retain bool `yaml:"retain,omitempty"`
}

// EffectDef declares a retained effect that appends "name=value" to the
// scenario log each time it runs, reading its arguments in order.
type EffectDef struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// Step is one action. Exactly one of Set, Read, Flush, Retain and Release
// is given.
type Step struct {
	Set     string `yaml:"set,omitempty"`
	Value   any    `yaml:"value,omitempty"`
	Read    string `yaml:"read,omitempty"`
	Flush   bool   `yaml:"flush,omitempty"`
	Retain  string `yaml:"retain,omitempty"`
	Release string `yaml:"release,omitempty"`

	// Expect is the value a read must return.
	Expect any `yaml:"expect,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the state after the last step.
type Assertion struct {
	Type   string   `yaml:"type"`
	Node   string   `yaml:"node,omitempty"`
	Nodes  []string `yaml:"nodes,omitempty"`
	Expect any      `yaml:"expect,omitempty"`
	Code   string   `yaml:"code,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	Lines  []string `yaml:"lines,omitempty"`

	// Flush limits order to one flush.
	Flush string `yaml:"flush,omitempty"`
}

// Calculation ops.
const (
	OpValue  = "value"
	OpSum    = "sum"
	OpConcat = "concat"
	OpSelect = "select"
	OpFail   = "fail"
)

// Assertion types.
const (
	AssertValue = "value"
	AssertError = "error"
	AssertCalls = "calls"
	AssertOrder = "order"
	AssertLog   = "log"
)

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, rejecting unknown fields, and validates it.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("steps or assertions are required")
	}

	names := make(map[string]string)
	declare := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%s name is required", kind)
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%s %q already declared as %s", kind, name, prev)
		}
		names[name] = kind
		return nil
	}
	for _, f := range s.Fields {
		if err := declare("field", f.Name); err != nil {
			return err
		}
	}
	for _, c := range s.Calcs {
		if err := declare("calc", c.Name); err != nil {
			return err
		}
	}
	for _, e := range s.Effects {
		if err := declare("effect", e.Name); err != nil {
			return err
		}
	}

	known := func(where, name string) error {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("%s: unknown node %q", where, name)
		}
		return nil
	}
	for _, c := range s.Calcs {
		where := fmt.Sprintf("calc %q", c.Name)
		switch c.Op {
		case OpValue, OpSelect:
			if len(c.Args) != 1 {
				return fmt.Errorf("%s: %s takes exactly one argument", where, c.Op)
			}
		case OpSum, OpConcat:
		case OpFail:
			if c.Message == "" {
				return fmt.Errorf("%s: fail requires message", where)
			}
		default:
			return fmt.Errorf("%s: unknown op %q", where, c.Op)
		}
		for _, arg := range c.Args {
			if err := known(where, arg); err != nil {
				return err
			}
		}
	}
	for _, e := range s.Effects {
		for _, arg := range e.Args {
			if err := known(fmt.Sprintf("effect %q", e.Name), arg); err != nil {
				return err
			}
		}
	}

	for i, st := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		actions := 0
		for _, set := range []bool{st.Set != "", st.Read != "", st.Flush, st.Retain != "", st.Release != ""} {
			if set {
				actions++
			}
		}
		if actions != 1 {
			return fmt.Errorf("%s: exactly one of set, read, flush, retain, release is required", where)
		}
		switch {
		case st.Set != "":
			if names[st.Set] != "field" {
				return fmt.Errorf("%s: %q is not a field", where, st.Set)
			}
		case st.Read != "":
			if err := known(where, st.Read); err != nil {
				return err
			}
		case st.Retain != "":
			if err := known(where, st.Retain); err != nil {
				return err
			}
		case st.Release != "":
			if err := known(where, st.Release); err != nil {
				return err
			}
		}
	}

	for i, a := range s.Assertions {
		where := fmt.Sprintf("assertions[%d]", i)
		switch a.Type {
		case AssertValue, AssertError, AssertCalls:
			if err := known(where, a.Node); err != nil {
				return err
			}
			if a.Type == AssertError && a.Code == "" {
				return fmt.Errorf("%s: code is required for error", where)
			}
		case AssertOrder:
			if len(a.Nodes) < 2 {
				return fmt.Errorf("%s: order needs at least two nodes", where)
			}
			for _, n := range a.Nodes {
				if err := known(where, n); err != nil {
					return err
				}
			}
		case AssertLog:
		case "":
			return fmt.Errorf("%s: type is required", where)
		default:
			return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
		}
	}
	return nil
}
