package api

import (
	"encoding/json"
	"strings"
	"time"
)

// StateKind identifies how the engine handles a state.
type StateKind string

const (
	KindTask    StateKind = "Task"
	KindChoice  StateKind = "Choice"
	KindSucceed StateKind = "Succeed"
	KindFail    StateKind = "Fail"
)

// Terminal reports whether states of this kind end an execution.
func (k StateKind) Terminal() bool {
	return k == KindSucceed || k == KindFail
}

// ChoiceRule compares the value at Variable against exactly one literal.
//
// Variable is a path into the current payload: "$" selects the whole
// payload, "$.order.city" a nested field.
type ChoiceRule struct {
	Variable      string
	StringEquals  *string
	NumericEquals *float64
	BooleanEquals *bool
	IsPresent     *bool
	Next          string
}

// Matches evaluates the rule against payload. It has no side effects.
func (r ChoiceRule) Matches(payload json.RawMessage) bool {
	res, ok := selectPath(payload, r.Variable)
	switch {
	case r.IsPresent != nil:
		return ok == *r.IsPresent
	case !ok:
		return false
	case r.StringEquals != nil:
		return isString(res) && res.Str == *r.StringEquals
	case r.NumericEquals != nil:
		return isNumber(res) && res.Num == *r.NumericEquals
	case r.BooleanEquals != nil:
		return isBool(res) && res.Bool() == *r.BooleanEquals
	}
	return false
}

func (r ChoiceRule) comparisons() int {
	n := 0
	if r.StringEquals != nil {
		n++
	}
	if r.NumericEquals != nil {
		n++
	}
	if r.BooleanEquals != nil {
		n++
	}
	if r.IsPresent != nil {
		n++
	}
	return n
}

// State is one node of a Definition. Only the fields relevant to Kind are
// used:
//
//	Task:    Task, OutputPath, Next
//	Choice:  Choices, Default
//	Succeed: -
//	Fail:    Error, Cause
type State struct {
	Name string
	Kind StateKind

	Task       string
	OutputPath string
	Next       string

	Choices []ChoiceRule
	Default string

	Error string
	Cause string
}

// Choose returns the target of the first matching rule, or Default.
func (s State) Choose(payload json.RawMessage) string {
	for _, rule := range s.Choices {
		if rule.Matches(payload) {
			return rule.Next
		}
	}
	return s.Default
}

// targets lists every state name this state can transition to.
func (s State) targets() []string {
	switch s.Kind {
	case KindTask:
		return []string{s.Next}
	case KindChoice:
		out := make([]string, 0, len(s.Choices)+1)
		for _, c := range s.Choices {
			out = append(out, c.Next)
		}
		return append(out, s.Default)
	}
	return nil
}

// Definition is a static, acyclic state graph. It is plain data: build it in
// code or load it with LoadDefinitionYAML, then register it on an Engine.
type Definition struct {
	Name    string
	StartAt string

	// Timeout bounds every execution of this definition, measured from Start.
	// Zero means the engine default.
	Timeout time.Duration

	States []State
}

// Lookup returns the state with the given name.
func (d Definition) Lookup(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

// Clone returns a deep copy so callers cannot mutate a registered graph.
func (d Definition) Clone() Definition {
	out := d
	out.States = make([]State, len(d.States))
	for i, s := range d.States {
		if s.Choices != nil {
			rules := make([]ChoiceRule, len(s.Choices))
			for j, r := range s.Choices {
				rules[j] = r.clone()
			}
			s.Choices = rules
		}
		out.States[i] = s
	}
	return out
}

func (r ChoiceRule) clone() ChoiceRule {
	r.StringEquals = clonePtr(r.StringEquals)
	r.NumericEquals = clonePtr(r.NumericEquals)
	r.BooleanEquals = clonePtr(r.BooleanEquals)
	r.IsPresent = clonePtr(r.IsPresent)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks the structural invariants of the graph. Every failure
// wraps ErrMalformedDefinition.
func (d Definition) Validate() error {
	if d.Name == "" {
		return malformed("definition name is required")
	}
	if d.Timeout < 0 {
		return malformed("timeout must not be negative")
	}
	if len(d.States) == 0 {
		return malformed("definition %q has no states", d.Name)
	}
	if d.StartAt == "" {
		return malformed("definition %q has no start state", d.Name)
	}

	byName := make(map[string]State, len(d.States))
	for _, s := range d.States {
		if s.Name == "" {
			return malformed("state name cannot be empty")
		}
		if _, dup := byName[s.Name]; dup {
			return malformed("duplicate state %q", s.Name)
		}
		byName[s.Name] = s
	}
	if _, ok := byName[d.StartAt]; !ok {
		return malformed("start state %q not found", d.StartAt)
	}

	for _, s := range d.States {
		if err := validateState(s); err != nil {
			return err
		}
		for _, target := range s.targets() {
			if _, ok := byName[target]; !ok {
				return malformed("state %q transitions to undefined state %q", s.Name, target)
			}
		}
	}

	return checkAcyclic(d.StartAt, byName)
}

func validateState(s State) error {
	switch s.Kind {
	case KindTask:
		if s.Task == "" {
			return malformed("task state %q has no task reference", s.Name)
		}
		if s.Next == "" {
			return malformed("task state %q has no next state", s.Name)
		}
		if s.OutputPath != "" && !validPath(s.OutputPath) {
			return malformed("task state %q has invalid output path %q", s.Name, s.OutputPath)
		}
	case KindChoice:
		if len(s.Choices) == 0 {
			return malformed("choice state %q has no rules", s.Name)
		}
		if s.Default == "" {
			return malformed("choice state %q has no default branch", s.Name)
		}
		for i, c := range s.Choices {
			if !validPath(c.Variable) {
				return malformed("choice state %q rule %d has invalid variable %q", s.Name, i, c.Variable)
			}
			if c.comparisons() != 1 {
				return malformed("choice state %q rule %d must have exactly one comparison", s.Name, i)
			}
			if c.Next == "" {
				return malformed("choice state %q rule %d has no target", s.Name, i)
			}
		}
	case KindSucceed:
	case KindFail:
		if s.Error == "" {
			return malformed("fail state %q has no error code", s.Name)
		}
	default:
		return malformed("state %q has unknown kind %q", s.Name, s.Kind)
	}
	if s.Kind.Terminal() && (s.Next != "" || s.Default != "" || len(s.Choices) > 0) {
		return malformed("terminal state %q cannot have transitions", s.Name)
	}
	return nil
}

// checkAcyclic walks the graph depth-first from start and rejects back edges.
func checkAcyclic(start string, byName map[string]State) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	marks := make(map[string]int, len(byName))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch marks[name] {
		case inProgress:
			return malformed("cycle reachable from start: %s", strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		marks[name] = inProgress
		for _, next := range byName[name].targets() {
			if err := visit(next, append(path, name)); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}

	return visit(start, nil)
}
