package orderflow

import (
	"fmt"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := orderflow.New("order-processing").
//	    Task("PutItem", "store-item", "Decide", "$.Payload").
//	    Choice("Decide", "PutObject", orderflow.WhenString("$", "FAILED", "Fail")).
//	    Task("PutObject", "store-object", "Succeed", "$.Payload").
//	    Succeed("Succeed").
//	    Fail("Fail", "DescribeJob returned FAILED", "Place order failed")
//
//	if err := flow.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
// The first state added is the start state unless StartAt says otherwise.
// Validation happens in Build and Register.
type FlowBuilder struct {
	def api.Definition
}

// New creates a new workflow builder with the given name.
func New(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.Definition{
			Name:   name,
			States: make([]api.State, 0),
		},
	}
}

// Name returns the workflow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// StartAt overrides the start state.
func (b *FlowBuilder) StartAt(state string) *FlowBuilder {
	b.def.StartAt = state
	return b
}

// Timeout sets the execution deadline measured from start.
func (b *FlowBuilder) Timeout(d time.Duration) *FlowBuilder {
	b.def.Timeout = d
	return b
}

func (b *FlowBuilder) add(s api.State) *FlowBuilder {
	if s.Name == "" {
		panic("orderflow: state name must not be empty")
	}
	if b.def.StartAt == "" {
		b.def.StartAt = s.Name
	}
	b.def.States = append(b.def.States, s)
	return b
}

// Task appends a Task state invoking the executor registered as task.
// outputPath may be empty to keep the raw output.
func (b *FlowBuilder) Task(name, task, next, outputPath string) *FlowBuilder {
	if task == "" {
		panic(fmt.Sprintf("orderflow: task state %q has no executor name", name))
	}
	return b.add(api.State{
		Name:       name,
		Kind:       api.KindTask,
		Task:       task,
		OutputPath: outputPath,
		Next:       next,
	})
}

// Choice appends a Choice state. Rules are evaluated in order; the first
// match wins and otherwise is used when none matches.
func (b *FlowBuilder) Choice(name, otherwise string, rules ...api.ChoiceRule) *FlowBuilder {
	return b.add(api.State{
		Name:    name,
		Kind:    api.KindChoice,
		Choices: append([]api.ChoiceRule(nil), rules...),
		Default: otherwise,
	})
}

// Succeed appends a terminal success state.
func (b *FlowBuilder) Succeed(name string) *FlowBuilder {
	return b.add(api.State{Name: name, Kind: api.KindSucceed})
}

// Fail appends a terminal failure state with a fixed error and cause.
func (b *FlowBuilder) Fail(name, errorCode, cause string) *FlowBuilder {
	return b.add(api.State{Name: name, Kind: api.KindFail, Error: errorCode, Cause: cause})
}

// WhenString matches when the value at variable equals s.
func WhenString(variable, s, next string) api.ChoiceRule {
	return api.ChoiceRule{Variable: variable, StringEquals: &s, Next: next}
}

// WhenNumber matches when the value at variable is the number n.
func WhenNumber(variable string, n float64, next string) api.ChoiceRule {
	return api.ChoiceRule{Variable: variable, NumericEquals: &n, Next: next}
}

// WhenBool matches when the value at variable is the boolean v.
func WhenBool(variable string, v bool, next string) api.ChoiceRule {
	return api.ChoiceRule{Variable: variable, BooleanEquals: &v, Next: next}
}

// WhenPresent matches when variable exists (present) or is absent.
func WhenPresent(variable string, present bool, next string) api.ChoiceRule {
	return api.ChoiceRule{Variable: variable, IsPresent: &present, Next: next}
}

// Build validates and returns a copy of the definition.
func (b *FlowBuilder) Build() (Definition, error) {
	def := b.def.Clone()
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Register registers the built workflow with the given engine. Executors
// for its Task states must be registered first.
func (b *FlowBuilder) Register(eng Engine) error {
	def, err := b.Build()
	if err != nil {
		return err
	}
	return eng.RegisterDefinition(def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
