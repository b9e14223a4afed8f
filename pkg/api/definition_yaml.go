package api

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// yamlDefinition is the on-disk shape of a Definition:
//
//	name: order-processing
//	start_at: PutItem
//	timeout: 5m
//	states:
//	  - name: PutItem
//	    kind: Task
//	    task: store-item
//	    output_path: $.Payload
//	    next: Decide
//	  - name: Decide
//	    kind: Choice
//	    choices:
//	      - variable: $
//	        string_equals: FAILED
//	        next: Fail
//	    default: PutObject
type yamlDefinition struct {
	Name    string      `yaml:"name"`
	StartAt string      `yaml:"start_at"`
	Timeout string      `yaml:"timeout"`
	States  []yamlState `yaml:"states"`
}

type yamlState struct {
	Name       string       `yaml:"name"`
	Kind       string       `yaml:"kind"`
	Task       string       `yaml:"task"`
	OutputPath string       `yaml:"output_path"`
	Next       string       `yaml:"next"`
	Choices    []yamlChoice `yaml:"choices"`
	Default    string       `yaml:"default"`
	Error      string       `yaml:"error"`
	Cause      string       `yaml:"cause"`
}

type yamlChoice struct {
	Variable      string   `yaml:"variable"`
	StringEquals  *string  `yaml:"string_equals"`
	NumericEquals *float64 `yaml:"numeric_equals"`
	BooleanEquals *bool    `yaml:"boolean_equals"`
	IsPresent     *bool    `yaml:"is_present"`
	Next          string   `yaml:"next"`
}

// ParseDefinitionYAML decodes and validates a definition document.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	var doc yamlDefinition
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}

	def := Definition{
		Name:    doc.Name,
		StartAt: doc.StartAt,
		States:  make([]State, 0, len(doc.States)),
	}
	if doc.Timeout != "" {
		d, err := time.ParseDuration(doc.Timeout)
		if err != nil {
			return Definition{}, malformed("invalid timeout %q: %v", doc.Timeout, err)
		}
		def.Timeout = d
	}

	for _, s := range doc.States {
		state := State{
			Name:       s.Name,
			Kind:       StateKind(s.Kind),
			Task:       s.Task,
			OutputPath: s.OutputPath,
			Next:       s.Next,
			Default:    s.Default,
			Error:      s.Error,
			Cause:      s.Cause,
		}
		for _, c := range s.Choices {
			state.Choices = append(state.Choices, ChoiceRule{
				Variable:      c.Variable,
				StringEquals:  c.StringEquals,
				NumericEquals: c.NumericEquals,
				BooleanEquals: c.BooleanEquals,
				IsPresent:     c.IsPresent,
				Next:          c.Next,
			})
		}
		def.States = append(def.States, state)
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadDefinitionYAML reads a definition file from disk.
func LoadDefinitionYAML(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", path, err)
	}
	return ParseDefinitionYAML(data)
}
