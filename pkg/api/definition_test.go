package api

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string     { return &s }
func numPtr(f float64) *float64   { return &f }
func boolPtr(b bool) *bool        { return &b }

func sampleDefinition() Definition {
	return Definition{
		Name:    "orders",
		StartAt: "PutItem",
		Timeout: 5 * time.Minute,
		States: []State{
			{Name: "PutItem", Kind: KindTask, Task: "store-item", OutputPath: "$.Payload", Next: "Decide"},
			{
				Name: "Decide",
				Kind: KindChoice,
				Choices: []ChoiceRule{
					{Variable: "$", StringEquals: strPtr("FAILED"), Next: "Fail"},
				},
				Default: "PutObject",
			},
			{Name: "PutObject", Kind: KindTask, Task: "store-object", OutputPath: "$.Payload", Next: "Succeed"},
			{Name: "Succeed", Kind: KindSucceed},
			{Name: "Fail", Kind: KindFail, Cause: "Place order failed", Error: "DescribeJob returned FAILED"},
		},
	}
}

func TestDefinition_ValidateAcceptsSample(t *testing.T) {
	require.NoError(t, sampleDefinition().Validate())
}

func TestDefinition_ValidateRejectsMalformed(t *testing.T) {
	cases := map[string]func(d *Definition){
		"missing start": func(d *Definition) { d.StartAt = "" },
		"unknown start": func(d *Definition) { d.StartAt = "Nope" },
		"dangling next": func(d *Definition) { d.States[0].Next = "Missing" },
		"dangling choice target": func(d *Definition) {
			d.States[1].Choices[0].Next = "Missing"
		},
		"choice without default": func(d *Definition) { d.States[1].Default = "" },
		"choice without rules":   func(d *Definition) { d.States[1].Choices = nil },
		"rule with two comparisons": func(d *Definition) {
			d.States[1].Choices[0].BooleanEquals = boolPtr(true)
		},
		"bad variable":       func(d *Definition) { d.States[1].Choices[0].Variable = "status" },
		"task without task":  func(d *Definition) { d.States[0].Task = "" },
		"task without next":  func(d *Definition) { d.States[0].Next = "" },
		"bad output path":    func(d *Definition) { d.States[0].OutputPath = "Payload" },
		"duplicate state":    func(d *Definition) { d.States[3].Name = "PutItem" },
		"unknown kind":       func(d *Definition) { d.States[3].Kind = "Parallel" },
		"fail without error": func(d *Definition) { d.States[4].Error = "" },
		"terminal with next": func(d *Definition) { d.States[3].Next = "Fail" },
		"no name":            func(d *Definition) { d.Name = "" },
		"negative timeout":   func(d *Definition) { d.Timeout = -time.Second },
		"cycle": func(d *Definition) {
			d.States[2].Next = "PutItem"
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := sampleDefinition().Clone()
			mutate(&def)
			err := def.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedDefinition), "got %v", err)
		})
	}
}

func TestDefinition_CycleMessageNamesPath(t *testing.T) {
	def := sampleDefinition().Clone()
	def.States[2].Next = "PutItem"

	err := def.Validate()
	require.ErrorIs(t, err, ErrMalformedDefinition)
	require.True(t, strings.Contains(err.Error(), "PutItem -> Decide -> PutObject -> PutItem"), err.Error())
}

func TestDefinition_UnreachableCycleIsIgnored(t *testing.T) {
	def := sampleDefinition().Clone()
	def.States = append(def.States,
		State{Name: "LoopA", Kind: KindTask, Task: "x", Next: "LoopB"},
		State{Name: "LoopB", Kind: KindTask, Task: "x", Next: "LoopA"},
	)
	require.NoError(t, def.Validate())
}

func TestDefinition_CloneIsIndependent(t *testing.T) {
	def := sampleDefinition()
	cp := def.Clone()
	cp.States[1].Choices[0].Next = "PutObject"
	cp.States[0].Name = "Changed"
	*cp.States[1].Choices[0].StringEquals = "SUCCEEDED"

	require.Equal(t, "Fail", def.States[1].Choices[0].Next)
	require.Equal(t, "PutItem", def.States[0].Name)
	require.Equal(t, "FAILED", *def.States[1].Choices[0].StringEquals)
}

func TestChoice_WholePayloadStringEquals(t *testing.T) {
	def := sampleDefinition()
	decide, ok := def.Lookup("Decide")
	require.True(t, ok)

	require.Equal(t, "Fail", decide.Choose(json.RawMessage(`"FAILED"`)))
	require.Equal(t, "PutObject", decide.Choose(json.RawMessage(`{"id":"abc"}`)))
	require.Equal(t, "PutObject", decide.Choose(json.RawMessage(`"SUCCEED"`)))
	require.Equal(t, "PutObject", decide.Choose(nil))
}

func TestChoice_MultipleBranchesFirstMatchWins(t *testing.T) {
	state := State{
		Name: "Route",
		Kind: KindChoice,
		Choices: []ChoiceRule{
			{Variable: "$.order.priority", BooleanEquals: boolPtr(true), Next: "Express"},
			{Variable: "$.order.quantity", NumericEquals: numPtr(0), Next: "Reject"},
			{Variable: "$.order.city", StringEquals: strPtr("Oslo"), Next: "Nordic"},
			{Variable: "$.order.city", IsPresent: boolPtr(false), Next: "NeedsCity"},
		},
		Default: "Standard",
	}

	cases := []struct {
		payload string
		want    string
	}{
		{`{"order":{"priority":true,"quantity":0,"city":"Oslo"}}`, "Express"},
		{`{"order":{"priority":false,"quantity":0,"city":"Oslo"}}`, "Reject"},
		{`{"order":{"quantity":2,"city":"Oslo"}}`, "Nordic"},
		{`{"order":{"quantity":2}}`, "NeedsCity"},
		{`{"order":{"quantity":"0","city":"Rome"}}`, "Standard"},
		{`{"order":{"priority":"true","city":"Rome"}}`, "Standard"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, state.Choose(json.RawMessage(tc.payload)), tc.payload)
	}
}

func TestProjectOutput(t *testing.T) {
	out, err := ProjectOutput(json.RawMessage(`{"id":"abc"}`), "$.Payload")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"abc"}`, string(out))

	out, err = ProjectOutput(json.RawMessage(`"FAILED"`), "$.Payload")
	require.NoError(t, err)
	require.Equal(t, `"FAILED"`, string(out))

	out, err = ProjectOutput(json.RawMessage(`{"order":{"id":"abc"}}`), "$.Payload.order.id")
	require.NoError(t, err)
	require.Equal(t, `"abc"`, string(out))

	out, err = ProjectOutput(json.RawMessage(`{"x":1}`), "$")
	require.NoError(t, err)
	require.JSONEq(t, `{"Payload":{"x":1}}`, string(out))

	out, err = ProjectOutput(json.RawMessage(`{"x":1}`), "")
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(out))

	_, err = ProjectOutput(json.RawMessage(`{"x":1}`), "$.Payload.missing")
	require.Error(t, err)
}

const sampleYAML = `
name: order-processing
start_at: PutItem
timeout: 5m
states:
  - name: PutItem
    kind: Task
    task: store-item
    output_path: $.Payload
    next: Decide
  - name: Decide
    kind: Choice
    choices:
      - variable: $
        string_equals: FAILED
        next: Fail
    default: PutObject
  - name: PutObject
    kind: Task
    task: store-object
    output_path: $.Payload
    next: Succeed
  - name: Succeed
    kind: Succeed
  - name: Fail
    kind: Fail
    error: DescribeJob returned FAILED
    cause: Place order failed
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "order-processing", def.Name)
	require.Equal(t, "PutItem", def.StartAt)
	require.Equal(t, 5*time.Minute, def.Timeout)
	require.Len(t, def.States, 5)

	decide, ok := def.Lookup("Decide")
	require.True(t, ok)
	require.Equal(t, KindChoice, decide.Kind)
	require.NotNil(t, decide.Choices[0].StringEquals)
	require.Equal(t, "FAILED", *decide.Choices[0].StringEquals)

	fail, ok := def.Lookup("Fail")
	require.True(t, ok)
	require.Equal(t, "Place order failed", fail.Cause)
}

func TestParseDefinitionYAML_RejectsDanglingTarget(t *testing.T) {
	doc := strings.Replace(sampleYAML, "default: PutObject", "default: Nowhere", 1)
	_, err := ParseDefinitionYAML([]byte(doc))
	require.ErrorIs(t, err, ErrMalformedDefinition)
}

func TestParseDefinitionYAML_RejectsBadTimeout(t *testing.T) {
	doc := strings.Replace(sampleYAML, "timeout: 5m", "timeout: soon", 1)
	_, err := ParseDefinitionYAML([]byte(doc))
	require.ErrorIs(t, err, ErrMalformedDefinition)
}

func TestExecution_CloneIsDeep(t *testing.T) {
	exec := &Execution{
		ID:      "e1",
		Payload: json.RawMessage(`{"a":1}`),
		Error:   &ExecutionError{Code: "X", Cause: "y"},
	}
	cp := exec.Clone()
	cp.Payload[2] = 'b'
	cp.Error.Code = "Z"

	require.Equal(t, `{"a":1}`, string(exec.Payload))
	require.Equal(t, "X", exec.Error.Code)
}

func TestExecutorError_MatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("table unavailable")
	err := error(&ExecutorError{Task: "store-item", Err: cause})

	require.ErrorIs(t, err, ErrExecutorFailure)
	require.ErrorIs(t, err, cause)
}
