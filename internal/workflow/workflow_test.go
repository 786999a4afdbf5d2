package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/ferrors"
)

type fakeAllowlist struct {
	allowed map[string]bool
}

func (f fakeAllowlist) Allowed(name, version string) bool {
	return f.allowed[name+"@"+version]
}

func validSpec() Spec {
	return Spec{
		WorkflowID:  "wf-1",
		Version:     "0.1.0",
		Description: "summarize then review",
		Inputs: map[string]InputSpec{
			"topic": {Name: "topic", Type: "string", Required: true},
		},
		Outputs: map[string]OutputSpec{
			"final": {Name: "final", Type: "string", SourceReference: "steps.review.result"},
		},
		Steps: []Step{
			{
				StepID:         "draft",
				Kind:           StepLanguageModelCall,
				PromptTemplate: "Write about {inputs.topic}",
				OutputName:     "draft_text",
			},
			{
				StepID:       "review",
				Kind:         StepLanguageModelCall,
				InputMapping: map[string]string{"text": "steps.draft.draft_text"},
				OutputName:   "result",
				DependsOn:    []string{"draft"},
			},
		},
	}
}

func TestValidateAcceptsWellFormedSpec(t *testing.T) {
	require.NoError(t, Validate(validSpec(), nil))
}

func TestValidateRejectsDuplicateStepID(t *testing.T) {
	spec := validSpec()
	spec.Steps[1].StepID = "draft"
	err := Validate(spec, nil)
	require.Error(t, err)
	code, ok := ferrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeValidationError, code)
}

func TestValidateRejectsDanglingInputMappingStepReference(t *testing.T) {
	spec := validSpec()
	spec.Steps[1].InputMapping = map[string]string{"text": "steps.missing.result"}
	require.Error(t, Validate(spec, nil))
}

func TestValidateRejectsUndeclaredInputReference(t *testing.T) {
	spec := validSpec()
	spec.Steps[0].PromptTemplate = "Write about {inputs.missing_input}"
	require.Error(t, Validate(spec, nil))
}

func TestValidateRejectsCycle(t *testing.T) {
	spec := validSpec()
	spec.Steps[0].DependsOn = []string{"review"}
	err := Validate(spec, nil)
	require.Error(t, err)
}

func TestValidateRejectsParallelGroupWithDependentSteps(t *testing.T) {
	spec := validSpec()
	group := 1
	spec.Steps[0].ParallelGroup = &group
	spec.Steps[1].ParallelGroup = &group
	// steps[1] depends on steps[0] via both DependsOn and input_mapping.
	err := Validate(spec, nil)
	require.Error(t, err)
}

func TestValidateAllowsIndependentStepsInSameParallelGroup(t *testing.T) {
	spec := validSpec()
	spec.Steps[1].DependsOn = nil
	spec.Steps[1].InputMapping = nil
	group := 1
	spec.Steps[0].ParallelGroup = &group
	spec.Steps[1].ParallelGroup = &group
	require.NoError(t, Validate(spec, nil))
}

func TestValidateChecksPipPackageAllowlist(t *testing.T) {
	spec := validSpec()
	spec.Dependencies.PipPackages = []PipPackage{{Name: "requests", Version: "2.31.0"}}

	err := Validate(spec, fakeAllowlist{allowed: map[string]bool{}})
	require.Error(t, err)

	err = Validate(spec, fakeAllowlist{allowed: map[string]bool{"requests@2.31.0": true}})
	require.NoError(t, err)
}

func TestParseAndMarshalRoundTrip(t *testing.T) {
	spec := validSpec()
	data, err := Marshal(spec)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, spec.WorkflowID, parsed.WorkflowID)
	require.Equal(t, spec.Steps[0].StepID, parsed.Steps[0].StepID)
	require.NoError(t, Validate(parsed, nil))

	data2, err := Marshal(parsed)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(data2))
}

func TestParseRejectsMissingWorkflowID(t *testing.T) {
	_, err := Parse([]byte(`{"steps":[]}`))
	require.Error(t, err)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
}
