// Package workflow defines the WorkflowSpec data model (spec §3, §6): the
// JSON wire format for a workflow, its steps, and validation rules.
package workflow

import "github.com/scottgal/flowforge/internal/toolregistry"

// StepKind identifies how a WorkflowStep is invoked.
type StepKind string

const (
	StepLanguageModelCall StepKind = "language_model_call"
	StepExecutableTool    StepKind = "executable_tool"
	StepSubWorkflow       StepKind = "sub_workflow"
	StepRegisteredTool    StepKind = "registered_tool"
)

// InputSpec describes one declared workflow input.
type InputSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// OutputSpec describes one declared workflow output. SourceReference is
// `inputs.X` or `steps.Y.Z`.
type OutputSpec struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	SourceReference string `json:"source_reference"`
	Description     string `json:"description,omitempty"`
}

// Step is one WorkflowStep (spec §3).
type Step struct {
	StepID         string            `json:"step_id"`
	Kind           StepKind          `json:"type"`
	Description    string            `json:"description,omitempty"`
	ToolRef        string            `json:"tool_ref,omitempty"`
	PromptTemplate string            `json:"prompt_template,omitempty"`
	InputMapping   map[string]string `json:"input_mapping,omitempty"`
	OutputName     string            `json:"output_name"`
	TimeoutMS      int               `json:"timeout_ms,omitempty"`
	RetryOnFailure bool              `json:"retry_on_failure,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`
	ParallelGroup  *int              `json:"parallel_group,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	GenerateTool   bool              `json:"generate_tool,omitempty"`
}

// PipPackage is one entry of Dependencies.PipPackages.
type PipPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Dependencies lists the external resources a workflow declares it needs
// (spec §3: "dependencies = {required_tool_names, pip_packages[]}").
type Dependencies struct {
	RequiredToolNames []string     `json:"required_tool_names,omitempty"`
	PipPackages       []PipPackage `json:"pip_packages,omitempty"`
}

// BDDScenario is one scenario of an embedded behavioral specification
// (spec §4.7).
type BDDScenario struct {
	Name  string   `json:"name"`
	Given []string `json:"given"`
	When  []string `json:"when"`
	Then  []string `json:"then"`
}

// BDDSpecification is the optional embedded behavioral spec.
type BDDSpecification struct {
	Feature   string        `json:"feature"`
	Scenarios []BDDScenario `json:"scenarios"`
}

// Spec is the WorkflowSpec wire format (spec §3, §6).
type Spec struct {
	WorkflowID       string                `json:"workflow_id"`
	Version          string                `json:"version"`
	Description      string                `json:"description,omitempty"`
	Portable         bool                  `json:"portable,omitempty"`
	Inputs           map[string]InputSpec  `json:"inputs,omitempty"`
	Outputs          map[string]OutputSpec `json:"outputs,omitempty"`
	Steps            []Step                `json:"steps"`
	Dependencies     Dependencies          `json:"dependencies,omitempty"`
	BDDSpecification *BDDSpecification     `json:"bdd_specification,omitempty"`

	// ToolDefinitions carries embedded tool definitions so a Portable
	// workflow can be executed without a separately populated registry
	// (spec §3: "optional embedded tool_definitions (when portable)").
	ToolDefinitions []toolregistry.Tool `json:"tool_definitions,omitempty"`
}
