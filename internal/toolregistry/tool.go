// Package toolregistry implements the Tool Registry (spec §4.5): it
// discovers tools from spec files, Artifact Memory, and external protocol
// servers, and dispatches invocations by tool kind.
package toolregistry

import (
	"time"
)

// Kind identifies how a Tool is invoked.
type Kind string

const (
	KindLanguageModel       Kind = "language_model"
	KindExecutable          Kind = "executable"
	KindWorkflow            Kind = "workflow"
	KindCustomCode          Kind = "custom_code"
	KindExternalProtocolServer Kind = "external_protocol_server"
	KindAPISpec             Kind = "api_spec"
)

// Constraints bounds a tool invocation's resource usage.
type Constraints struct {
	TimeoutMS    int `json:"timeout_ms" yaml:"timeout_ms"`
	MaxMemoryMB  int `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUPercent int `json:"max_cpu_percent" yaml:"max_cpu_percent"`
}

// CostTier, SpeedTier, QualityTier classify a tool for selection heuristics.
type (
	CostTier    string
	SpeedTier   string
	QualityTier string
)

const (
	CostFree     CostTier = "free"
	CostLow      CostTier = "low"
	CostMedium   CostTier = "medium"
	CostHigh     CostTier = "high"
	CostVariable CostTier = "variable"

	SpeedVeryFast SpeedTier = "very-fast"
	SpeedFast     SpeedTier = "fast"
	SpeedMedium   SpeedTier = "medium"
	SpeedSlow     SpeedTier = "slow"

	QualityBasic     QualityTier = "basic"
	QualityGood      QualityTier = "good"
	QualityExcellent QualityTier = "excellent"
	QualityPerfect   QualityTier = "perfect"
)

// ExecutableInvocation is the invocation_descriptor for KindExecutable.
type ExecutableInvocation struct {
	Command   string   `json:"command" yaml:"command"`
	Args      []string `json:"args" yaml:"args"`
	StdinMode string   `json:"stdin_mode,omitempty" yaml:"stdin_mode,omitempty"`
}

// LanguageModelInvocation is the invocation_descriptor for KindLanguageModel.
type LanguageModelInvocation struct {
	ModelKey       string  `json:"model_key" yaml:"model_key"`
	SystemPrompt   string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	PromptTemplate string  `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty"`
	Temperature    float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// CustomCodeInvocation is the invocation_descriptor for KindCustomCode.
type CustomCodeInvocation struct {
	Module string         `json:"module" yaml:"module"`
	Class  string         `json:"class" yaml:"class"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ExternalServerInvocation is the invocation_descriptor for
// KindExternalProtocolServer.
type ExternalServerInvocation struct {
	ServerName   string `json:"server_name" yaml:"server_name"`
	RemoteToolID string `json:"remote_tool_id" yaml:"remote_tool_id"`
}

// WorkflowInvocation is the invocation_descriptor for KindWorkflow.
type WorkflowInvocation struct {
	WorkflowID string `json:"workflow_id" yaml:"workflow_id"`
}

// APISpecInvocation is the invocation_descriptor for KindAPISpec.
type APISpecInvocation struct {
	SpecPath        string         `json:"spec_path" yaml:"spec_path"`
	BaseURLOverride string         `json:"base_url_override,omitempty" yaml:"base_url_override,omitempty"`
	AuthConfig      map[string]any `json:"auth_config,omitempty" yaml:"auth_config,omitempty"`
}

// Tool is the unified capability record described by spec §3.
type Tool struct {
	ToolID      string      `json:"tool_id" yaml:"-"`
	Name        string      `json:"name" yaml:"name"`
	Kind        Kind        `json:"kind" yaml:"type"`
	Description string      `json:"description" yaml:"description"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`

	Executable       *ExecutableInvocation     `json:"executable,omitempty" yaml:"executable,omitempty"`
	LanguageModel    *LanguageModelInvocation  `json:"llm,omitempty" yaml:"llm,omitempty"`
	CustomCode       *CustomCodeInvocation     `json:"custom,omitempty" yaml:"custom,omitempty"`
	ExternalServer   *ExternalServerInvocation `json:"external_server,omitempty" yaml:"external_server,omitempty"`
	Workflow         *WorkflowInvocation       `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	APISpec          *APISpecInvocation        `json:"openapi,omitempty" yaml:"openapi,omitempty"`

	Constraints Constraints `json:"constraints" yaml:"constraints"`

	CostTier    CostTier    `json:"cost_tier" yaml:"cost_tier"`
	SpeedTier   SpeedTier   `json:"speed_tier" yaml:"speed_tier"`
	QualityTier QualityTier `json:"quality_tier" yaml:"quality_tier"`
	Priority    int         `json:"priority" yaml:"priority"`
	TrackUsage  bool        `json:"track_usage" yaml:"track_usage"`

	DefinitionHash string    `json:"definition_hash"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Descriptor returns the tool's invocation descriptor as an opaque value,
// used when computing the definition hash so changes to kind-specific
// configuration trigger a version bump.
func (t Tool) Descriptor() any {
	switch t.Kind {
	case KindExecutable:
		return t.Executable
	case KindLanguageModel:
		return t.LanguageModel
	case KindCustomCode:
		return t.CustomCode
	case KindExternalProtocolServer:
		return t.ExternalServer
	case KindWorkflow:
		return t.Workflow
	case KindAPISpec:
		return t.APISpec
	default:
		return nil
	}
}
