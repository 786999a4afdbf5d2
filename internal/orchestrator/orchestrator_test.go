package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/config"
	"github.com/scottgal/flowforge/internal/executor"
	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/modelrouter"
	"github.com/scottgal/flowforge/internal/reuse"
	"github.com/scottgal/flowforge/internal/toolregistry"
	"github.com/scottgal/flowforge/internal/workflow"
)

type fakeEmbedder struct{}

func (fakeEmbedder) ModelID() string { return "fake-embed-v1" }
func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func newTestMemory() *memory.Memory {
	return memory.New(memory.NewInMemoryStore(), memory.NewInMemoryVectorIndex(), fakeEmbedder{})
}

func testConfig() *config.Config {
	return &config.Config{
		ModelKeys: map[string]config.ModelKeyConfig{
			"overseer-default": {Backend: config.BackendAnthropic, ModelName: "claude-planner"},
			"overseer-big":     {Backend: config.BackendAnthropic, ModelName: "claude-planner-xl"},
			"gen-default":      {Backend: config.BackendOllama, ModelName: "llama3"},
		},
		Roles: map[string]config.RoleConfig{
			config.RoleOverseer:  {Default: "overseer-default", Escalation: []string{"overseer-big"}},
			config.RoleGenerator: {Default: "gen-default"},
		},
	}
}

// fakePlannerClient returns its responses in order, one per call, and keeps
// returning the last one once they run out.
type fakePlannerClient struct {
	responses []string
	calls     int
}

func (f *fakePlannerClient) Generate(_ context.Context, _ string, _ string, _ modelrouter.Options) (string, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

const singleToolWorkflowJSON = `{
  "workflow_id": "add-two-numbers",
  "version": "0.1.0",
  "inputs": {
    "a": {"name": "a", "type": "number", "required": true},
    "b": {"name": "b", "type": "number", "required": true}
  },
  "outputs": {"sum": {"name": "sum", "source_reference": "steps.add.result"}},
  "steps": [
    {"step_id": "add", "type": "registered_tool", "tool_ref": "adder", "output_name": "result",
     "input_mapping": {"a": "inputs.a", "b": "inputs.b"}}
  ]
}`

// fakeAdderInvoker implements toolregistry.Invoker for a single registered
// "adder" tool.
type fakeAdderInvoker struct{}

func (fakeAdderInvoker) Invoke(_ context.Context, _ toolregistry.Tool, input map[string]any) (map[string]any, error) {
	a, _ := input["a"].(float64)
	b, _ := input["b"].(float64)
	return map[string]any{"result": a + b}, nil
}

func newRegistryWithAdder(t *testing.T, mem *memory.Memory) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.New(mem)
	reg.RegisterInvoker(toolregistry.KindExecutable, fakeAdderInvoker{})
	_, err := reg.Register(context.Background(), toolregistry.Tool{
		Name:        "adder",
		Kind:        toolregistry.KindExecutable,
		Description: "adds two numbers",
		Executable:  &toolregistry.ExecutableInvocation{Command: "adder"},
	})
	require.NoError(t, err)
	return reg
}

func TestOrchestrateReuseHit(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	reg := newRegistryWithAdder(t, mem)
	ex := executor.New(reg)

	_, err := mem.Store(ctx, memory.Artifact{
		Kind:        memory.KindWorkflow,
		Name:        "add-two-numbers",
		Description: "Add two numbers together",
		Content:     singleToolWorkflowJSON,
		UsageCount:  5,
		QualityScore: 0.9,
	})
	require.NoError(t, err)

	cfg := testConfig()
	router := modelrouter.New(cfg, map[string]modelrouter.Client{})
	o := New(mem, reuse.New(mem), router, reg, ex, cfg)

	resp, err := o.Orchestrate(ctx, Request{Text: "add 7 and 3", Inputs: map[string]any{"a": 7.0, "b": 3.0}})
	require.NoError(t, err)
	require.True(t, resp.Reused)
	require.False(t, resp.Result.Failed, "%v", resp.Result.Err)
	require.Equal(t, 10.0, resp.Result.Outputs["sum"])

	stored, err := mem.Get(ctx, (func() string {
		found, ferr := mem.FindSimilar(ctx, "add-two-numbers", memory.KindWorkflow, nil, 1)
		require.NoError(t, ferr)
		require.Len(t, found, 1)
		return found[0].Artifact.ArtifactID
	})())
	require.NoError(t, err)
	require.Equal(t, 6, stored.UsageCount)
}

func TestOrchestrateGenerateAndRunOnMiss(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	reg := newRegistryWithAdder(t, mem)
	ex := executor.New(reg)

	cfg := testConfig()
	client := &fakePlannerClient{responses: []string{singleToolWorkflowJSON}}
	router := modelrouter.New(cfg, map[string]modelrouter.Client{config.BackendAnthropic: client})
	o := New(mem, reuse.New(mem), router, reg, ex, cfg)

	resp, err := o.Orchestrate(ctx, Request{Text: "add 7 and 3", Inputs: map[string]any{"a": 7.0, "b": 3.0}})
	require.NoError(t, err)
	require.False(t, resp.Reused)
	require.False(t, resp.Result.Failed, "%v", resp.Result.Err)
	require.Equal(t, 10.0, resp.Result.Outputs["sum"])
	require.Equal(t, "add-two-numbers", resp.WorkflowID)

	// Stored for reuse on the next equivalent request.
	found, err := mem.FindSimilar(ctx, "add-two-numbers", memory.KindWorkflow, nil, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

// The first planner response is not valid JSON, so the default overseer's
// plan fails to parse; the escalation key's plan parses and runs.
func TestOrchestrateEscalatesOnPlanningFailure(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	reg := newRegistryWithAdder(t, mem)
	ex := executor.New(reg)

	cfg := testConfig()
	client := &fakePlannerClient{responses: []string{"not valid json", singleToolWorkflowJSON}}
	router := modelrouter.New(cfg, map[string]modelrouter.Client{config.BackendAnthropic: client})
	o := New(mem, reuse.New(mem), router, reg, ex, cfg)

	resp, err := o.Orchestrate(ctx, Request{Text: "add 7 and 3", Inputs: map[string]any{"a": 7.0, "b": 3.0}})
	require.NoError(t, err)
	require.Equal(t, "overseer-big", resp.EscalatedTo)
	require.False(t, resp.Result.Failed)
	require.Equal(t, 10.0, resp.Result.Outputs["sum"])
}

func TestOrchestrateExhaustsEscalationChain(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	reg := newRegistryWithAdder(t, mem)
	ex := executor.New(reg)

	cfg := testConfig()
	client := &fakePlannerClient{responses: []string{"still not json"}}
	router := modelrouter.New(cfg, map[string]modelrouter.Client{config.BackendAnthropic: client})
	o := New(mem, reuse.New(mem), router, reg, ex, cfg)

	_, err := o.Orchestrate(ctx, Request{Text: "add 7 and 3"})
	require.Error(t, err)
	code, ok := ferrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeStepFailure, code)
}

func TestResolveUnknownToolsRegistersSynthesizedTool(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	reg := toolregistry.New(mem)
	ex := executor.New(reg)
	cfg := testConfig()
	router := modelrouter.New(cfg, map[string]modelrouter.Client{})
	o := New(mem, reuse.New(mem), router, reg, ex, cfg)

	spec := workflow.Spec{
		WorkflowID: "wf-new-tool",
		Steps: []workflow.Step{
			{StepID: "s1", Kind: workflow.StepRegisteredTool, ToolRef: "summarizer", Description: "summarizes text", OutputName: "out"},
		},
	}

	err := o.resolveUnknownTools(ctx, spec)
	require.NoError(t, err)

	tool, err := reg.GetByName("summarizer")
	require.NoError(t, err)
	require.Equal(t, toolregistry.KindLanguageModel, tool.Kind)
}

func TestResolveUnknownToolsSkipsAlreadyRegistered(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	reg := toolregistry.New(mem)
	ex := executor.New(reg)
	cfg := testConfig()
	router := modelrouter.New(cfg, map[string]modelrouter.Client{})
	o := New(mem, reuse.New(mem), router, reg, ex, cfg)

	_, err := reg.Register(ctx, toolregistry.Tool{
		Name:        "text-summarizer",
		Kind:        toolregistry.KindLanguageModel,
		Description: "summarizes arbitrary text into a short digest",
		LanguageModel: &toolregistry.LanguageModelInvocation{ModelKey: "gen-default"},
	})
	require.NoError(t, err)

	spec := workflow.Spec{
		WorkflowID: "wf-dup-tool",
		Steps: []workflow.Step{
			{StepID: "s1", Kind: workflow.StepRegisteredTool, ToolRef: "text-summarizer", Description: "summarizes arbitrary text into a short digest", OutputName: "out"},
		},
	}

	err = o.resolveUnknownTools(ctx, spec)
	require.NoError(t, err)
	// "text-summarizer" already resolves directly by name; nothing new registered.
	require.Len(t, reg.List(), 1)
}

func init() {
	// Sanity check that the fixture JSON used throughout this file parses,
	// failing fast with a clear message if it is ever hand-edited badly.
	if _, err := workflow.Parse([]byte(singleToolWorkflowJSON)); err != nil {
		panic(fmt.Sprintf("orchestrator test fixture invalid: %v", err))
	}
}
