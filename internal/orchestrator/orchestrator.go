// Package orchestrator implements the Orchestrator (spec §4.11): the
// top-level coordinator that turns a free-form request into an executed
// workflow, preferring reuse over generation and escalating through bigger
// models before giving up.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/scottgal/flowforge/internal/config"
	"github.com/scottgal/flowforge/internal/executor"
	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/modelrouter"
	"github.com/scottgal/flowforge/internal/reuse"
	"github.com/scottgal/flowforge/internal/scheduler"
	"github.com/scottgal/flowforge/internal/telemetry"
	"github.com/scottgal/flowforge/internal/toolregistry"
	"github.com/scottgal/flowforge/internal/workflow"
)

// duplicateThreshold is the similarity above which a generalized tool
// description is considered the same capability as an already-registered
// tool (spec §4.5 generalize→duplicate-check flow).
const duplicateThreshold = 0.80

// maxAutoRepairAttempts bounds how many fix-pattern-guided retries follow a
// persistent workflow failure (spec §4.11 step g).
const maxAutoRepairAttempts = 1

// Request is one orchestration request.
type Request struct {
	Text   string
	Inputs map[string]any
}

// Response reports how a request was satisfied.
type Response struct {
	Reused      bool
	WorkflowID  string
	EscalatedTo string
	RepairUsed  bool
	Result      executor.Result
}

// Orchestrator composes the Reuse Layer, Backend Router, Tool Registry,
// Workflow Executor, and Artifact Memory into the end-to-end flow described
// by spec §4.11.
type Orchestrator struct {
	mem      *memory.Memory
	reuse    *reuse.Layer
	router   *modelrouter.Router
	registry *toolregistry.Registry
	exec     *executor.Executor
	cfg      *config.Config
	sched    *scheduler.Scheduler
	logger   telemetry.Logger
	genOpts  modelrouter.Options
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithScheduler attaches the Task Scheduler so workflow execution marks
// itself active for background-throttling purposes (spec §4.9, §5).
func WithScheduler(s *scheduler.Scheduler) Option { return func(o *Orchestrator) { o.sched = s } }

// WithGenerationOptions overrides the default Backend Router options used
// for the overseer's plan-generation call.
func WithGenerationOptions(opts modelrouter.Options) Option {
	return func(o *Orchestrator) { o.genOpts = opts }
}

// New constructs an Orchestrator.
func New(mem *memory.Memory, reuseLayer *reuse.Layer, router *modelrouter.Router, registry *toolregistry.Registry, exec *executor.Executor, cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		mem:      mem,
		reuse:    reuseLayer,
		router:   router,
		registry: registry,
		exec:     exec,
		cfg:      cfg,
		logger:   telemetry.NewNoopLogger(),
		genOpts:  modelrouter.Options{Temperature: 0.2, MaxTokens: 4096, MaxRetries: 1},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate runs the full spec §4.11 flow: reuse check, plan+generate,
// validate, resolve unknown tools, execute, store on success, and escalate
// on failure. Each failed execution is followed by one auto-repair attempt
// before the next model in the escalation chain is tried, so a request can
// see as many repair attempts as there are keys in the chain.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (Response, error) {
	decision, err := o.reuse.TryReuse(ctx, req.Text, memory.KindWorkflow)
	if err != nil {
		return Response{}, err
	}
	if decision.Reused {
		spec, err := workflow.Parse([]byte(decision.Artifact.Content))
		if err != nil {
			return Response{}, err
		}
		result := o.runWorkflow(ctx, spec, req.Inputs)
		return Response{Reused: true, WorkflowID: spec.WorkflowID, Result: result}, result.Err
	}

	return o.generateAndRun(ctx, req)
}

// generateAndRun implements spec §4.11 steps (a)-(g) for a reuse miss.
func (o *Orchestrator) generateAndRun(ctx context.Context, req Request) (Response, error) {
	modelKey, _, err := o.cfg.RoleModel(config.RoleOverseer)
	if err != nil {
		return Response{}, err
	}

	chain := append([]string{modelKey}, o.cfg.EscalationChain(config.RoleOverseer)...)

	var lastErr error
	for i, key := range chain {
		spec, specErr := o.plan(ctx, key, req)
		if specErr != nil {
			lastErr = specErr
			continue
		}

		if err := o.resolveUnknownTools(ctx, spec); err != nil {
			lastErr = err
			continue
		}

		result := o.runWorkflow(ctx, spec, req.Inputs)
		if !result.Failed {
			if err := o.persist(ctx, spec); err != nil {
				o.logger.Warn(ctx, "orchestrator: failed to persist workflow artifact", "workflow_id", spec.WorkflowID, "error", err.Error())
			}
			resp := Response{WorkflowID: spec.WorkflowID, Result: result}
			if i > 0 {
				resp.EscalatedTo = key
			}
			return resp, nil
		}
		lastErr = result.Err

		repaired, repairErr := o.attemptAutoRepair(ctx, spec, req.Inputs, result)
		if repairErr == nil && !repaired.Failed {
			if err := o.persist(ctx, spec); err != nil {
				o.logger.Warn(ctx, "orchestrator: failed to persist repaired workflow artifact", "workflow_id", spec.WorkflowID, "error", err.Error())
			}
			return Response{WorkflowID: spec.WorkflowID, EscalatedTo: key, RepairUsed: true, Result: repaired}, nil
		}

		o.logger.Warn(ctx, "orchestrator: workflow attempt failed, escalating", "model_key", key, "error", lastErr.Error())
	}

	if lastErr == nil {
		lastErr = ferrors.New(ferrors.CodeStepFailure, "orchestrator: escalation chain exhausted with no attempts")
	}
	return Response{}, ferrors.Wrap(ferrors.CodeStepFailure, "orchestrator: escalation chain exhausted", lastErr)
}

// plan calls the Backend Router at modelKey to synthesize a WorkflowSpec,
// then parses and validates it (spec §4.11 steps a-b).
func (o *Orchestrator) plan(ctx context.Context, modelKey string, req Request) (workflow.Spec, error) {
	prompt := buildPlanningPrompt(req.Text, req.Inputs)
	raw, err := o.router.Generate(ctx, modelKey, prompt, o.genOpts)
	if err != nil {
		return workflow.Spec{}, err
	}

	spec, err := workflow.Parse([]byte(raw))
	if err != nil {
		return workflow.Spec{}, err
	}
	if err := workflow.Validate(spec, nil); err != nil {
		return workflow.Spec{}, err
	}
	return spec, nil
}

func buildPlanningPrompt(requestText string, inputs map[string]any) string {
	return fmt.Sprintf("Produce a WorkflowSpec JSON document that satisfies this request.\n\nrequest: %s\navailable inputs: %v\n\nRespond with only the JSON document.", requestText, inputs)
}

// resolveUnknownTools implements spec §4.5's generalize→duplicate-check
// flow for every step whose tool_ref does not resolve in the registry:
// the step's own tool_ref and description are matched against existing
// tools before falling back to registering a new language_model tool. No
// model call generalizes them first; they are searched exactly as the plan
// wrote them.
func (o *Orchestrator) resolveUnknownTools(ctx context.Context, spec workflow.Spec) error {
	for _, step := range spec.Steps {
		if step.Kind == workflow.StepSubWorkflow || step.ToolRef == "" {
			continue
		}
		if _, err := o.registry.GetByName(step.ToolRef); err == nil {
			continue
		}

		dup, found, err := o.registry.FindDuplicate(ctx, step.ToolRef, step.Description, duplicateThreshold)
		if err != nil {
			return err
		}
		if found {
			o.logger.Info(ctx, "orchestrator: resolved unknown tool to existing duplicate", "requested", step.ToolRef, "resolved", dup.Name)
			continue
		}

		if _, err := o.registry.Register(ctx, toolregistry.Tool{
			Name:        step.ToolRef,
			Kind:        toolregistry.KindLanguageModel,
			Description: step.Description,
			LanguageModel: &toolregistry.LanguageModelInvocation{
				ModelKey:       mustGeneratorModelKey(o.cfg),
				PromptTemplate: step.PromptTemplate,
			},
			TrackUsage: true,
		}); err != nil {
			return ferrors.Wrap(ferrors.CodeUnknownToolKind, "orchestrator: failed to register synthesized tool "+step.ToolRef, err)
		}
		o.logger.Info(ctx, "orchestrator: synthesized new tool", "name", step.ToolRef)
	}
	return nil
}

func mustGeneratorModelKey(cfg *config.Config) string {
	key, _, err := cfg.RoleModel(config.RoleGenerator)
	if err != nil {
		return ""
	}
	return key
}

// runWorkflow executes spec, marking it active with the scheduler (when
// configured) for the duration so background-priority tasks throttle
// correctly (spec §4.9, §5).
func (o *Orchestrator) runWorkflow(ctx context.Context, spec workflow.Spec, inputs map[string]any) executor.Result {
	if o.sched != nil {
		o.sched.BeginWorkflow(spec.WorkflowID)
		defer o.sched.EndWorkflow(spec.WorkflowID)
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	return o.exec.Run(ctx, spec, inputs)
}

// persist stores the workflow as a canonical artifact (spec §4.11 step e).
func (o *Orchestrator) persist(ctx context.Context, spec workflow.Spec) error {
	data, err := workflow.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = o.mem.Store(ctx, memory.Artifact{
		Kind:        memory.KindWorkflow,
		Name:        spec.WorkflowID,
		Description: spec.Description,
		Content:     string(data),
		Status:      memory.StatusCanonical,
	})
	return err
}

// attemptAutoRepair implements spec §4.11 step (g): on persistent failure,
// search for a fix pattern matching the failing step's error and retry once
// with the patch applied to the prompt template of the failing step.
func (o *Orchestrator) attemptAutoRepair(ctx context.Context, spec workflow.Spec, inputs map[string]any, failed executor.Result) (executor.Result, error) {
	if failed.Err == nil {
		return executor.Result{}, ferrors.New(ferrors.CodeStepFailure, "no error to repair")
	}

	failingStepID := firstFailingStep(failed)
	if failingStepID == "" {
		return executor.Result{}, ferrors.New(ferrors.CodeStepFailure, "no failing step identified for repair")
	}

	pattern, found, err := o.reuse.TryFixPattern(ctx, failed.Err.Error(), failingStepID)
	if err != nil {
		return executor.Result{}, err
	}
	if !found {
		return executor.Result{}, ferrors.New(ferrors.CodeStepFailure, "no fix pattern available")
	}

	repaired := applyFixPattern(spec, failingStepID, pattern.Artifact)
	result := o.runWorkflow(ctx, repaired, inputs)
	if !result.Failed {
		return result, nil
	}
	return result, ferrors.New(ferrors.CodeStepFailure, "auto-repair attempt still failed")
}

func firstFailingStep(result executor.Result) string {
	for id, step := range result.Steps {
		if step.Err != nil {
			return id
		}
	}
	return ""
}

// applyFixPattern rewrites the named step's prompt template with the fix
// pattern's recorded corrected content, leaving every other step untouched.
func applyFixPattern(spec workflow.Spec, stepID string, fix memory.Artifact) workflow.Spec {
	fp, ok := fix.Metadata["fix_pattern"].(memory.FixPattern)
	if !ok || fp.FixedCode == "" {
		return spec
	}
	patched := spec
	patched.Steps = make([]workflow.Step, len(spec.Steps))
	copy(patched.Steps, spec.Steps)
	for i, s := range patched.Steps {
		if s.StepID == stepID {
			s.PromptTemplate = fp.FixedCode
			patched.Steps[i] = s
		}
	}
	return patched
}
