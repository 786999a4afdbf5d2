// Package executor implements the Workflow Executor (spec §4.7): it runs a
// validated workflow.Spec against an inputs map with dependency ordering,
// bounded parallel-group concurrency, per-step timeout and retry, and
// optional behavioral validation.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/scottgal/flowforge/internal/allowlist"
	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/interceptor"
	"github.com/scottgal/flowforge/internal/telemetry"
	"github.com/scottgal/flowforge/internal/toolregistry"
	"github.com/scottgal/flowforge/internal/workflow"
)

// ToolRegistry is the subset of *toolregistry.Registry the executor drives
// steps through. Declared as an interface so tests can substitute a fake.
type ToolRegistry interface {
	GetByName(name string) (toolregistry.Tool, error)
	Invoke(ctx context.Context, toolID string, input map[string]any) (map[string]any, error)
}

// SpecResolver resolves a workflow_id to its stored Spec, used by RunByID
// to satisfy toolregistry.WorkflowRunner (sub-workflow delegation, spec
// §4.5 "workflow" invocation kind).
type SpecResolver interface {
	ResolveWorkflow(ctx context.Context, workflowID string) (workflow.Spec, error)
}

// StepResult captures one step's outcome for the execution metadata.
type StepResult struct {
	StepID     string
	OutputName string
	Output     map[string]any
	Err        error
	Duration   time.Duration
	Retries    int
}

// Result is what Run/RunByID returns: computed outputs plus metadata (spec
// §4.7: "return {outputs, metadata}").
type Result struct {
	Outputs  map[string]any
	Steps    map[string]StepResult
	Behavior *BehaviorReport
	Failed   bool
	Err      error
}

// Options configures an Executor.
type Options struct {
	MaxParallelPerGroup int
	DefaultStepTimeout  time.Duration
	StrictBehavioral    bool
}

// Executor runs workflow.Spec values (spec §4.7).
type Executor struct {
	registry  ToolRegistry
	chain     *interceptor.Chain
	allow     *allowlist.Allowlist
	resolver  SpecResolver
	logger    telemetry.Logger
	opts      Options
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithChain attaches the interceptor chain every step invocation runs
// through (spec §4.7: "invoke through Tool Registry (hence Interceptor
// Chain)").
func WithChain(c *interceptor.Chain) Option { return func(e *Executor) { e.chain = c } }

// WithAllowlist attaches the trusted package allowlist consulted during
// pre-execute validation (spec §4.7 (vi)).
func WithAllowlist(a *allowlist.Allowlist) Option { return func(e *Executor) { e.allow = a } }

// WithSpecResolver attaches the lookup used for sub-workflow delegation.
func WithSpecResolver(r SpecResolver) Option { return func(e *Executor) { e.resolver = r } }

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithOptions overrides the default Options.
func WithOptions(o Options) Option { return func(e *Executor) { e.opts = o } }

// New constructs an Executor dispatching steps through registry.
func New(registry ToolRegistry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		chain:    interceptor.NewChain(),
		logger:   telemetry.NewNoopLogger(),
		opts: Options{
			MaxParallelPerGroup: 4,
			DefaultStepTimeout:  60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.opts.MaxParallelPerGroup <= 0 {
		e.opts.MaxParallelPerGroup = 4
	}
	return e
}

// RunByID resolves workflowID through the configured SpecResolver and runs
// it, satisfying toolregistry.WorkflowRunner for sub-workflow delegation.
func (e *Executor) RunByID(ctx context.Context, workflowID string, inputs map[string]any) (map[string]any, error) {
	if e.resolver == nil {
		return nil, ferrors.New(ferrors.CodeStepFailure, "executor has no spec resolver configured for sub-workflow delegation")
	}
	spec, err := e.resolver.ResolveWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	result := e.Run(ctx, spec, inputs)
	if result.Failed {
		if result.Err != nil {
			return nil, result.Err
		}
		return nil, ferrors.New(ferrors.CodeStepFailure, "sub-workflow "+workflowID+" failed")
	}
	return result.Outputs, nil
}

// Run executes spec against inputs (spec §4.7). spec is expected to have
// already passed workflow.Validate; Run re-validates defensively since a
// caller-supplied spec may not have gone through that path.
func (e *Executor) Run(ctx context.Context, spec workflow.Spec, inputs map[string]any) Result {
	// e.allow is a concrete *allowlist.Allowlist; passed directly it would
	// box a non-nil interface around a nil pointer, so Validate's "allow !=
	// nil" check would never short-circuit. Convert explicitly.
	var allow workflow.AllowlistChecker
	if e.allow != nil {
		allow = e.allow
	}
	if err := workflow.Validate(spec, allow); err != nil {
		return Result{Failed: true, Err: err}
	}
	for name, in := range spec.Inputs {
		if _, ok := inputs[name]; !ok {
			if in.Default != nil {
				inputs[name] = in.Default
			} else if in.Required {
				return Result{Failed: true, Err: ferrors.New(ferrors.CodeValidationError, "missing required input "+name)}
			}
		}
	}

	graph, err := workflow.BuildReferenceGraph(spec)
	if err != nil {
		return Result{Failed: true, Err: err}
	}

	run := &execution{
		exec:    e,
		spec:    spec,
		inputs:  inputs,
		graph:   graph,
		results: map[string]StepResult{},
	}
	return run.run(ctx)
}

// execution holds the mutable state of one Run invocation.
type execution struct {
	exec   *Executor
	spec   workflow.Spec
	inputs map[string]any
	graph  workflow.ReferenceGraph

	mu      sync.Mutex
	results map[string]StepResult
	failed  bool
	failErr error
}

func (ex *execution) run(ctx context.Context) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	byID := map[string]workflow.Step{}
	for _, s := range ex.spec.Steps {
		byID[s.StepID] = s
	}

	remaining := map[string]bool{}
	for id := range ex.graph.Edges {
		remaining[id] = true
	}

	groupSems := map[int]*semaphore.Weighted{}
	semFor := func(group *int) *semaphore.Weighted {
		if group == nil {
			return nil
		}
		if s, ok := groupSems[*group]; ok {
			return s
		}
		s := semaphore.NewWeighted(int64(ex.exec.opts.MaxParallelPerGroup))
		groupSems[*group] = s
		return s
	}

	for len(remaining) > 0 {
		ready := ex.readySteps(byID, remaining)
		if len(ready) == 0 {
			// Dependencies outstanding but none ready: either a step
			// already failed (handled below) or workflow.Validate missed
			// a cycle, which should not happen for a validated spec.
			ex.mu.Lock()
			failed := ex.failed
			ex.mu.Unlock()
			if failed {
				break
			}
			return ex.finish(ferrors.New(ferrors.CodeStepFailure, "no ready steps but steps remain; dependency graph is malformed"))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, stepID := range ready {
			stepID := stepID
			step := byID[stepID]
			sem := semFor(step.ParallelGroup)
			g.Go(func() error {
				if sem != nil {
					if err := sem.Acquire(gctx, 1); err != nil {
						return err
					}
					defer sem.Release(1)
				}
				return ex.runStep(gctx, step)
			})
		}
		if err := g.Wait(); err != nil {
			ex.mu.Lock()
			ex.failed = true
			if ex.failErr == nil {
				ex.failErr = err
			}
			ex.mu.Unlock()
			cancel()
			break
		}

		for _, id := range ready {
			delete(remaining, id)
		}
	}

	ex.mu.Lock()
	failed := ex.failed
	failErr := ex.failErr
	ex.mu.Unlock()
	if failed {
		return ex.finish(failErr)
	}
	return ex.finish(nil)
}

// readySteps returns remaining step_ids whose dependencies have all
// completed successfully.
func (ex *execution) readySteps(byID map[string]workflow.Step, remaining map[string]bool) []string {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var ready []string
	for id := range remaining {
		deps := ex.graph.Edges[id]
		allDone := true
		for dep := range deps {
			r, ok := ex.results[dep]
			if !ok || r.Err != nil {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, id)
		}
	}
	return ready
}

func (ex *execution) finish(runErr error) Result {
	outputs := map[string]any{}
	for name, spec := range ex.spec.Outputs {
		val, ok := ex.resolveReference(spec.SourceReference)
		if ok {
			outputs[name] = val
		}
	}

	result := Result{
		Outputs: outputs,
		Steps:   ex.results,
		Failed:  runErr != nil,
		Err:     runErr,
	}

	if ex.spec.BDDSpecification != nil {
		report := EvaluateBehavior(*ex.spec.BDDSpecification, ex.inputs, outputs, ex.results)
		result.Behavior = &report
		if ex.exec.opts.StrictBehavioral && !report.Passed && !result.Failed {
			result.Failed = true
			result.Err = ferrors.New(ferrors.CodeBehavioralValidationFailure, "one or more behavioral scenarios failed")
		}
	}
	return result
}

func (ex *execution) resolveReference(ref string) (any, bool) {
	return resolveReference(ref, ex.inputs, ex.snapshotResults())
}

// snapshotResults returns a shallow copy of the results map safe to read
// without holding ex.mu, taken while concurrently running steps may still
// be writing their own entries.
func (ex *execution) snapshotResults() map[string]StepResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	snap := make(map[string]StepResult, len(ex.results))
	for k, v := range ex.results {
		snap[k] = v
	}
	return snap
}

// resolveReference resolves `inputs.X` or `steps.Y.Z` against the current
// inputs and step results.
func resolveReference(ref string, inputs map[string]any, results map[string]StepResult) (any, bool) {
	switch {
	case hasPrefix(ref, "inputs."):
		v, ok := inputs[ref[len("inputs."):]]
		return v, ok
	case hasPrefix(ref, "steps."):
		rest := ref[len("steps."):]
		stepID, field := splitOnce(rest, '.')
		r, ok := results[stepID]
		if !ok || r.Err != nil {
			return nil, false
		}
		if field == "" {
			return r.Output, true
		}
		v, ok := r.Output[field]
		return v, ok
	default:
		return nil, false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func splitOnce(s string, sep byte) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func (ex *execution) runStep(ctx context.Context, step workflow.Step) error {
	start := time.Now()
	args := ex.buildStepArgs(step)

	timeout := ex.exec.opts.DefaultStepTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}

	maxAttempts := 1
	if step.RetryOnFailure && step.MaxRetries > 0 {
		maxAttempts = step.MaxRetries + 1
	}

	var lastErr error
	var output map[string]any
	retries := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			retries++
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			case <-time.After(backoff):
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		output, lastErr = ex.invokeStep(stepCtx, step, args)
		cancel()
		if lastErr == nil {
			break
		}
		if stepCtx.Err() == context.DeadlineExceeded {
			lastErr = ferrors.Wrap(ferrors.CodeStepFailure, fmt.Sprintf("step %q timed out after %s", step.StepID, timeout), lastErr)
		}
		if !step.RetryOnFailure {
			break
		}
	}

	ex.mu.Lock()
	ex.results[step.StepID] = StepResult{
		StepID:     step.StepID,
		OutputName: step.OutputName,
		Output:     output,
		Err:        lastErr,
		Duration:   time.Since(start),
		Retries:    retries,
	}
	ex.mu.Unlock()

	return lastErr
}

// buildStepArgs resolves input_mapping and renders prompt_template (spec
// §4.7: "resolve input_mapping to concrete values; render prompt_template").
func (ex *execution) buildStepArgs(step workflow.Step) map[string]any {
	args := map[string]any{}
	for varName, ref := range step.InputMapping {
		if v, ok := ex.resolveReference(ref); ok {
			args[varName] = v
		}
	}
	if step.PromptTemplate != "" {
		args["prompt"] = toolregistry.RenderTemplate(step.PromptTemplate, templateValues(ex.inputs, ex.snapshotResults()))
	}
	return args
}

// templateValues flattens inputs.X and steps.Y.Z references into the flat
// dotted-key map toolregistry.RenderTemplate expects.
func templateValues(inputs map[string]any, results map[string]StepResult) map[string]any {
	flat := map[string]any{}
	for k, v := range inputs {
		flat["inputs."+k] = v
	}
	for stepID, r := range results {
		if r.Err != nil {
			continue
		}
		for k, v := range r.Output {
			flat["steps."+stepID+"."+k] = v
		}
	}
	return flat
}

func (ex *execution) invokeStep(ctx context.Context, step workflow.Step, args map[string]any) (map[string]any, error) {
	cc := interceptor.CallContext{
		ToolName:   step.ToolRef,
		Args:       args,
		WorkflowID: ex.spec.WorkflowID,
		StepID:     step.StepID,
	}

	return ex.exec.chain.Run(ctx, cc, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		switch step.Kind {
		case workflow.StepSubWorkflow:
			if ex.exec.resolver == nil {
				return nil, ferrors.New(ferrors.CodeStepFailure, "no spec resolver configured for sub_workflow step "+step.StepID)
			}
			return ex.exec.RunByID(ctx, step.ToolRef, args)
		default:
			tool, err := ex.exec.registry.GetByName(step.ToolRef)
			if err != nil {
				return nil, err
			}
			return ex.exec.registry.Invoke(ctx, tool.ToolID, args)
		}
	})
}
