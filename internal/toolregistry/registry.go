package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// Invoker is implemented by the kind-specific dispatchers a Registry wires
// together (language model calls, subprocess execution, workflow delegation,
// custom-code resolution, external protocol servers).
type Invoker interface {
	Invoke(ctx context.Context, tool Tool, input map[string]any) (map[string]any, error)
}

// Registry holds the unified tool catalog and dispatches invocations by
// kind (spec §4.5).
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	byName   map[string]string // name -> tool_id, for generalize/duplicate lookups
	invokers map[Kind]Invoker
	memory   *memory.Memory
	logger   telemetry.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Registry) { r.logger = l } }

// New constructs an empty Registry backed by mem for semantic indexing and
// reuse lookups.
func New(mem *memory.Memory, opts ...Option) *Registry {
	r := &Registry{
		tools:    map[string]Tool{},
		byName:   map[string]string{},
		invokers: map[Kind]Invoker{},
		memory:   mem,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterInvoker wires the dispatcher used for tools of the given kind.
func (r *Registry) RegisterInvoker(kind Kind, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[kind] = inv
}

// Register adds or updates a tool, computing its definition hash and
// bumping its version when the hash changes (spec §3 Tool invariant).
// Registration also indexes the tool into Artifact Memory as a `tool`
// artifact for semantic search (spec §4.5 Discovery (b)).
func (r *Registry) Register(ctx context.Context, t Tool) (Tool, error) {
	if t.Name == "" {
		return Tool{}, ferrors.New(ferrors.CodeUnknownToolKind, "tool name is required")
	}
	if !validKind(t.Kind) {
		return Tool{}, ferrors.New(ferrors.CodeUnknownToolKind, fmt.Sprintf("unknown tool kind %q", t.Kind))
	}

	descJSON, err := json.Marshal(t.Descriptor())
	if err != nil {
		return Tool{}, fmt.Errorf("toolregistry: marshal descriptor for %q: %w", t.Name, err)
	}
	hash := memory.DefinitionHash(memory.KindTool, t.Name, string(descJSON), t.Tags, map[string]any{
		"description": t.Description,
		"tool_kind":   string(t.Kind),
		"constraints": t.Constraints,
		"cost_tier":   t.CostTier,
	})

	r.mu.Lock()
	existingID, existed := r.byName[t.Name]
	var existing Tool
	if existed {
		existing = r.tools[existingID]
	}
	r.mu.Unlock()

	switch {
	case !existed:
		t.ToolID = uuid.NewString()
		t.DefinitionHash = hash
		t.Version = "0.1.0"
	case existing.DefinitionHash == hash:
		return existing, nil
	default:
		t.ToolID = existing.ToolID
		t.DefinitionHash = hash
		next, err := memory.BumpVersion(existing.Version, classifyToolChange(existing, t))
		if err != nil {
			return Tool{}, fmt.Errorf("toolregistry: bump version for %q: %w", t.Name, err)
		}
		t.Version = next
	}

	r.mu.Lock()
	r.tools[t.ToolID] = t
	r.byName[t.Name] = t.ToolID
	r.mu.Unlock()

	if r.memory != nil {
		if _, err := r.memory.Store(ctx, memory.Artifact{
			Kind:        memory.KindTool,
			Name:        t.Name,
			Description: t.Description,
			Content:     string(descJSON),
			Tags:        t.Tags,
			Metadata:    map[string]any{"tool_id": t.ToolID, "kind": string(t.Kind)},
		}); err != nil {
			r.logger.Warn(ctx, "toolregistry: failed to index tool in memory", "tool", t.Name, "error", err.Error())
		}
	}
	return t, nil
}

// classifyToolChange mirrors memory.ClassifyChange's semver heuristic,
// applied to a tool's kind-specific descriptor and constraints instead of
// an artifact's free-form content.
func classifyToolChange(old, next Tool) memory.ChangeKind {
	if old.Kind != next.Kind {
		return memory.ChangeMajor
	}
	if old.InputSchema != nil && next.InputSchema == nil {
		return memory.ChangeMajor
	}
	if len(next.Tags) > len(old.Tags) || next.Description != old.Description {
		return memory.ChangeMinor
	}
	return memory.ChangePatch
}

// Get returns the tool registered under toolID.
func (r *Registry) Get(toolID string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[toolID]
	if !ok {
		return Tool{}, ferrors.New(ferrors.CodeToolNotFound, toolID)
	}
	return t, nil
}

// GetByName resolves a tool by its registered name.
func (r *Registry) GetByName(name string) (Tool, error) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Tool{}, ferrors.New(ferrors.CodeToolNotFound, name)
	}
	return r.Get(id)
}

// List returns every currently registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// BestToolFor implements `best_tool_for` (spec §4.5): the top-ranked tool
// artifact whose description+tags embed closest to taskDescription, falling
// back to fallbackToolID when no tool clears minSimilarity.
func (r *Registry) BestToolFor(ctx context.Context, taskDescription string, minSimilarity float64, fallbackToolID string) (Tool, error) {
	if r.memory == nil {
		return r.Get(fallbackToolID)
	}
	results, err := r.memory.FindSimilar(ctx, taskDescription, memory.KindTool, nil, 1)
	if err != nil || len(results) == 0 || results[0].Similarity < minSimilarity {
		return r.Get(fallbackToolID)
	}
	toolID, _ := results[0].Artifact.Metadata["tool_id"].(string)
	if toolID == "" {
		return r.Get(fallbackToolID)
	}
	return r.Get(toolID)
}

// FindDuplicate implements the generalize→search half of duplicate
// avoidance (spec §4.5): given a generic {name, description} pair, it
// returns an existing tool whose description is similar enough to be
// considered the same capability.
func (r *Registry) FindDuplicate(ctx context.Context, name, description string, threshold float64) (Tool, bool, error) {
	if r.memory == nil {
		return Tool{}, false, nil
	}
	results, err := r.memory.FindSimilar(ctx, name+" "+description, memory.KindTool, nil, 1)
	if err != nil {
		return Tool{}, false, err
	}
	if len(results) == 0 || results[0].Similarity < threshold {
		return Tool{}, false, nil
	}
	toolID, _ := results[0].Artifact.Metadata["tool_id"].(string)
	if toolID == "" {
		return Tool{}, false, nil
	}
	t, err := r.Get(toolID)
	if err != nil {
		return Tool{}, false, nil
	}
	if err := r.memory.IncrementUsage(ctx, results[0].Artifact.ArtifactID); err != nil {
		r.logger.Warn(ctx, "toolregistry: failed to record duplicate reuse", "tool", t.Name, "error", err.Error())
	}
	return t, true, nil
}

// Invoke dispatches to the Invoker registered for tool.Kind (spec §4.5
// Invocation dispatch). Input/output are validated against the tool's JSON
// schemas when present.
func (r *Registry) Invoke(ctx context.Context, toolID string, input map[string]any) (map[string]any, error) {
	t, err := r.Get(toolID)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(t.InputSchema, input); err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvocationFailed, "input schema validation failed", err)
	}

	r.mu.RLock()
	inv, ok := r.invokers[t.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.New(ferrors.CodeUnknownToolKind, string(t.Kind))
	}

	output, err := inv.Invoke(ctx, t, input)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(t.OutputSchema, output); err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvocationFailed, "output schema validation failed", err)
	}
	return output, nil
}

func validateAgainstSchema(schema map[string]any, doc map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("toolregistry: marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return fmt.Errorf("toolregistry: decode schema: %w", err)
	}
	const resourceName = "schema.json"
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		return fmt.Errorf("toolregistry: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("toolregistry: compile schema: %w", err)
	}
	docRaw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("toolregistry: marshal document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(docRaw, &instance); err != nil {
		return fmt.Errorf("toolregistry: decode document: %w", err)
	}
	return compiled.Validate(instance)
}

func validKind(k Kind) bool {
	switch k {
	case KindLanguageModel, KindExecutable, KindWorkflow, KindCustomCode, KindExternalProtocolServer, KindAPISpec:
		return true
	default:
		return false
	}
}
