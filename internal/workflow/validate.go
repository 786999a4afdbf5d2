package workflow

import (
	"fmt"
	"strings"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// AllowlistChecker reports whether a package name+version is permitted,
// implemented by internal/allowlist.Allowlist.
type AllowlistChecker interface {
	Allowed(name, version string) bool
}

// Validate checks every invariant in spec §4.7's pre-execute list. allow
// may be nil, in which case pip_packages are not checked (used by callers
// that validate workflow structure before an allowlist is configured).
func Validate(spec Spec, allow AllowlistChecker) error {
	if err := validateUniqueStepIDs(spec); err != nil {
		return err
	}
	if err := validateUniqueOutputNames(spec); err != nil {
		return err
	}
	refs, err := BuildReferenceGraph(spec)
	if err != nil {
		return err
	}
	if err := validateInputMappingsResolve(spec, refs); err != nil {
		return err
	}
	if err := validateAcyclic(refs); err != nil {
		return err
	}
	if err := validateParallelGroupsIndependent(spec, refs); err != nil {
		return err
	}
	if err := validateInputsSatisfiable(spec); err != nil {
		return err
	}
	if allow != nil {
		if err := validatePipPackagesTrusted(spec, allow); err != nil {
			return err
		}
	}
	return nil
}

func validateUniqueStepIDs(spec Spec) error {
	seen := map[string]bool{}
	for _, s := range spec.Steps {
		if s.StepID == "" {
			return ferrors.New(ferrors.CodeValidationError, "step missing step_id")
		}
		if seen[s.StepID] {
			return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("duplicate step_id %q", s.StepID))
		}
		seen[s.StepID] = true
	}
	return nil
}

func validateUniqueOutputNames(spec Spec) error {
	seen := map[string]bool{}
	for _, s := range spec.Steps {
		if s.OutputName == "" {
			continue
		}
		if seen[s.OutputName] {
			return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("duplicate output_name %q", s.OutputName))
		}
		seen[s.OutputName] = true
	}
	return nil
}

// ReferenceGraph is the dependency DAG induced by explicit depends_on plus
// implicit references from input_mapping and prompt_template placeholders
// (spec §4.7).
type ReferenceGraph struct {
	// Edges[stepID] is the set of step_ids that stepID depends on.
	Edges map[string]map[string]bool
}

func stepOutputsByName(spec Spec) map[string]string {
	out := map[string]string{}
	for _, s := range spec.Steps {
		if s.OutputName != "" {
			out[s.OutputName] = s.StepID
		}
	}
	return out
}

// BuildReferenceGraph computes the dependency graph from explicit
// depends_on plus every `steps.<id>.*` reference found in input_mapping
// values and prompt_template placeholders.
func BuildReferenceGraph(spec Spec) (ReferenceGraph, error) {
	graph := ReferenceGraph{Edges: map[string]map[string]bool{}}
	outputOwner := stepOutputsByName(spec)

	for _, s := range spec.Steps {
		deps := map[string]bool{}
		for _, d := range s.DependsOn {
			deps[d] = true
		}
		for _, ref := range s.InputMapping {
			if stepID, ok := referencedStepID(ref, outputOwner); ok {
				deps[stepID] = true
			}
		}
		if s.PromptTemplate != "" {
			for _, ph := range extractPlaceholders(s.PromptTemplate) {
				if stepID, ok := referencedStepID(ph, outputOwner); ok {
					deps[stepID] = true
				}
			}
		}
		delete(deps, s.StepID)
		graph.Edges[s.StepID] = deps
	}
	return graph, nil
}

func extractPlaceholders(template string) []string {
	var out []string
	for {
		start := strings.IndexByte(template, '{')
		if start == -1 {
			break
		}
		end := strings.IndexByte(template[start:], '}')
		if end == -1 {
			break
		}
		out = append(out, template[start+1:start+end])
		template = template[start+end+1:]
	}
	return out
}

// referencedStepID resolves a reference string (e.g. "steps.B.outline") to
// the owning step_id. References of the form "inputs.X" resolve to no step.
func referencedStepID(ref string, outputOwner map[string]string) (string, bool) {
	if !strings.HasPrefix(ref, "steps.") {
		return "", false
	}
	rest := strings.TrimPrefix(ref, "steps.")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) == 0 {
		return "", false
	}
	// The reference addresses a step directly by step_id (steps.B.*) —
	// resolvable whether or not B declares a named output.
	_ = outputOwner
	return parts[0], true
}

func validateInputMappingsResolve(spec Spec, _ ReferenceGraph) error {
	stepIDs := map[string]bool{}
	for _, s := range spec.Steps {
		stepIDs[s.StepID] = true
	}
	for _, s := range spec.Steps {
		for varName, ref := range s.InputMapping {
			if strings.HasPrefix(ref, "inputs.") {
				name := strings.TrimPrefix(ref, "inputs.")
				if _, ok := spec.Inputs[name]; !ok {
					return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("step %q input_mapping %q references undeclared input %q", s.StepID, varName, name))
				}
				continue
			}
			if strings.HasPrefix(ref, "steps.") {
				stepID, _ := referencedStepID(ref, nil)
				if !stepIDs[stepID] {
					return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("step %q input_mapping %q references unknown step %q", s.StepID, varName, stepID))
				}
				continue
			}
			return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("step %q input_mapping %q has unrecognized reference %q", s.StepID, varName, ref))
		}
		for _, ph := range extractPlaceholders(s.PromptTemplate) {
			if !strings.HasPrefix(ph, "inputs.") {
				continue
			}
			if _, ok := spec.Inputs[strings.TrimPrefix(ph, "inputs.")]; !ok {
				return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("step %q prompt_template references undeclared input %q", s.StepID, ph))
			}
		}
	}
	return nil
}

func validateAcyclic(graph ReferenceGraph) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("dependency cycle detected at step %q", id))
		case done:
			return nil
		}
		state[id] = visiting
		for dep := range graph.Edges[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for id := range graph.Edges {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// dependsOnTransitively reports whether from can reach to via graph.Edges.
func dependsOnTransitively(graph ReferenceGraph, from, to string) bool {
	visited := map[string]bool{}
	var walk func(id string) bool
	walk = func(id string) bool {
		if visited[id] {
			return false
		}
		visited[id] = true
		for dep := range graph.Edges[id] {
			if dep == to || walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func validateParallelGroupsIndependent(spec Spec, graph ReferenceGraph) error {
	groups := map[int][]string{}
	for _, s := range spec.Steps {
		if s.ParallelGroup != nil {
			groups[*s.ParallelGroup] = append(groups[*s.ParallelGroup], s.StepID)
		}
	}
	for group, ids := range groups {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if dependsOnTransitively(graph, ids[i], ids[j]) || dependsOnTransitively(graph, ids[j], ids[i]) {
					return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("steps %q and %q share parallel_group %d but depend on each other", ids[i], ids[j], group))
				}
			}
		}
	}
	return nil
}

func validateInputsSatisfiable(spec Spec) error {
	for name, in := range spec.Inputs {
		if in.Required && in.Default == nil {
			// A required input with no default must be supplied by the
			// caller at execution time; this is satisfiable but the
			// executor enforces it is actually provided.
			_ = name
		}
	}
	return nil
}

func validatePipPackagesTrusted(spec Spec, allow AllowlistChecker) error {
	for _, pkg := range spec.Dependencies.PipPackages {
		if !allow.Allowed(pkg.Name, pkg.Version) {
			return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("package %q@%q is not in the trusted allowlist", pkg.Name, pkg.Version))
		}
	}
	return nil
}
