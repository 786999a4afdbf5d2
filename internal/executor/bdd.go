package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/scottgal/flowforge/internal/workflow"
)

// ScenarioResult is one BDDScenario's outcome.
type ScenarioResult struct {
	Name   string
	Passed bool
	Reason string
}

// BehaviorReport is the behavioral-validation half of Result.metadata
// (spec §4.7: "Returns per-scenario pass/fail, annotated into metadata").
type BehaviorReport struct {
	Feature   string
	Scenarios []ScenarioResult
	Passed    bool
}

// EvaluateBehavior checks every scenario's `Then` assertions against the
// completed run's (inputs, outputs, metadata). `Given`/`When` lines are
// documentation only: by the time behavioral validation runs, the workflow
// has already executed, so there is nothing left to arrange or act on.
func EvaluateBehavior(spec workflow.BDDSpecification, inputs, outputs map[string]any, steps map[string]StepResult) BehaviorReport {
	lookup := buildAssertionLookup(inputs, outputs, steps)

	report := BehaviorReport{Feature: spec.Feature, Passed: true}
	for _, sc := range spec.Scenarios {
		result := ScenarioResult{Name: sc.Name, Passed: true}
		for _, assertion := range sc.Then {
			ok, reason := evaluateAssertion(assertion, lookup)
			if !ok {
				result.Passed = false
				result.Reason = reason
				break
			}
		}
		if !result.Passed {
			report.Passed = false
		}
		report.Scenarios = append(report.Scenarios, result)
	}
	return report
}

func buildAssertionLookup(inputs, outputs map[string]any, steps map[string]StepResult) map[string]any {
	lookup := map[string]any{}
	for k, v := range outputs {
		lookup[k] = v
		lookup["outputs."+k] = v
	}
	for k, v := range inputs {
		lookup["inputs."+k] = v
	}
	for stepID, r := range steps {
		lookup[fmt.Sprintf("metadata.steps.%s.duration_ms", stepID)] = r.Duration.Milliseconds()
		lookup[fmt.Sprintf("metadata.steps.%s.retries", stepID)] = r.Retries
		if r.Err == nil {
			for k, v := range r.Output {
				lookup[fmt.Sprintf("steps.%s.%s", stepID, k)] = v
			}
		}
	}
	return lookup
}

var (
	reAtLeast   = regexp.MustCompile(`^(.+?)\s+should be at least\s+(-?[\d.]+)$`)
	reLessThan  = regexp.MustCompile(`^(.+?)\s+should be less than\s+(-?[\d.]+)$`)
	reContain   = regexp.MustCompile(`^(.+?)\s+should contain\s+(.+)$`)
	reProduced  = regexp.MustCompile(`^(.+?)\s+should be produced$`)
	reEqualTo   = regexp.MustCompile(`^(.+?)\s+should (?:be|equal)\s+(.+)$`)
)

// evaluateAssertion interprets one string-templated Then line (spec §4.7).
func evaluateAssertion(assertion string, lookup map[string]any) (bool, string) {
	assertion = strings.TrimSpace(assertion)

	if m := reAtLeast.FindStringSubmatch(assertion); m != nil {
		return compareNumeric(lookup, m[1], m[2], func(actual, want float64) bool { return actual >= want })
	}
	if m := reLessThan.FindStringSubmatch(assertion); m != nil {
		return compareNumeric(lookup, m[1], m[2], func(actual, want float64) bool { return actual < want })
	}
	if m := reContain.FindStringSubmatch(assertion); m != nil {
		ref, needle := m[1], strings.Trim(m[2], `"'`)
		v, ok := lookup[strings.TrimSpace(ref)]
		if !ok {
			return false, "reference not found: " + ref
		}
		if strings.Contains(fmt.Sprintf("%v", v), needle) {
			return true, ""
		}
		return false, fmt.Sprintf("%q does not contain %q", v, needle)
	}
	if m := reProduced.FindStringSubmatch(assertion); m != nil {
		v, ok := lookup[strings.TrimSpace(m[1])]
		if ok && v != nil {
			return true, ""
		}
		return false, m[1] + " was not produced"
	}
	if m := reEqualTo.FindStringSubmatch(assertion); m != nil {
		ref, want := m[1], strings.Trim(m[2], `"'`)
		v, ok := lookup[strings.TrimSpace(ref)]
		if !ok {
			return false, "reference not found: " + ref
		}
		if fmt.Sprintf("%v", v) == want {
			return true, ""
		}
		return false, fmt.Sprintf("%v != %v", v, want)
	}

	return false, "unrecognized assertion pattern: " + assertion
}

func compareNumeric(lookup map[string]any, ref, wantStr string, cmp func(actual, want float64) bool) (bool, string) {
	v, ok := lookup[strings.TrimSpace(ref)]
	if !ok {
		return false, "reference not found: " + ref
	}
	actual, ok := toFloat(v)
	if !ok {
		return false, fmt.Sprintf("%v is not numeric", v)
	}
	want, err := strconv.ParseFloat(wantStr, 64)
	if err != nil {
		return false, "malformed numeric literal: " + wantStr
	}
	if cmp(actual, want) {
		return true, ""
	}
	return false, fmt.Sprintf("%v does not satisfy assertion against %v", actual, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
