package optimizer

import (
	"context"
	"fmt"

	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/memory"
)

// Strategy selects how a candidate is synthesized from a canonical artifact
// and its alternates' deltas (spec §4.8 step 3).
type Strategy string

const (
	StrategyBestOfBreed Strategy = "best_of_breed"
	StrategyIncremental Strategy = "incremental"
	StrategyRadical     Strategy = "radical"
	StrategyHybrid      Strategy = "hybrid"
)

// Generator synthesizes candidate content from a prompt, typically backed
// by the Backend Router at the `generator` role.
type Generator func(ctx context.Context, prompt string) (string, error)

// resolveHybrid picks the concrete strategy for iteration N of a hybrid run,
// cycling through the three underlying strategies.
func resolveHybrid(iteration int) Strategy {
	switch iteration % 3 {
	case 0:
		return StrategyBestOfBreed
	case 1:
		return StrategyIncremental
	default:
		return StrategyRadical
	}
}

// GenerateCandidate synthesizes a new artifact body from canonical and its
// deltas, under strategy, via gen.
func GenerateCandidate(ctx context.Context, gen Generator, strategy Strategy, canonical memory.Artifact, deltas []Delta) (memory.Artifact, error) {
	if strategy == StrategyHybrid {
		return memory.Artifact{}, ferrors.New(ferrors.CodeValidationError, "hybrid strategy must be resolved to a concrete strategy before generation")
	}

	prompt := buildPrompt(strategy, canonical, deltas)
	content, err := gen(ctx, prompt)
	if err != nil {
		return memory.Artifact{}, ferrors.Wrap(ferrors.CodeInvocationFailed, "candidate generation failed", err)
	}

	candidate := canonical.Clone()
	candidate.ArtifactID = ""
	candidate.Content = content
	candidate.Status = memory.StatusCandidate
	candidate.ParentIDs = nil
	candidate.ChildrenIDs = nil
	candidate.UsageCount = 0
	return candidate, nil
}

func buildPrompt(strategy Strategy, canonical memory.Artifact, deltas []Delta) string {
	switch strategy {
	case StrategyBestOfBreed:
		return fmt.Sprintf("Merge the strongest features of these alternates into canonical artifact %q, keeping its declared interface.\n\ncanonical:\n%s\n\ndeltas:\n%s",
			canonical.Name, canonical.Content, renderDeltas(deltas))
	case StrategyIncremental:
		return fmt.Sprintf("Apply a single small, low-risk improvement from the following delta to canonical artifact %q.\n\ncanonical:\n%s\n\ndelta:\n%s",
			canonical.Name, canonical.Content, renderDeltas(deltas[:minInt(1, len(deltas))]))
	case StrategyRadical:
		return fmt.Sprintf("Preserve the declared interface of %q but replace its implementation entirely, informed by these alternates.\n\ncanonical:\n%s\n\ndeltas:\n%s",
			canonical.Name, canonical.Content, renderDeltas(deltas))
	default:
		return canonical.Content
	}
}

func renderDeltas(deltas []Delta) string {
	out := ""
	for _, d := range deltas {
		out += d.Description + "\n" + d.TextDiff + "\n"
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
