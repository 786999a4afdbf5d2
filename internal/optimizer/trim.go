package optimizer

import (
	"context"
	"time"

	"github.com/scottgal/flowforge/internal/memory"
)

// TrimPolicy parameterizes the distance-from-fittest trimming decision
// rules (spec §4.8).
type TrimPolicy struct {
	AlwaysKeepCanonical       bool
	PreserveLineageEndpoints  bool
	MinFitnessAbsolute        float64
	MaxDistanceFromFittest    float64
	MinSimilarityToFittest    float64
	PreserveHighPerfThreshold float64
	NeverUsedGracePeriodDays  int
	MinUsageCount             int
}

// DefaultTrimPolicy mirrors the spec's illustrative thresholds.
var DefaultTrimPolicy = TrimPolicy{
	AlwaysKeepCanonical:       true,
	PreserveLineageEndpoints:  true,
	MinFitnessAbsolute:        0.3,
	MaxDistanceFromFittest:    0.6,
	MinSimilarityToFittest:    0.4,
	PreserveHighPerfThreshold: 0.8,
	NeverUsedGracePeriodDays:  30,
	MinUsageCount:             1,
}

// TrimDecision is the outcome for one cluster member: an alternate, or the
// canonical itself when the policy always keeps it (rule 1).
type TrimDecision struct {
	ArtifactID string
	Keep       bool
	Rule       int
	Reason     string
}

// candidateMetrics bundles the per-artifact inputs to the trim rules.
type candidateMetrics struct {
	artifact            memory.Artifact
	fitness             float64
	similarityToFittest float64
	testCoverage        float64
}

// Trim evaluates every member of cluster (other than the canonical) against
// policy's decision rules, archiving those that should be pruned. Coverage
// is read from each artifact's Metadata["test_coverage"] (a float64); an
// artifact without it counts as 0 coverage.
func (o *Optimizer) Trim(ctx context.Context, cluster *Cluster, policy TrimPolicy) ([]TrimDecision, error) {
	canonical, err := o.mem.Get(ctx, cluster.CanonicalArtifactID)
	if err != nil {
		return nil, err
	}
	alternates, err := o.loadAlternates(ctx, cluster)
	if err != nil {
		return nil, err
	}

	decisions := make([]TrimDecision, 0, len(alternates)+1)
	if policy.AlwaysKeepCanonical {
		decisions = append(decisions, TrimDecision{ArtifactID: canonical.ArtifactID, Keep: true, Rule: 1, Reason: "canonical is always kept"})
	}

	for _, alt := range alternates {
		cm := candidateMetrics{
			artifact:            alt,
			fitness:             fitnessOf(alt),
			similarityToFittest: memory.CosineSimilarity(canonical.Embedding, alt.Embedding),
			testCoverage:        coverageOf(alt),
		}
		decision := evaluateTrimRules(cm, policy)
		decisions = append(decisions, decision)
		if !decision.Keep {
			if err := o.mem.Archive(ctx, alt.ArtifactID); err != nil {
				return decisions, err
			}
			cluster.removeAlternate(alt.ArtifactID)
		}
	}
	return decisions, nil
}

// evaluateTrimRules applies the 8 ordered decision rules top-to-bottom
// (spec §4.8), returning on the first that fires.
func evaluateTrimRules(cm candidateMetrics, policy TrimPolicy) TrimDecision {
	id := cm.artifact.ArtifactID
	distance := 1 - cm.similarityToFittest

	if cm.testCoverage >= 0.90 {
		return TrimDecision{ArtifactID: id, Keep: true, Rule: 2, Reason: "test coverage at or above 0.90"}
	}
	if policy.PreserveLineageEndpoints && len(cm.artifact.ChildrenIDs) == 0 {
		return TrimDecision{ArtifactID: id, Keep: true, Rule: 3, Reason: "leaf artifact, lineage endpoint preserved"}
	}
	if cm.fitness < policy.MinFitnessAbsolute && distance > policy.MaxDistanceFromFittest {
		return TrimDecision{ArtifactID: id, Keep: false, Rule: 4, Reason: "low fitness and far from fittest"}
	}
	if cm.similarityToFittest < policy.MinSimilarityToFittest && cm.fitness < policy.PreserveHighPerfThreshold {
		return TrimDecision{ArtifactID: id, Keep: false, Rule: 5, Reason: "dissimilar to fittest and not high-performing"}
	}
	if cm.artifact.UsageCount == 0 && daysSince(cm.artifact.CreatedAt) > policy.NeverUsedGracePeriodDays && cm.fitness < policy.PreserveHighPerfThreshold {
		return TrimDecision{ArtifactID: id, Keep: false, Rule: 6, Reason: "never used past grace period"}
	}
	if cm.fitness >= policy.MinFitnessAbsolute && cm.artifact.UsageCount >= policy.MinUsageCount {
		return TrimDecision{ArtifactID: id, Keep: true, Rule: 7, Reason: "adequate fitness and usage"}
	}
	return TrimDecision{ArtifactID: id, Keep: true, Rule: 8, Reason: "default keep"}
}

func coverageOf(a memory.Artifact) float64 {
	if v, ok := a.Metadata["test_coverage"].(float64); ok {
		return v
	}
	return 0
}

func daysSince(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(time.Since(t).Hours() / 24)
}
