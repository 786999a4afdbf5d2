// Package reuse implements the Reuse Layer (spec §4.10): a thin
// similarity-threshold facade over Artifact Memory that lets the
// Orchestrator decide between retrieval and generation before it spends a
// model call.
package reuse

import (
	"context"

	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// DefaultThreshold is the minimum similarity at which an existing artifact
// is reused instead of regenerated (spec §4.10 default 0.85).
const DefaultThreshold = 0.85

// Decision is the outcome of a reuse check.
type Decision struct {
	Reused   bool
	Artifact memory.Artifact
	Score    memory.Scored
}

// Layer wraps a Memory with reuse-threshold policy.
type Layer struct {
	mem       *memory.Memory
	threshold float64
	logger    telemetry.Logger
}

// Option configures a Layer at construction.
type Option func(*Layer)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option { return func(l *Layer) { l.threshold = t } }

// WithLogger attaches a structured logger.
func WithLogger(log telemetry.Logger) Option { return func(l *Layer) { l.logger = log } }

// New constructs a Layer over mem.
func New(mem *memory.Memory, opts ...Option) *Layer {
	l := &Layer{mem: mem, threshold: DefaultThreshold, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryReuse implements spec §4.10's primary check: find_similar over the
// given kind, and if the top hit clears the threshold, increment its usage
// and return it as a reuse hit. The decision (hit or miss, with score) is
// always logged.
func (l *Layer) TryReuse(ctx context.Context, requestText string, kind memory.Kind) (Decision, error) {
	results, err := l.mem.FindSimilar(ctx, requestText, kind, nil, 1)
	if err != nil {
		return Decision{}, err
	}
	if len(results) == 0 || results[0].Similarity < l.threshold {
		sim := 0.0
		if len(results) > 0 {
			sim = results[0].Similarity
		}
		l.logger.Info(ctx, "reuse layer miss", "kind", string(kind), "top_similarity", sim, "threshold", l.threshold)
		return Decision{Reused: false}, nil
	}

	top := results[0]
	if err := l.mem.IncrementUsage(ctx, top.Artifact.ArtifactID); err != nil {
		l.logger.Warn(ctx, "reuse layer: failed to record usage", "artifact_id", top.Artifact.ArtifactID, "error", err.Error())
	} else if updated, getErr := l.mem.Get(ctx, top.Artifact.ArtifactID); getErr == nil {
		top.Artifact = updated
	}
	l.logger.Info(ctx, "reuse layer hit", "kind", string(kind), "artifact_id", top.Artifact.ArtifactID, "similarity", top.Similarity)
	return Decision{Reused: true, Artifact: top.Artifact, Score: top}, nil
}

// TryFixPattern implements spec §4.10's secondary check: on a runtime
// error, search for a similar {error_message, broken_code} pair within the
// caller's scope chain and return the top-ranked fix.
func (l *Layer) TryFixPattern(ctx context.Context, errorMessage, callerToolID string) (memory.Scored, bool, error) {
	results, err := l.mem.FindFixPatterns(ctx, errorMessage, callerToolID, 1)
	if err != nil {
		return memory.Scored{}, false, err
	}
	if len(results) == 0 {
		return memory.Scored{}, false, nil
	}
	if err := l.mem.IncrementUsage(ctx, results[0].Artifact.ArtifactID); err != nil {
		l.logger.Warn(ctx, "reuse layer: failed to record fix pattern usage", "artifact_id", results[0].Artifact.ArtifactID, "error", err.Error())
	}
	return results[0], true, nil
}
