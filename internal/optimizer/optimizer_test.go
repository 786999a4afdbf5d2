package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/memory"
)

type fakeEmbedder struct{}

func (fakeEmbedder) ModelID() string { return "fake-embed-v1" }
func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func newTestMemory() *memory.Memory {
	return memory.New(memory.NewInMemoryStore(), memory.NewInMemoryVectorIndex(), fakeEmbedder{})
}

// fakeValidator returns a fixed fitness-worthy Metrics value regardless of
// candidate content, parameterized by test cases via the fitness field.
type fakeValidator struct {
	metrics Metrics
	err     error
}

func (f fakeValidator) Validate(context.Context, memory.Artifact) (Metrics, error) {
	return f.metrics, f.err
}

func echoGenerator(content string) Generator {
	return func(context.Context, string) (string, error) { return content, nil }
}

func TestIteratePromotesWhenCandidateImproves(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	canonicalID, err := mem.Store(ctx, memory.Artifact{
		Kind:    memory.KindFunction,
		Name:    "parse-csv",
		Content: "def parse(row): return row.split(',')",
		OptimizationWeights: []memory.OptimizationWeight{
			{Tool: "parse-csv", Fitness: 0.4, LastUpdated: time.Now()},
		},
	})
	require.NoError(t, err)

	altID, err := mem.Store(ctx, memory.Artifact{
		Kind:    memory.KindFunction,
		Name:    "parse-csv-alt",
		Content: "def parse(row): return row.strip().split(',')",
		OptimizationWeights: []memory.OptimizationWeight{
			{Tool: "parse-csv-alt", Fitness: 0.6, LastUpdated: time.Now()},
		},
	})
	require.NoError(t, err)

	cluster := &Cluster{
		ClusterID:            "cluster-1",
		NodeType:             memory.KindFunction,
		CanonicalArtifactID:  canonicalID,
		AlternateArtifactIDs: []string{altID},
	}

	validator := fakeValidator{metrics: Metrics{SuccessRate: 1, Coverage: 1, LatencyMS: 100, MemoryMB: 10, CPUPercent: 5}}
	gen := echoGenerator("def parse(row): return row.strip().split(',')  # improved")

	opt := New(mem, validator, gen, Options{MaxIterations: 1, FitnessImprovementThreshold: 0.01})
	results, err := opt.Iterate(ctx, cluster, StrategyIncremental)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Promoted)
	require.NotEmpty(t, results[0].NewCanonicalID)
	require.Equal(t, results[0].NewCanonicalID, cluster.CanonicalArtifactID)

	archivedCanonical, err := mem.Get(ctx, canonicalID)
	require.NoError(t, err)
	require.Equal(t, memory.StatusArchived, archivedCanonical.Status)
}

func TestIterateStopsWhenNoImprovement(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	canonicalID, err := mem.Store(ctx, memory.Artifact{
		Kind:    memory.KindFunction,
		Name:    "stable-fn",
		Content: "def f(): return 1",
		OptimizationWeights: []memory.OptimizationWeight{
			{Tool: "stable-fn", Fitness: 0.95, LastUpdated: time.Now()},
		},
	})
	require.NoError(t, err)

	cluster := &Cluster{ClusterID: "cluster-2", NodeType: memory.KindFunction, CanonicalArtifactID: canonicalID}

	validator := fakeValidator{metrics: Metrics{SuccessRate: 0.5, Coverage: 0.5, LatencyMS: 20000, MemoryMB: 1900, CPUPercent: 95}}
	gen := echoGenerator("def f(): return 1  # no real improvement")

	opt := New(mem, validator, gen, Options{MaxIterations: 3})
	results, err := opt.Iterate(ctx, cluster, StrategyRadical)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Promoted)
	require.Equal(t, canonicalID, cluster.CanonicalArtifactID)
}

func TestTrimKeepsHighCoverageArtifact(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	canonicalID, err := mem.Store(ctx, memory.Artifact{Kind: memory.KindTool, Name: "canon", Content: "canon body", Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	highCoverageID, err := mem.Store(ctx, memory.Artifact{
		Kind: memory.KindTool, Name: "well-tested", Content: "alt body",
		Embedding: []float32{0, 1, 0, 0},
		Metadata:  map[string]any{"test_coverage": 0.95},
	})
	require.NoError(t, err)

	cluster := &Cluster{ClusterID: "cluster-3", CanonicalArtifactID: canonicalID, AlternateArtifactIDs: []string{highCoverageID}}
	opt := New(mem, fakeValidator{}, echoGenerator(""), Options{})

	decisions, err := opt.Trim(ctx, cluster, DefaultTrimPolicy)
	require.NoError(t, err)

	var found bool
	for _, d := range decisions {
		if d.ArtifactID == highCoverageID {
			found = true
			require.True(t, d.Keep)
			require.Equal(t, 2, d.Rule)
		}
	}
	require.True(t, found)
	require.Contains(t, cluster.AlternateArtifactIDs, highCoverageID)
}

func TestTrimPrunesLowFitnessDistantArtifact(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	canonicalID, err := mem.Store(ctx, memory.Artifact{Kind: memory.KindTool, Name: "canon", Content: "canon body", Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	staleID, err := mem.Store(ctx, memory.Artifact{
		Kind: memory.KindTool, Name: "stale", Content: "stale body",
		Embedding:   []float32{0, 0, 1, 0},
		ChildrenIDs: nil,
		CreatedAt:   time.Now(),
		UsageCount:  0,
	})
	require.NoError(t, err)

	cluster := &Cluster{ClusterID: "cluster-4", CanonicalArtifactID: canonicalID, AlternateArtifactIDs: []string{staleID}}
	opt := New(mem, fakeValidator{}, echoGenerator(""), Options{})

	policy := DefaultTrimPolicy
	policy.PreserveLineageEndpoints = false
	decisions, err := opt.Trim(ctx, cluster, policy)
	require.NoError(t, err)

	require.Len(t, decisions, 2) // canonical (always-keep) + the stale alternate
	var staleDecision TrimDecision
	for _, d := range decisions {
		if d.ArtifactID == staleID {
			staleDecision = d
		}
	}
	require.False(t, staleDecision.Keep)
	require.Equal(t, 4, staleDecision.Rule)

	archived, err := mem.Get(ctx, staleID)
	require.NoError(t, err)
	require.Equal(t, memory.StatusArchived, archived.Status)
	require.NotContains(t, cluster.AlternateArtifactIDs, staleID)
}

func TestScoreClampsAndWeighsDimensions(t *testing.T) {
	perfect := Score(DefaultWeights, DefaultNorms, Metrics{SuccessRate: 1, Coverage: 1, LatencyMS: 0, MemoryMB: 0, CPUPercent: 0})
	require.InDelta(t, 1.0, perfect, 0.0001)

	worst := Score(DefaultWeights, DefaultNorms, Metrics{SuccessRate: 0, Coverage: 0, LatencyMS: DefaultNorms.MaxLatencyMS * 2, MemoryMB: DefaultNorms.MaxMemoryMB * 2, CPUPercent: DefaultNorms.MaxCPUPercent * 2})
	require.InDelta(t, 0.0, worst, 0.0001)
}
