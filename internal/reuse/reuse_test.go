package reuse

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/memory"
)

// fakeEmbedder mirrors internal/memory's test fixture: a deterministic
// bag-of-words vector so cosine similarity behaves predictably.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) ModelID() string { return "fake-embed-v1" }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range word {
			h = h*31 + int(r)
		}
		idx := ((h % f.dim) + f.dim) % f.dim
		vec[idx]++
	}
	return vec, nil
}

func newTestMemory() *memory.Memory {
	return memory.New(memory.NewInMemoryStore(), memory.NewInMemoryVectorIndex(), fakeEmbedder{dim: 64})
}

func TestTryReuseHitsOnHighSimilarity(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	_, err := mem.Store(ctx, memory.Artifact{
		Kind:        memory.KindWorkflow,
		Name:        "summarize-pdf",
		Description: "summarize pdf document extract key points",
		Content:     "summarize pdf document extract key points",
	})
	require.NoError(t, err)

	layer := New(mem)
	decision, err := layer.TryReuse(ctx, "summarize pdf document extract key points", memory.KindWorkflow)
	require.NoError(t, err)
	require.True(t, decision.Reused)
	require.Equal(t, 1, decision.Artifact.UsageCount)
}

func TestTryReuseMissesOnLowSimilarity(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	_, err := mem.Store(ctx, memory.Artifact{
		Kind:        memory.KindWorkflow,
		Name:        "summarize-pdf",
		Description: "summarize pdf document extract key points",
		Content:     "summarize pdf document extract key points",
	})
	require.NoError(t, err)

	layer := New(mem, WithThreshold(0.85))
	decision, err := layer.TryReuse(ctx, "compile rust project with cargo build release flags", memory.KindWorkflow)
	require.NoError(t, err)
	require.False(t, decision.Reused)
}

func TestTryFixPatternReturnsScopedMatch(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()

	_, err := mem.Store(ctx, memory.Artifact{
		Kind:        memory.KindPattern,
		Name:        "nil-deref-fix",
		Description: "fix for nil pointer dereference",
		Content:     "nil pointer dereference",
		Metadata: map[string]any{"fix_pattern": memory.FixPattern{
			ErrorMessage: "nil pointer dereference",
			Scope:        memory.ScopeGlobal,
		}},
	})
	require.NoError(t, err)

	layer := New(mem)
	_, found, err := layer.TryFixPattern(ctx, "nil pointer dereference", "any-tool")
	require.NoError(t, err)
	require.True(t, found)
}
