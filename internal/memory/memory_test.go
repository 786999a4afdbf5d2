package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEmbedder produces a deterministic bag-of-words vector so cosine
// similarity behaves predictably in tests without a real embedding model.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) ModelID() string { return "fake-embed-v1" }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range tok {
			h = h*31 + int(r)
		}
		idx := ((h % f.dim) + f.dim) % f.dim
		vec[idx]++
	}
	return vec, nil
}

func newTestMemory() *Memory {
	return New(NewInMemoryStore(), NewInMemoryVectorIndex(), fakeEmbedder{dim: 64})
}

func TestStoreIsIdempotentOnIdenticalContent(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	a := Artifact{Kind: KindWorkflow, Name: "add-two-numbers", Description: "adds two numbers", Content: "step1"}
	id1, err := m.Store(ctx, a)
	require.NoError(t, err)

	a.ArtifactID = ""
	id2, err := m.Store(ctx, a)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	stored, err := m.Get(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "0.1.0", stored.Version)
}

func TestStoreBumpsVersionOnContentChange(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	a := Artifact{Kind: KindWorkflow, Name: "add-two-numbers", Content: "v1"}
	id1, err := m.Store(ctx, a)
	require.NoError(t, err)

	a.ArtifactID = ""
	a.Content = "v1 plus more content describing a richer implementation"
	id2, err := m.Store(ctx, a)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	old, err := m.Get(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, old.Status)
	require.Contains(t, old.ChildrenIDs, id2)

	next, err := m.Get(ctx, id2)
	require.NoError(t, err)
	require.Equal(t, "0.2.0", next.Version)
	require.Contains(t, next.ParentIDs, id1)
}

// TestReuseHit exercises scenario S1 from spec §8: a stored workflow with
// usage_count=5, quality_score=0.9 should be returned (and usage
// incremented) for a highly similar query.
func TestReuseHit(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	seed := Artifact{
		Kind:         KindWorkflow,
		Name:         "add-two-numbers",
		Description:  "Add two numbers together",
		Content:      "{\"steps\":[]}",
		UsageCount:   5,
		QualityScore: 0.9,
		LastUsed:     time.Now().Add(-time.Hour),
	}
	id, err := m.Store(ctx, seed)
	require.NoError(t, err)

	results, err := m.FindSimilar(ctx, "add 7 and 3", KindWorkflow, nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, id, results[0].Artifact.ArtifactID)

	require.NoError(t, m.IncrementUsage(ctx, id))
	updated, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 6, updated.UsageCount)
}

// TestFixPatternScopeVisibility exercises scenario S5 from spec §8.
func TestFixPatternScopeVisibility(t *testing.T) {
	cases := []struct {
		scope   Scope
		owner   string
		caller  string
		visible bool
	}{
		{ScopeTool, "alpha", "alpha", true},
		{ScopeTool, "alpha", "beta", false},
		{ScopeToolSubtools, "alpha", "alpha.sub", true},
		{ScopeToolSubtools, "alpha", "beta", false},
		{ScopeHierarchy, "alpha.sub", "alpha.other", true},
		{ScopeHierarchy, "alpha.sub", "beta", false},
		{ScopeGlobal, "alpha", "anything", true},
	}
	for _, c := range cases {
		require.Equal(t, c.visible, ScopeVisible(c.scope, c.owner, c.caller), "scope=%s owner=%s caller=%s", c.scope, c.owner, c.caller)
	}
}

func TestFindFixPatternsRespectsScope(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	mkPattern := func(name string, fp FixPattern) {
		_, err := m.Store(ctx, Artifact{
			Kind:        KindPattern,
			Name:        name,
			Description: fp.ErrorMessage,
			Content:     fp.ErrorMessage,
			Metadata:    map[string]any{"fix_pattern": fp},
		})
		require.NoError(t, err)
	}

	mkPattern("p1", FixPattern{ErrorMessage: "nil pointer dereference in parser", Scope: ScopeTool, ScopeOwnerID: "alpha"})
	mkPattern("p2", FixPattern{ErrorMessage: "nil pointer dereference in renderer", Scope: ScopeGlobal})

	fromBeta, err := m.FindFixPatterns(ctx, "nil pointer dereference", "beta", 10)
	require.NoError(t, err)
	for _, r := range fromBeta {
		fp, _ := fixPatternOf(r.Artifact)
		require.NotEqual(t, ScopeTool, fp.Scope, "tool-scoped pattern must not be visible to other tools")
	}

	fromAlpha, err := m.FindFixPatterns(ctx, "nil pointer dereference", "alpha", 10)
	require.NoError(t, err)
	require.Len(t, fromAlpha, 2)
}

func TestDegradedSearchFallsBackWithoutVectorIndex(t *testing.T) {
	ctx := context.Background()
	m := New(NewInMemoryStore(), nil, fakeEmbedder{dim: 64})

	_, err := m.Store(ctx, Artifact{Kind: KindTool, Name: "pdf-reader", Description: "reads pdf files and extracts text"})
	require.NoError(t, err)

	results, err := m.FindSimilar(ctx, "pdf files", KindTool, nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
