package toolregistry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/memory"
)

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) ModelID() string { return "fake" }

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

func newTestRegistry() *Registry {
	mem := memory.New(memory.NewInMemoryStore(), memory.NewInMemoryVectorIndex(), fakeEmbedder{dim: 64})
	return New(mem)
}

func TestRegisterAssignsVersionAndHash(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	t1, err := r.Register(ctx, Tool{
		Name:        "read-pdf",
		Kind:        KindExecutable,
		Description: "reads a pdf file and extracts text",
		Executable:  &ExecutableInvocation{Command: "pdftotext"},
	})
	require.NoError(t, err)
	require.Equal(t, "0.1.0", t1.Version)
	require.NotEmpty(t, t1.DefinitionHash)

	t2, err := r.Register(ctx, Tool{
		Name:        "read-pdf",
		Kind:        KindExecutable,
		Description: "reads a pdf file and extracts text, now with OCR fallback",
		Executable:  &ExecutableInvocation{Command: "pdftotext"},
	})
	require.NoError(t, err)
	require.Equal(t, t1.ToolID, t2.ToolID)
	require.Equal(t, "0.2.0", t2.Version)
}

func TestRegisterIsIdempotentOnIdenticalDefinition(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	tool := Tool{Name: "echo", Kind: KindExecutable, Description: "echoes input", Executable: &ExecutableInvocation{Command: "cat"}}

	t1, err := r.Register(ctx, tool)
	require.NoError(t, err)
	t2, err := r.Register(ctx, tool)
	require.NoError(t, err)
	require.Equal(t, t1.Version, t2.Version)
	require.Equal(t, t1.DefinitionHash, t2.DefinitionHash)
}

type recordingInvoker struct {
	lastInput map[string]any
	output    map[string]any
}

func (r *recordingInvoker) Invoke(_ context.Context, _ Tool, input map[string]any) (map[string]any, error) {
	r.lastInput = input
	return r.output, nil
}

func TestInvokeDispatchesByKind(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	inv := &recordingInvoker{output: map[string]any{"ok": true}}
	r.RegisterInvoker(KindExecutable, inv)

	tool, err := r.Register(ctx, Tool{Name: "noop", Kind: KindExecutable, Description: "does nothing", Executable: &ExecutableInvocation{Command: "true"}})
	require.NoError(t, err)

	out, err := r.Invoke(ctx, tool.ToolID, map[string]any{"x": 1})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, out)
	require.Equal(t, map[string]any{"x": 1}, inv.lastInput)
}

func TestInvokeUnknownToolFails(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestFindDuplicateIncrementsUsage(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	_, err := r.Register(ctx, Tool{Name: "sum-two-numbers", Kind: KindExecutable, Description: "adds two integers together", Executable: &ExecutableInvocation{Command: "sum"}})
	require.NoError(t, err)

	dup, found, err := r.FindDuplicate(ctx, "add-two-ints", "adds two integers together", 0.5)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "sum-two-numbers", dup.Name)

	hits, err := r.memory.FindSimilar(ctx, "sum-two-numbers adds two integers together", memory.KindTool, nil, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	stored, err := r.memory.Get(ctx, hits[0].Artifact.ArtifactID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.UsageCount)
}
