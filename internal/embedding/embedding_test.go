package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFallbackEmbedderIsDeterministic(t *testing.T) {
	e := NewLocalFallbackEmbedder(128)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "add two numbers together")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "add two numbers together")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 128)
}

func TestLocalFallbackEmbedderSimilarTextIsCloser(t *testing.T) {
	e := NewLocalFallbackEmbedder(256)
	ctx := context.Background()

	base, err := e.Embed(ctx, "add two numbers together")
	require.NoError(t, err)
	similar, err := e.Embed(ctx, "add 7 and 3 together")
	require.NoError(t, err)
	dissimilar, err := e.Embed(ctx, "render a pdf document to png")
	require.NoError(t, err)

	simScore := cosine(base, similar)
	dissimScore := cosine(base, dissimilar)
	require.Greater(t, simScore, dissimScore)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
