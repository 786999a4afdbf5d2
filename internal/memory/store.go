package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store/VectorIndex implementations when an
// artifact_id has no matching record.
var ErrNotFound = errors.New("memory: artifact not found")

// Store persists artifact metadata and content (spec §4.4's "structured
// store"). Implementations must be safe for concurrent use and must
// serialize writers per artifact_id while allowing concurrent readers
// (spec §5).
type Store interface {
	Put(ctx context.Context, a Artifact) error
	Get(ctx context.Context, artifactID string) (Artifact, error)
	// FindByLogicalIdentity returns every stored revision (including
	// archived ones) sharing logicalIdentity, newest first.
	FindByLogicalIdentity(ctx context.Context, logicalIdentity string) ([]Artifact, error)
	FindByTags(ctx context.Context, tags []string) ([]Artifact, error)
	// List returns artifacts matching an optional kind filter, used by the
	// tag-and-rule degraded-mode search path and by the cluster optimizer.
	List(ctx context.Context, kindFilter Kind) ([]Artifact, error)
	Delete(ctx context.Context, artifactID string) error
}

// VectorIndex performs similarity search over artifact embeddings (spec
// §4.4's "vector database"). Implementations may be unreachable at runtime;
// Memory degrades to tag-based search when that happens (spec §4.4 failure
// semantics).
type VectorIndex interface {
	Upsert(ctx context.Context, artifactID string, embedding []float32) error
	Delete(ctx context.Context, artifactID string) error
	// TopK returns the k artifact IDs whose stored embedding has the highest
	// cosine similarity to query, along with that similarity.
	TopK(ctx context.Context, query []float32, k int) ([]ScoredID, error)
}

// ScoredID pairs an artifact_id with a similarity score.
type ScoredID struct {
	ArtifactID string
	Similarity float64
}
