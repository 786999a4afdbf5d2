// Package memory implements the semantic artifact memory described in
// spec §4.4: typed, embedded, versioned artifacts with usage statistics,
// lineage, clustering, and similarity-ranked retrieval. It is backed by a
// structured store (MongoDB) for metadata and a vector store (Redis) for
// similarity search, with an in-memory fallback so callers never need to
// distinguish backends.
package memory

import "time"

// Kind enumerates the artifact kinds tracked by semantic memory.
type Kind string

// Artifact kinds (spec §3).
const (
	KindFunction    Kind = "function"
	KindWorkflow    Kind = "workflow"
	KindTool        Kind = "tool"
	KindTest        Kind = "test"
	KindPattern     Kind = "pattern"
	KindPlan        Kind = "plan"
	KindPrompt      Kind = "prompt"
	KindSubWorkflow Kind = "sub_workflow"
)

// Status enumerates artifact lifecycle states.
type Status string

// Artifact statuses (spec §3).
const (
	StatusCanonical Status = "canonical"
	StatusCandidate Status = "candidate"
	StatusArchived  Status = "archived"
)

// Scope enumerates fix-pattern visibility scopes (spec §4.4, §4.10).
type Scope string

// Fix pattern scopes.
const (
	ScopeTool         Scope = "tool"
	ScopeToolSubtools Scope = "tool_subttools"
	ScopeHierarchy    Scope = "hierarchy"
	ScopeGlobal       Scope = "global"
)

// OptimizationWeight tracks per-tool (per fitness dimension) optimizer
// bookkeeping for an artifact, accumulated across optimizer runs.
type OptimizationWeight struct {
	Tool         string    `bson:"tool" json:"tool"`
	LastDistance float64   `bson:"last_distance" json:"last_distance"`
	Fitness      float64   `bson:"fitness" json:"fitness"`
	LastUpdated  time.Time `bson:"last_updated" json:"last_updated"`
}

// BugEmbedding associates a known failure mode with an embedding so similar
// bugs can be retrieved semantically.
type BugEmbedding struct {
	ID       string    `bson:"id" json:"id"`
	Vector   []float32 `bson:"vector" json:"vector"`
	Severity string    `bson:"severity" json:"severity"`
	Resolved bool      `bson:"resolved" json:"resolved"`
}

// FixPattern is a specialized artifact body for error -> fix pairs (spec §3).
// It is carried in Artifact.Metadata under the "fix_pattern" key when
// Artifact.Kind == KindPattern.
type FixPattern struct {
	ErrorMessage   string `bson:"error_message" json:"error_message"`
	BrokenCode     string `bson:"broken_code" json:"broken_code"`
	FixedCode      string `bson:"fixed_code" json:"fixed_code"`
	FixDescription string `bson:"fix_description" json:"fix_description"`
	ErrorType      string `bson:"error_type" json:"error_type"`
	Language       string `bson:"language" json:"language"`
	Scope          Scope  `bson:"scope" json:"scope"`
	ScopeOwnerID   string `bson:"scope_owner_id,omitempty" json:"scope_owner_id,omitempty"`
}

// Artifact is the unit of semantic memory (spec §3).
type Artifact struct {
	ArtifactID  string         `bson:"_id" json:"artifact_id"`
	Kind        Kind           `bson:"kind" json:"kind"`
	Name        string         `bson:"name" json:"name"`
	Description string         `bson:"description" json:"description"`
	Content     string         `bson:"content" json:"content"`
	Tags        []string       `bson:"tags" json:"tags"`
	Embedding   []float32      `bson:"embedding,omitempty" json:"embedding,omitempty"`
	EmbeddingModelID string    `bson:"embedding_model_id,omitempty" json:"embedding_model_id,omitempty"`
	EmbeddingStale   bool      `bson:"embedding_stale,omitempty" json:"embedding_stale,omitempty"`
	Metadata    map[string]any `bson:"metadata" json:"metadata"`

	UsageCount   int     `bson:"usage_count" json:"usage_count"`
	QualityScore float64 `bson:"quality_score" json:"quality_score"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	LastUsed  time.Time `bson:"last_used" json:"last_used"`

	Version         string `bson:"version" json:"version"`
	DefinitionHash  string `bson:"definition_hash" json:"definition_hash"`
	LogicalIdentity string `bson:"logical_identity" json:"logical_identity"`

	ParentIDs   []string `bson:"parent_ids,omitempty" json:"parent_ids,omitempty"`
	ChildrenIDs []string `bson:"children_ids,omitempty" json:"children_ids,omitempty"`

	ClusterID string `bson:"cluster_id,omitempty" json:"cluster_id,omitempty"`
	Status    Status `bson:"status" json:"status"`

	OptimizationWeights []OptimizationWeight `bson:"optimization_weights,omitempty" json:"optimization_weights,omitempty"`
	BugEmbeddings       []BugEmbedding       `bson:"bug_embeddings,omitempty" json:"bug_embeddings,omitempty"`
}

// Clone returns a deep-enough copy of a for safe mutation by callers (slices
// and maps are copied; nested struct values are shared only where immutable).
func (a Artifact) Clone() Artifact {
	clone := a
	clone.Tags = append([]string(nil), a.Tags...)
	clone.Embedding = append([]float32(nil), a.Embedding...)
	clone.ParentIDs = append([]string(nil), a.ParentIDs...)
	clone.ChildrenIDs = append([]string(nil), a.ChildrenIDs...)
	clone.OptimizationWeights = append([]OptimizationWeight(nil), a.OptimizationWeights...)
	clone.BugEmbeddings = append([]BugEmbedding(nil), a.BugEmbeddings...)
	clone.Metadata = make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
