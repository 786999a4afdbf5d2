package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// Embedder produces a fixed-dimension vector for a text blob (spec §4.3).
// Memory depends only on this narrow interface so it never imports the
// embedding package's backend selection logic.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// Memory is the artifact memory façade (spec §4.4): it combines a
// structured Store, a VectorIndex, and an Embedder, and degrades gracefully
// to tag-based search when the vector backend is unreachable.
type Memory struct {
	store    Store
	vector   VectorIndex
	embedder Embedder
	weights  RankWeights
	logger   telemetry.Logger

	degraded bool
}

// Option configures a Memory instance.
type Option func(*Memory)

// WithRankWeights overrides the default combined-rank weights.
func WithRankWeights(w RankWeights) Option { return func(m *Memory) { m.weights = w } }

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(m *Memory) { m.logger = l } }

// New constructs a Memory façade. store and vector may independently be the
// in-memory implementations for a fully local, degraded deployment.
func New(store Store, vector VectorIndex, embedder Embedder, opts ...Option) *Memory {
	m := &Memory{
		store:    store,
		vector:   vector,
		embedder: embedder,
		weights:  DefaultRankWeights,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scored pairs a stored artifact with its similarity to a query.
type Scored struct {
	Artifact   Artifact
	Similarity float64
	Rank       float64
}

// Store persists artifact, computing its definition hash and auto-bumping
// its version when an artifact sharing LogicalIdentity already exists with
// different content (spec §4.4). The superseded revision is archived and
// linked via ChildrenIDs/ParentIDs rather than deleted.
func (m *Memory) Store(ctx context.Context, a Artifact) (string, error) {
	if a.ArtifactID == "" {
		a.ArtifactID = uuid.NewString()
	}
	if a.LogicalIdentity == "" {
		a.LogicalIdentity = string(a.Kind) + ":" + a.Name
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	a.DefinitionHash = DefinitionHash(a.Kind, a.Name, a.Content, a.Tags, a.Metadata)

	prior, err := m.store.FindByLogicalIdentity(ctx, a.LogicalIdentity)
	if err != nil {
		return "", ferrors.Wrap(ferrors.CodeStorageUnavailable, "lookup prior revisions", err)
	}

	if len(prior) > 0 {
		latest := prior[0]
		if latest.DefinitionHash == a.DefinitionHash {
			// Idempotent: identical content, no new version (spec §8 invariant 6).
			return latest.ArtifactID, nil
		}
		kind := ClassifyChange(latest, a)
		nextVersion, err := BumpVersion(latest.Version, kind)
		if err != nil {
			return "", ferrors.Wrap(ferrors.CodeValidationError, "bump version", err)
		}
		a.Version = nextVersion
		a.ParentIDs = append(append([]string(nil), a.ParentIDs...), latest.ArtifactID)
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		latest.Status = StatusArchived
		latest.ChildrenIDs = append(latest.ChildrenIDs, a.ArtifactID)
		if err := m.store.Put(ctx, latest); err != nil {
			return "", ferrors.Wrap(ferrors.CodeStorageUnavailable, "archive prior revision", err)
		}
	} else {
		if a.Version == "" {
			a.Version = "0.1.0"
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
	}

	if a.Status == "" {
		a.Status = StatusCanonical
	}

	if len(a.Embedding) == 0 && m.embedder != nil {
		emb, err := m.embedder.Embed(ctx, a.Name+" "+a.Description+" "+a.Content)
		if err == nil {
			a.Embedding = emb
			a.EmbeddingModelID = m.embedder.ModelID()
		}
	}

	if err := m.store.Put(ctx, a); err != nil {
		return "", ferrors.Wrap(ferrors.CodeStorageUnavailable, "put artifact", err)
	}

	if m.vector != nil && len(a.Embedding) > 0 {
		if err := m.vector.Upsert(ctx, a.ArtifactID, a.Embedding); err != nil {
			m.degraded = true
			m.logger.Warn(ctx, "memory: vector backend unreachable, degrading to tag search", "error", err.Error())
		}
	}

	return a.ArtifactID, nil
}

// FindSimilar implements find_similar (spec §4.4): ranks candidates by the
// combined-rank formula over cosine similarity, usage count, and quality
// score, ties broken by more-recent LastUsed. When the vector backend is
// unreachable it degrades to a tag/keyword match over kindFilter/tagFilter.
func (m *Memory) FindSimilar(ctx context.Context, queryText string, kindFilter Kind, tagFilter []string, limit int) ([]Scored, error) {
	if m.vector != nil {
		queryVec, err := m.embedder.Embed(ctx, queryText)
		if err == nil {
			topK, err := m.vector.TopK(ctx, queryVec, maxInt(limit*4, 20))
			if err == nil {
				return m.rankCandidates(ctx, topK, kindFilter, tagFilter, limit)
			}
			m.logger.Warn(ctx, "memory: vector search failed, degrading", "error", err.Error())
		} else {
			m.logger.Warn(ctx, "memory: embed failed, degrading", "error", err.Error())
		}
	}
	return m.degradedSearch(ctx, queryText, kindFilter, tagFilter, limit)
}

func (m *Memory) rankCandidates(ctx context.Context, topK []ScoredID, kindFilter Kind, tagFilter []string, limit int) ([]Scored, error) {
	var results []Scored
	for _, sid := range topK {
		a, err := m.store.Get(ctx, sid.ArtifactID)
		if err != nil {
			continue
		}
		if kindFilter != "" && a.Kind != kindFilter {
			continue
		}
		if len(tagFilter) > 0 && !hasAllTags(a.Tags, tagFilter) {
			continue
		}
		rank := CombinedRank(m.weights, a.UsageCount, sid.Similarity, a.QualityScore)
		results = append(results, Scored{Artifact: a, Similarity: sid.Similarity, Rank: rank})
	}
	sortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// degradedSearch implements the documented fallback: a keyword match over
// name/description/tags combined with the same combined-rank formula but
// with similarity approximated as a coarse token-overlap score.
func (m *Memory) degradedSearch(ctx context.Context, queryText string, kindFilter Kind, tagFilter []string, limit int) ([]Scored, error) {
	all, err := m.store.List(ctx, kindFilter)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeStorageUnavailable, "degraded list", err)
	}
	queryTokens := tokenize(queryText)
	var results []Scored
	for _, a := range all {
		if len(tagFilter) > 0 && !hasAllTags(a.Tags, tagFilter) {
			continue
		}
		sim := tokenOverlap(queryTokens, tokenize(a.Name+" "+a.Description))
		if sim == 0 {
			continue
		}
		rank := CombinedRank(m.weights, a.UsageCount, sim, a.QualityScore)
		results = append(results, Scored{Artifact: a, Similarity: sim, Rank: rank})
	}
	sortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func sortScored(results []Scored) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		return results[i].Artifact.LastUsed.After(results[j].Artifact.LastUsed)
	})
}

func tokenize(s string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		tokens[w] = struct{}{}
	}
	return tokens
}

func tokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	overlap := 0
	for t := range a {
		if _, ok := b[t]; ok {
			overlap++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(overlap) / float64(denom)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// FindByTags returns artifacts containing every tag in tags.
func (m *Memory) FindByTags(ctx context.Context, tags []string) ([]Artifact, error) {
	out, err := m.store.FindByTags(ctx, tags)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeStorageUnavailable, "find by tags", err)
	}
	return out, nil
}

// Get retrieves an artifact by id.
func (m *Memory) Get(ctx context.Context, artifactID string) (Artifact, error) {
	a, err := m.store.Get(ctx, artifactID)
	if err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// IncrementUsage increments usage_count and updates last_used for artifactID.
func (m *Memory) IncrementUsage(ctx context.Context, artifactID string) error {
	a, err := m.store.Get(ctx, artifactID)
	if err != nil {
		return err
	}
	a.UsageCount++
	a.LastUsed = time.Now()
	return m.store.Put(ctx, a)
}

// UpdateMetadata merges patch into artifactID's metadata.
func (m *Memory) UpdateMetadata(ctx context.Context, artifactID string, patch map[string]any) error {
	a, err := m.store.Get(ctx, artifactID)
	if err != nil {
		return err
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	for k, v := range patch {
		a.Metadata[k] = v
	}
	return m.store.Put(ctx, a)
}

// UpdateQuality sets artifactID's quality_score, recording reason in
// metadata under "quality_update_reason" for auditability.
func (m *Memory) UpdateQuality(ctx context.Context, artifactID string, score float64, reason string) error {
	a, err := m.store.Get(ctx, artifactID)
	if err != nil {
		return err
	}
	a.QualityScore = score
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	a.Metadata["quality_update_reason"] = reason
	return m.store.Put(ctx, a)
}

// Archive marks artifactID as archived without deleting it.
func (m *Memory) Archive(ctx context.Context, artifactID string) error {
	a, err := m.store.Get(ctx, artifactID)
	if err != nil {
		return err
	}
	a.Status = StatusArchived
	return m.store.Put(ctx, a)
}

// Purge permanently deletes artifactID. Only the cluster optimizer's
// explicit purge operation should call this (spec §4.8).
func (m *Memory) Purge(ctx context.Context, artifactID string) error {
	if err := m.store.Delete(ctx, artifactID); err != nil {
		return err
	}
	if m.vector != nil {
		_ = m.vector.Delete(ctx, artifactID)
	}
	return nil
}

// Degraded reports whether Memory last observed the vector backend as
// unreachable.
func (m *Memory) Degraded() bool { return m.degraded }

// FindFixPatterns implements the scoped fix-pattern retrieval used by the
// reuse layer (spec §4.4 scope filter, §4.10): it searches pattern
// artifacts for errorMessage similarity and filters by scope visibility
// relative to callerToolID.
func (m *Memory) FindFixPatterns(ctx context.Context, errorMessage, callerToolID string, limit int) ([]Scored, error) {
	candidates, err := m.FindSimilar(ctx, errorMessage, KindPattern, nil, maxInt(limit*4, 20))
	if err != nil {
		return nil, err
	}
	var visible []Scored
	for _, c := range candidates {
		fp, ok := fixPatternOf(c.Artifact)
		if !ok {
			continue
		}
		if ScopeVisible(fp.Scope, fp.ScopeOwnerID, callerToolID) {
			visible = append(visible, c)
		}
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

func fixPatternOf(a Artifact) (FixPattern, bool) {
	raw, ok := a.Metadata["fix_pattern"]
	if !ok {
		return FixPattern{}, false
	}
	fp, ok := raw.(FixPattern)
	return fp, ok
}

// ScopeVisible implements the scope visibility rule from spec §4.4/§4.10:
//
//   - tool: only visible to the exact owning tool.
//   - tool_subttools: visible to the owner or any dotted-prefix descendant
//     (e.g. owner "alpha" matches caller "alpha.sub").
//   - hierarchy: visible to any caller sharing a dotted-prefix with owner.
//   - global: visible to everyone.
func ScopeVisible(scope Scope, ownerID, callerID string) bool {
	switch scope {
	case ScopeGlobal:
		return true
	case ScopeTool:
		return ownerID == callerID
	case ScopeToolSubtools:
		return ownerID == callerID || strings.HasPrefix(callerID, ownerID+".")
	case ScopeHierarchy:
		return sharesDottedPrefix(ownerID, callerID)
	default:
		return false
	}
}

func sharesDottedPrefix(a, b string) bool {
	if a == b {
		return true
	}
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	n := len(aParts)
	if len(bParts) < n {
		n = len(bParts)
	}
	for i := 0; i < n; i++ {
		if aParts[i] != bParts[i] {
			return i > 0
		}
	}
	return n > 0
}
