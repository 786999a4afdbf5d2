package optimizer

import "github.com/scottgal/flowforge/internal/memory"

// LearnedPattern records a delta that contributed to a promoted candidate's
// fitness improvement, keyed by category (spec §3 Cluster.learned_patterns).
type LearnedPattern struct {
	ImprovementDelta float64
	Description      string
	SourceClusterID  string
}

// Cluster is a semantic equivalence class of artifacts of the same kind
// (spec §3). Membership is formed elsewhere (high-similarity connected
// components); this package only evolves and trims an existing cluster.
type Cluster struct {
	ClusterID            string
	NodeType             memory.Kind
	CanonicalArtifactID  string
	AlternateArtifactIDs []string
	LearnedPatterns      map[string][]LearnedPattern
}

func (c *Cluster) recordPattern(category string, p LearnedPattern) {
	if c.LearnedPatterns == nil {
		c.LearnedPatterns = map[string][]LearnedPattern{}
	}
	c.LearnedPatterns[category] = append(c.LearnedPatterns[category], p)
}

func (c *Cluster) removeAlternate(artifactID string) {
	kept := c.AlternateArtifactIDs[:0]
	for _, id := range c.AlternateArtifactIDs {
		if id != artifactID {
			kept = append(kept, id)
		}
	}
	c.AlternateArtifactIDs = kept
}
