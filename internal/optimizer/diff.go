package optimizer

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/scottgal/flowforge/internal/memory"
)

// Delta captures what differs between a canonical artifact and one of its
// alternates (spec §4.8 step 2: "extract deltas ... textual diffs and
// metadata diffs").
type Delta struct {
	SourceClusterID string
	TextDiff        string
	MetadataDiff    string
	Description     string
}

// ExtractDelta diffs alternate against canonical: a unified textual diff of
// Content via go-difflib, and a structural diff of Metadata via go-cmp.
func ExtractDelta(canonical, alternate memory.Artifact, clusterID string) Delta {
	textDiff := unifiedDiff(canonical.Content, alternate.Content, canonical.Name, alternate.Name)
	metaDiff := cmp.Diff(canonical.Metadata, alternate.Metadata)

	return Delta{
		SourceClusterID: clusterID,
		TextDiff:        textDiff,
		MetadataDiff:    metaDiff,
		Description:     fmt.Sprintf("delta of %s (v%s) against canonical %s (v%s)", alternate.Name, alternate.Version, canonical.Name, canonical.Version),
	}
}

func unifiedDiff(a, b, aName, bName string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: aName,
		ToFile:   bName,
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
