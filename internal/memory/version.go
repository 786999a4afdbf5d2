package memory

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ChangeKind classifies the nature of a content change between two
// artifact revisions, driving the semver bump rule in spec §4.4.
type ChangeKind int

// Change kinds, ordered from least to most significant so the bump helper
// can simply take the maximum observed kind across a diff.
const (
	ChangeNone ChangeKind = iota
	ChangePatch
	ChangeMinor
	ChangeMajor
)

// BumpVersion applies the spec §4.4 semver rule: breaking/interface-changing
// changes bump major, new optional features bump minor, anything else bumps
// patch. current may be empty, in which case "0.1.0" is returned.
func BumpVersion(current string, kind ChangeKind) (string, error) {
	if current == "" {
		return "0.1.0", nil
	}
	v, err := semver.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("memory: invalid version %q: %w", current, err)
	}
	var next semver.Version
	switch kind {
	case ChangeMajor:
		next = v.IncMajor()
	case ChangeMinor:
		next = v.IncMinor()
	default:
		next = v.IncPatch()
	}
	return next.String(), nil
}

// ClassifyChange compares the set of metadata keys and the description
// between two revisions to decide the change kind. A removed or
// type-changed metadata key, or a change to Kind/Name, is breaking (major).
// An added metadata key or materially longer content is a new feature
// (minor). Anything else (wording tweaks, tag reordering) is a patch.
func ClassifyChange(old, next Artifact) ChangeKind {
	if old.Kind != next.Kind || old.Name != next.Name {
		return ChangeMajor
	}
	for k, ov := range old.Metadata {
		nv, ok := next.Metadata[k]
		if !ok {
			return ChangeMajor
		}
		if fmt.Sprintf("%T", ov) != fmt.Sprintf("%T", nv) {
			return ChangeMajor
		}
	}
	for k := range next.Metadata {
		if _, ok := old.Metadata[k]; !ok {
			return ChangeMinor
		}
	}
	if len(next.Content) > len(old.Content) {
		return ChangeMinor
	}
	if old.Content != next.Content || old.Description != next.Description {
		return ChangePatch
	}
	return ChangeNone
}
