package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// DefinitionHash computes the SHA-256 of a canonical JSON encoding of the
// fields that define an artifact's behavior: kind, name, content, tags, and
// behavior-relevant metadata. Usage statistics, timestamps, lineage, and
// cluster membership are intentionally excluded so they do not affect
// versioning (spec §3, §4.4).
func DefinitionHash(kind Kind, name, content string, tags []string, metadata map[string]any) string {
	sortedTags := append([]string(nil), tags...)
	sort.Strings(sortedTags)

	canonical := struct {
		Kind     Kind           `json:"kind"`
		Name     string         `json:"name"`
		Content  string         `json:"content"`
		Tags     []string       `json:"tags"`
		Metadata map[string]any `json:"metadata"`
	}{Kind: kind, Name: name, Content: content, Tags: sortedTags, Metadata: metadata}

	raw, _ := json.Marshal(canonicalize(canonical))
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// canonicalize normalizes v into a structure with deterministically ordered
// map keys so that json.Marshal produces a stable byte sequence regardless
// of Go map iteration order.
func canonicalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return v
	}
	return sortKeys(generic)
}

func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kvPair{k, sortKeys(t[k])})
		}
		return ordered
	case []any:
		for i, e := range t {
			t[i] = sortKeys(e)
		}
		return t
	default:
		return v
	}
}

type kvPair struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object whose keys appear in the slice's
// order, letting sortKeys produce deterministic output without depending on
// Go's randomized map iteration.
type orderedMap []kvPair

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, p := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, _ := json.Marshal(p.Key)
		valJSON, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
