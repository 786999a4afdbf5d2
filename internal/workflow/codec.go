package workflow

import (
	"encoding/json"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// Parse decodes a WorkflowSpec from its JSON wire format. It does not run
// Validate; callers invoke that separately once an AllowlistChecker (or
// nil) is available.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, ferrors.Wrap(ferrors.CodeValidationError, "malformed workflow spec json", err)
	}
	if spec.WorkflowID == "" {
		return Spec{}, ferrors.New(ferrors.CodeValidationError, "workflow spec missing workflow_id")
	}
	return spec, nil
}

// Marshal encodes spec back to its JSON wire format with stable key
// ordering for object fields that are Go structs (map fields still sort
// their keys alphabetically per encoding/json, which is what the spec's
// round-trip invariant (5) expects).
func Marshal(spec Spec) ([]byte, error) {
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeValidationError, "failed to marshal workflow spec", err)
	}
	return data, nil
}
