package conductor

import (
	"fmt"

	"dario.cat/mergo"
)

// MergeContext merges a stage's delta into a copy of the base context. The
// base is never mutated, so each stage sees an immutable view and the
// coordinator owns the merge. Later values win; slices append.
func MergeContext(base, delta map[string]any) (map[string]any, error) {
	merged := copyContext(base)
	if len(delta) == 0 {
		return merged, nil
	}
	if err := mergo.Merge(&merged, delta, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("failed to merge context: %w", err)
	}
	return merged, nil
}

// copyContext creates a shallow copy of a context map.
func copyContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
