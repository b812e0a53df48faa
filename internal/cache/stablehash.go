package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// StableHash returns the hex-encoded sha256 of a canonical JSON encoding of
// v: object keys sorted lexicographically, so two structurally equal values
// always produce the same hash regardless of field or map ordering.
func StableHash(v any) string {
	canon := canonicalize(v)
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Key builds the L1 agent-cache key: sha256 over
// provider|model|agent_name|prompt_version|schema_version|stable_hash(input).
func Key(provider, model, agentName, promptVersion, schemaVersion string, input any) string {
	parts := []any{provider, model, agentName, promptVersion, schemaVersion, StableHash(input)}
	return StableHash(parts)
}

// DerivedKey builds the L2 derived-cache key: sha256 over
// type|stable_hash(source_artifacts)|schema_version|prompt_version.
func DerivedKey(artifactType string, sourceArtifacts any, schemaVersion, promptVersion string) string {
	parts := []any{artifactType, StableHash(sourceArtifacts), schemaVersion, promptVersion}
	return StableHash(parts)
}

// canonicalize re-marshals v through a generic JSON round-trip so that map
// keys are ordered deterministically by encoding/json (which already sorts
// map[string]any keys) and nested structs become plain maps/slices with
// the same property.
func canonicalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return v
	}
	return sortedCopy(generic)
}

func sortedCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = sortedCopy(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return val
	}
}
