package manifest

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes a manifest document. Both the YAML source form and the
// pre-built JSON dist form are accepted with no behavioral difference
// (§6): YAML is a superset of JSON, so the document is first decoded
// generically via yaml.v3, then re-encoded to JSON and decoded into
// Manifest — giving Capabilities' json.Unmarshaler a single code path
// regardless of source format.
func Parse(data []byte) (*Manifest, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	normalized := normalizeYAMLKeys(generic)
	asJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("manifest: re-encode: %w", err)
	}
	m := &Manifest{}
	if err := json.Unmarshal(asJSON, m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}

// normalizeYAMLKeys recursively converts map[interface{}]interface{} (what
// yaml.v3 produces for untyped maps under some decode paths) into
// map[string]interface{} so encoding/json can marshal it.
func normalizeYAMLKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLKeys(vv)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLKeys(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLKeys(vv)
		}
		return out
	default:
		return val
	}
}
