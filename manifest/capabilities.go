package manifest

import (
	"encoding/json"
	"fmt"
)

// capabilityEntry is the V2 map-shape value: a boolean required flag.
// Optional (required: false) and present-in-list both mean "supported";
// the distinction only matters to a stricter validator than this runtime
// implements (§3: "the runtime treats both as a set with boolean
// membership").
type capabilityEntry struct {
	Required bool
}

// Capabilities accepts either the V1 list shape (`capabilities: [chat,
// streaming]`) or the V2 map shape (`capabilities: {chat: {required:
// true}}`) and normalizes both into one internal set (SPEC_FULL.md
// Supplemented Feature #1).
type Capabilities struct {
	set map[string]capabilityEntry
}

// Has reports whether name is declared, in either source shape.
func (c Capabilities) Has(name string) bool {
	if c.set == nil {
		return false
	}
	_, ok := c.set[name]
	return ok
}

// Required reports whether name was declared required (V2 map shape only;
// list-shape and unmarked map entries default to false).
func (c Capabilities) Required(name string) bool {
	return c.set[name].Required
}

// Names returns the declared capability names, for diagnostics.
func (c Capabilities) Names() []string {
	names := make([]string, 0, len(c.set))
	for n := range c.set {
		names = append(names, n)
	}
	return names
}

// UnmarshalJSON implements the dual-shape acceptance described above.
// go-yaml v3 round-trips unknown document shapes through its own decoder,
// not through json.Unmarshaler, so manifest/load.go additionally converts
// YAML nodes to JSON before delegating here — this keeps one decoding
// path for both source formats (§6: "YAML source and a pre-built JSON
// dist form are both accepted; no behavioral difference").
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		set := make(map[string]capabilityEntry, len(asList))
		for _, name := range asList {
			set[name] = capabilityEntry{}
		}
		c.set = set
		return nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err != nil {
		return fmt.Errorf("manifest: capabilities must be a list or a map: %w", err)
	}
	set := make(map[string]capabilityEntry, len(asMap))
	for name, raw := range asMap {
		var entry struct {
			Required bool `json:"required"`
		}
		trimmed := trimJSONWhitespace(raw)
		switch {
		case len(trimmed) == 0:
			// empty value, treat as present/optional
		case trimmed[0] == '{':
			if err := json.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("manifest: capabilities[%s]: %w", name, err)
			}
		case isJSONBool(trimmed):
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				entry.Required = b
			}
		}
		set[name] = capabilityEntry{Required: entry.Required}
	}
	c.set = set
	return nil
}

// MarshalJSON always emits the V2 map shape.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	out := make(map[string]struct {
		Required bool `json:"required"`
	}, len(c.set))
	for name, entry := range c.set {
		out[name] = struct {
			Required bool `json:"required"`
		}{Required: entry.Required}
	}
	return json.Marshal(out)
}

func trimJSONWhitespace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isJSONSpace(b[start]) {
		start++
	}
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isJSONBool(b []byte) bool {
	s := string(b)
	return s == "true" || s == "false"
}
