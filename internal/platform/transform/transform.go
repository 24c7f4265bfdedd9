// Package transform provides the pure data-mapping utility used by
// transform-type workflow steps and by step conditions. Payloads are
// map[string]interface{} documents; fields are addressed with dotted
// paths ("patient.id", "order.items").
package transform

import "strings"

// Lookup resolves a dotted path against a document. The second return is
// false when any path segment is missing or traverses a non-map value.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes value at a dotted path, creating intermediate maps as needed.
// Intermediate non-map values are overwritten.
func Set(data map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Mapping moves one field of the input document to a field of the output.
type Mapping struct {
	Source  string      `json:"source"`
	Target  string      `json:"target"`
	Default interface{} `json:"default,omitempty"`
}

// Apply produces a new document from input according to the mapping rules.
// With no rules the input is passed through unchanged (shallow copy), which
// is the no-op transform contract: output equals input.
func Apply(input map[string]interface{}, mappings []Mapping) map[string]interface{} {
	if len(mappings) == 0 {
		out := make(map[string]interface{}, len(input))
		for k, v := range input {
			out[k] = v
		}
		return out
	}

	out := make(map[string]interface{})
	for _, m := range mappings {
		v, ok := Lookup(input, m.Source)
		if !ok {
			if m.Default == nil {
				continue
			}
			v = m.Default
		}
		Set(out, m.Target, v)
	}
	return out
}

// ParseMappings decodes mapping rules from a step configuration value, the
// JSON-decoded shape []interface{} of {"source","target","default"} objects.
func ParseMappings(raw interface{}) []Mapping {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var mappings []Mapping
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		mapping := Mapping{}
		if s, ok := m["source"].(string); ok {
			mapping.Source = s
		}
		if t, ok := m["target"].(string); ok {
			mapping.Target = t
		}
		mapping.Default = m["default"]
		if mapping.Source == "" || mapping.Target == "" {
			continue
		}
		mappings = append(mappings, mapping)
	}
	return mappings
}
