// Package schema sanitizes the JSON-Schema objects tool handlers publish
// for their arguments. Hand-authored schemas frequently omit `type`; the
// sanitizer infers it structurally so the resulting schema is always
// valid for a model provider's tool-calling API.
package schema

// Schema is a minimal, mutable JSON-Schema node. Unknown keys the caller
// set can be kept in Extra, which Sanitize leaves untouched; Extra is not
// serialized (it is tagged json:"-" and no custom marshaller merges it
// back in).
type Schema struct {
	Type       string             `json:"type,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Enum       []any              `json:"enum,omitempty"`
	Const      any                `json:"const,omitempty"`
	Format     string             `json:"format,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Extra      map[string]any     `json:"-"`
}

// Sanitize walks s and every nested schema, filling in a missing Type by
// structural inference:
//
//	has Properties         -> "object"
//	has Items              -> "array"
//	has Enum/Const/Format   -> "string"
//	has none of the above, and no recognizable numeric keyword -> "string"
//
// Unrecognized combinations (e.g. a node with both Properties and Enum set)
// default to the permissive "string" rather than reject.
func Sanitize(s *Schema) *Schema {
	if s == nil {
		return nil
	}
	if s.Type == "" {
		s.Type = inferType(s)
	}
	for k, v := range s.Properties {
		s.Properties[k] = Sanitize(v)
	}
	if s.Items != nil {
		s.Items = Sanitize(s.Items)
	}
	return s
}

func inferType(s *Schema) string {
	switch {
	case len(s.Properties) > 0:
		return "object"
	case s.Items != nil:
		return "array"
	case len(s.Enum) > 0, s.Const != nil, s.Format != "":
		return "string"
	default:
		return "string"
	}
}

// ActionSchema builds the `{action: enum(...), <verb>: {...}}` envelope
// used for multi-verb tools (agent.*, browser.*): a string
// `action` enum plus one object property per verb, each independently
// sanitized.
func ActionSchema(verbs map[string]*Schema) *Schema {
	enum := make([]any, 0, len(verbs))
	props := map[string]*Schema{
		"action": {Type: "string"},
	}
	for verb, sub := range verbs {
		enum = append(enum, verb)
		props[verb] = Sanitize(sub)
	}
	props["action"].Enum = enum
	return &Schema{Type: "object", Properties: props}
}
