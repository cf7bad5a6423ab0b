package llm

import (
	"bytes"
	"encoding/json"
)

// Kind is the type of a schema node.
type Kind string

const (
	KindObject Kind = "object"
	KindString Kind = "string"
	KindArray  Kind = "array"
)

// Schema is a provider-neutral description of the expected response shape.
// It renders to JSON Schema for validation and OpenAI, and to the Gemini
// OpenAPI subset for responseSchema.
type Schema struct {
	Name        string // top-level only; used as the OpenAI schema name
	Kind        Kind
	Description string
	Properties  []Property // declaration order is kept
	Required    []string
	Items       *Schema
}

// Property is a named field of an object schema.
type Property struct {
	Name   string
	Schema *Schema
}

// String returns a string node.
func String(description string) *Schema {
	return &Schema{Kind: KindString, Description: description}
}

// ArrayOf returns an array node.
func ArrayOf(items *Schema, description string) *Schema {
	return &Schema{Kind: KindArray, Items: items, Description: description}
}

// Object returns an object node where every property is required.
func Object(description string, props ...Property) *Schema {
	req := make([]string, 0, len(props))
	for _, p := range props {
		req = append(req, p.Name)
	}
	return &Schema{Kind: KindObject, Description: description, Properties: props, Required: req}
}

// Prop is shorthand for a Property literal.
func Prop(name string, s *Schema) Property {
	return Property{Name: name, Schema: s}
}

// JSONSchema renders the schema as a JSON Schema document. Objects are closed.
func (s *Schema) JSONSchema() map[string]any {
	out := map[string]any{"type": string(s.Kind)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Kind {
	case KindObject:
		props := make(OrderedProperties, 0, len(s.Properties))
		for _, p := range s.Properties {
			props = append(props, RenderedProperty{Name: p.Name, Schema: p.Schema.JSONSchema()})
		}
		out["properties"] = props
		out["required"] = append([]string{}, s.Required...)
		out["additionalProperties"] = false
	case KindArray:
		if s.Items != nil {
			out["items"] = s.Items.JSONSchema()
		}
	}
	return out
}

// RenderedProperty is one rendered JSON Schema property.
type RenderedProperty struct {
	Name   string
	Schema map[string]any
}

// OrderedProperties marshals as a JSON object whose keys keep declaration
// order. Strict structured output emits fields in schema order.
type OrderedProperties []RenderedProperty

// Get returns the rendered schema of the named property, or nil.
func (o OrderedProperties) Get(name string) map[string]any {
	for _, p := range o {
		if p.Name == name {
			return p.Schema
		}
	}
	return nil
}

// Names lists the property names in order.
func (o OrderedProperties) Names() []string {
	names := make([]string, 0, len(o))
	for _, p := range o {
		names = append(names, p.Name)
	}
	return names
}

func (o OrderedProperties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Schema)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// GeminiSchema renders the schema in the Gemini responseSchema dialect.
func (s *Schema) GeminiSchema() map[string]any {
	out := map[string]any{"type": geminiType(s.Kind)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Kind {
	case KindObject:
		props := make(map[string]any, len(s.Properties))
		order := make([]string, 0, len(s.Properties))
		for _, p := range s.Properties {
			props[p.Name] = p.Schema.GeminiSchema()
			order = append(order, p.Name)
		}
		out["properties"] = props
		out["propertyOrdering"] = order
		if len(s.Required) > 0 {
			out["required"] = append([]string{}, s.Required...)
		}
	case KindArray:
		if s.Items != nil {
			out["items"] = s.Items.GeminiSchema()
		}
	}
	return out
}

func geminiType(k Kind) string {
	switch k {
	case KindObject:
		return "OBJECT"
	case KindArray:
		return "ARRAY"
	default:
		return "STRING"
	}
}
