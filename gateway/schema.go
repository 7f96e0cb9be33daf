package gateway

import (
	"bytes"
	"encoding/json"
)

// Schema is the JSON Schema subset shapes are declared with. It encodes its
// fields, and its properties, in declaration order, so the cache key is the
// same bytes every time a shape is written the same way.
type Schema struct {
	Type        string
	Description string
	Properties  []Property
	Items       *Schema
	Required    []string
}

// Property is a named entry of Schema.Properties.
type Property struct {
	Name   string
	Schema Schema
}

// Object returns an object schema with the given properties.
func Object(required []string, props ...Property) Schema {
	return Schema{Type: "object", Properties: props, Required: required}
}

// Prop declares a property.
func Prop(name, typ, description string) Property {
	return Property{Name: name, Schema: Schema{Type: typ, Description: description}}
}

// IsZero reports whether nothing was declared.
func (s Schema) IsZero() bool {
	return s.Type == "" && s.Description == "" && len(s.Properties) == 0 &&
		s.Items == nil && len(s.Required) == 0
}

// MarshalJSON writes type, description, properties, items, required, in
// that order, omitting empty fields.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(name string, v any) error {
		raw, err := marshal(v)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(encode(name))
		buf.WriteByte(':')
		buf.Write(raw)
		return nil
	}

	if s.Type != "" {
		if err := field("type", s.Type); err != nil {
			return nil, err
		}
	}
	if s.Description != "" {
		if err := field("description", s.Description); err != nil {
			return nil, err
		}
	}
	if len(s.Properties) > 0 {
		if err := field("properties", properties(s.Properties)); err != nil {
			return nil, err
		}
	}
	if s.Items != nil {
		if err := field("items", *s.Items); err != nil {
			return nil, err
		}
	}
	if len(s.Required) > 0 {
		if err := field("required", s.Required); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Map decodes the schema into the generic form providers and the argument
// validator consume. A zero schema yields nil.
func (s Schema) Map() map[string]any {
	if s.IsZero() {
		return nil
	}
	raw, err := marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

type properties []Property

func (p properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := marshal(prop.Schema)
		if err != nil {
			return nil, err
		}
		buf.Write(encode(prop.Name))
		buf.WriteByte(':')
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
