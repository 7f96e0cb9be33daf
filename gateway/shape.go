package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/richinex/tutor/llm"
)

// Shape describes a structured output the model may choose to produce by
// calling a function of the same name.
type Shape struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

func (s Shape) definition() llm.FunctionDefinition {
	return llm.FunctionDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Parameters.Map(),
	}
}

// Handler turns the model's parsed arguments into a result value. The value
// is JSON-encoded before it is cached.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Handlers maps a shape name to its handler.
type Handlers map[string]Handler

func (h Handlers) names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Typed adapts a function on a concrete argument type into a Handler.
func Typed[A, R any](fn func(context.Context, A) (R, error)) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var in A
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, &ArgumentError{Err: err}
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, &ArgumentError{Err: err}
		}
		return fn(ctx, in)
	}
}

// Kind tags a Result.
type Kind int

const (
	// KindText is a plain string: free-text content or a string-valued
	// handler result.
	KindText Kind = iota
	// KindStructured is any other JSON value.
	KindStructured
)

func (k Kind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "text"
}

// Result is what Resolve produces, fresh or cached.
type Result struct {
	Kind Kind
	Text string
	Raw  json.RawMessage
}

// TextResult wraps a string.
func TextResult(s string) Result {
	return Result{Kind: KindText, Text: s}
}

// ResultFromJSON classifies an encoded value: a JSON string becomes a text
// result, anything else a structured one.
func ResultFromJSON(raw json.RawMessage) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return TextResult(s)
		}
	}
	return Result{Kind: KindStructured, Raw: json.RawMessage(trimmed)}
}

// JSON returns the encoded form stored in the cache.
func (r Result) JSON() json.RawMessage {
	if r.Kind == KindText {
		return encode(r.Text)
	}
	return r.Raw
}

// String returns the text, or the raw JSON for structured results.
func (r Result) String() string {
	if r.Kind == KindText {
		return r.Text
	}
	return string(r.Raw)
}

// Empty reports whether the result carries nothing worth caching.
func (r Result) Empty() bool {
	if r.Kind == KindText {
		return r.Text == ""
	}
	raw := bytes.TrimSpace(r.Raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// Decode unmarshals the result into v.
func (r Result) Decode(v any) error {
	if err := json.Unmarshal(r.JSON(), v); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", r.Kind, err)
	}
	return nil
}

// encode marshals v without HTML escaping. It only fails for values that
// cannot be represented in JSON.
func encode(v any) json.RawMessage {
	raw, _ := marshal(v)
	return raw
}

func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
