// Package json recovers JSON objects from model output.
//
// Function-call arguments are supposed to be a bare JSON object, but models
// regularly wrap them in markdown fences or surround them with commentary.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const previewLimit = 100

// Object returns the JSON object held in s. An empty or whitespace-only input
// yields "{}". Fenced blocks are unwrapped, and failing that the outermost
// brace pair is tried.
func Object(s string) (json.RawMessage, error) {
	trimmed := unfence(s)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}

	if isObject(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start != -1 && end > start {
		if candidate := trimmed[start : end+1]; isObject(candidate) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, fmt.Errorf("no JSON object in %q", preview(s))
}

// Arguments parses s into a generic argument map.
func Arguments(s string) (map[string]any, error) {
	raw, err := Object(s)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return args, nil
}

// Decode extracts the object held in s and unmarshals it into T.
func Decode[T any](s string) (T, error) {
	var out T
	raw, err := Object(s)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return out, nil
}

func isObject(s string) bool {
	var probe map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	if err := dec.Decode(&probe); err != nil || probe == nil {
		return false
	}
	// trailing garbage after the object
	return !dec.More()
}

// unfence strips a surrounding ```json ... ``` or ``` ... ``` block.
func unfence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl != -1 && !strings.ContainsAny(t[:nl], "{[") {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "json")
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func preview(s string) string {
	if len(s) > previewLimit {
		return s[:previewLimit] + "..."
	}
	return s
}
