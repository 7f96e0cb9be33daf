package gateway

import (
	"fmt"

	"github.com/richinex/tutor/llm"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "responseCache."

// CacheKey derives the cache key for a request: the prefix, the prompt, the
// encoded shapes and the encoded history, concatenated. Nil and empty lists
// both encode as [], so a fresh conversation and a nil one share entries.
func CacheKey(prompt string, shapes []Shape, history []llm.ChatMessage) (string, error) {
	if shapes == nil {
		shapes = []Shape{}
	}
	if history == nil {
		history = []llm.ChatMessage{}
	}

	encodedShapes, err := marshal(shapes)
	if err != nil {
		return "", fmt.Errorf("failed to encode shapes: %w", err)
	}
	encodedHistory, err := marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	return KeyPrefix + prompt + string(encodedShapes) + string(encodedHistory), nil
}
