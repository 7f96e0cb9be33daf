// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Function-call (tool) encoding for the vendor API

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a chat completion request without function definitions.
	Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error)

	// ChatWithTools sends a chat completion request advertising the given
	// functions with automatic selection. With no functions it behaves like Chat.
	// The model may answer with LLMResponse.FunctionCall instead of content.
	ChatWithTools(ctx context.Context, messages []ChatMessage, functions []FunctionDefinition) (LLMResponse, error)
}
