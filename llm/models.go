// Package llm provides shared data models for LLM providers.
package llm

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a chat message with role and content.
// Assistant messages may carry the function call the model requested.
type ChatMessage struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionCall is a function-invocation directive returned by the model.
type FunctionCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`        // JSON-encoded argument object, as sent by the model
	Output    json.RawMessage `json:"output,omitempty"` // Value produced by the local handler
}

// FunctionDefinition describes a function the model may choose to invoke.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    RoleAssistant,
		Content: content,
	}
}

// LLMResponse represents a response from an LLM provider.
type LLMResponse struct {
	Content      string
	FunctionCall *FunctionCall // First function call requested by the model, if any
	Usage        *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// toolOutput returns the recorded handler output as text for replaying
// history to providers that expect a tool result after every call.
func (fc *FunctionCall) toolOutput() string {
	if fc == nil || len(fc.Output) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(fc.Output, &s); err == nil {
		return s
	}
	return string(fc.Output)
}

// argumentsOrEmpty returns the argument payload, defaulting to an empty object.
func (fc *FunctionCall) argumentsOrEmpty() string {
	if fc == nil || fc.Arguments == "" {
		return "{}"
	}
	return fc.Arguments
}
