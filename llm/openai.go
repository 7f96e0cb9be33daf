// OpenAI-compatible providers (OpenAI, DeepSeek) using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Function definitions sent as tools with automatic selection

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI and any
// endpoint speaking the same Chat Completions API.
type OpenAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32

	// completionLimit sends max_completion_tokens instead of max_tokens.
	completionLimit bool
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return NewOpenAIProviderWithBaseURL(apiKey, "", model, maxTokens, temperature)
}

// NewOpenAIProviderWithBaseURL creates an OpenAI provider talking to an
// OpenAI-compatible endpoint. An empty baseURL uses the public API.
func NewOpenAIProviderWithBaseURL(apiKey, baseURL, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:        "openai",
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// NewDeepSeekProvider creates a provider for DeepSeek's compatible API.
// DeepSeek rejects max_tokens for reasoner models, so the completion limit
// is sent instead.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	p := NewOpenAIProviderWithBaseURL(apiKey, deepseekBaseURL, model, maxTokens, temperature)
	p.name = "deepseek"
	p.completionLimit = true
	return p
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithTools(ctx, messages, nil)
}

// ChatWithTools sends a chat completion request with function definitions.
func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, functions []FunctionDefinition) (LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		Temperature: p.temperature,
	}
	if p.completionLimit {
		req.MaxCompletionTokens = p.maxTokens
	} else {
		req.MaxTokens = p.maxTokens
	}
	if len(functions) > 0 {
		req.Tools = convertToOpenAITools(functions)
		req.ToolChoice = "auto"
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}
	return parseOpenAIResponse(resp), nil
}

// parseOpenAIResponse extracts content, the first function call and usage.
func parseOpenAIResponse(resp openai.ChatCompletionResponse) LLMResponse {
	out := LLMResponse{
		Usage: &TokenUsage{
			PromptTokens:     uint32(resp.Usage.PromptTokens),
			CompletionTokens: uint32(resp.Usage.CompletionTokens),
			TotalTokens:      uint32(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}

	msg := resp.Choices[0].Message
	out.Content = msg.Content
	switch {
	case len(msg.ToolCalls) > 0:
		tc := msg.ToolCalls[0]
		out.FunctionCall = &FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	case msg.FunctionCall != nil:
		// Legacy function_call replies from older compatible servers
		out.FunctionCall = &FunctionCall{
			Name:      msg.FunctionCall.Name,
			Arguments: msg.FunctionCall.Arguments,
		}
	}
	return out
}

// convertToOpenAIMessages converts our ChatMessage to openai.ChatCompletionMessage.
// An assistant function call is replayed as a tool call followed by its tool result.
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.FunctionCall == nil {
			result = append(result, oaiMsg)
			continue
		}

		id := msg.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		oaiMsg.ToolCalls = []openai.ToolCall{{
			ID:   id,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      msg.FunctionCall.Name,
				Arguments: msg.FunctionCall.argumentsOrEmpty(),
			},
		}}
		result = append(result, oaiMsg, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    msg.FunctionCall.toolOutput(),
			ToolCallID: id,
		})
	}
	return result
}

// convertToOpenAITools converts function definitions to OpenAI format.
func convertToOpenAITools(functions []FunctionDefinition) []openai.Tool {
	result := make([]openai.Tool, len(functions))
	for i, f := range functions {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			},
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
