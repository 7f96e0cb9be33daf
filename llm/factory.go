// LLM Provider Factory - builder API for creating LLM providers.
//
// Quick Start:
//
//	// Defaults, API key read from the provider's environment variable
//	openai, err := llm.ProviderOpenAI.FromEnv()
//
//	// With custom model
//	mini, err := llm.ProviderOpenAI.Model(llm.ModelOpenAIGPT4oMini).FromEnv()
//
//	// Full configuration with an explicit key
//	claude, err := llm.ProviderAnthropic.
//	    Model(llm.ModelAnthropicClaudeSonnet4).
//	    MaxTokens(2048).
//	    Temperature(0.3).
//	    APIKey(key)

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
)

// Model identifier constants for all supported providers.
const (
	// ModelOpenAIGPT4_0613 is the GPT-4 snapshot with function calling, the historical default.
	ModelOpenAIGPT4_0613 = "gpt-4-0613"
	// ModelOpenAIGPT4o is GPT-4o.
	ModelOpenAIGPT4o = "gpt-4o"
	// ModelOpenAIGPT4oMini is GPT-4o-mini.
	ModelOpenAIGPT4oMini = "gpt-4o-mini"

	// ModelAnthropicClaudeSonnet4 is Claude Sonnet 4.
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"

	// ModelDeepSeekChat is the general chat model with tool support.
	ModelDeepSeekChat = "deepseek-chat"

	// ModelGeminiFlash25 is Gemini 2.5 Flash.
	ModelGeminiFlash25 = "gemini-2.5-flash"
)

type buildFunc func(apiKey, baseURL, model string, maxTokens uint32, temperature float32) Provider

// providerDef is everything the factory knows about one provider.
type providerDef struct {
	name         string
	aliases      []string
	envVar       string
	defaultModel string
	build        buildFunc
}

var providerDefs = map[ProviderType]providerDef{
	ProviderOpenAI: {
		name:         "openai",
		aliases:      []string{"gpt"},
		envVar:       "OPENAI_API_KEY",
		defaultModel: ModelOpenAIGPT4_0613,
		build: func(apiKey, baseURL, model string, maxTokens uint32, temperature float32) Provider {
			return NewOpenAIProviderWithBaseURL(apiKey, baseURL, model, maxTokens, temperature)
		},
	},
	ProviderAnthropic: {
		name:         "anthropic",
		aliases:      []string{"claude"},
		envVar:       "ANTHROPIC_API_KEY",
		defaultModel: ModelAnthropicClaudeSonnet4,
		build: func(apiKey, _, model string, maxTokens uint32, temperature float32) Provider {
			return NewAnthropicProvider(apiKey, model, maxTokens, temperature)
		},
	},
	ProviderDeepSeek: {
		name:         "deepseek",
		envVar:       "DEEPSEEK_API_KEY",
		defaultModel: ModelDeepSeekChat,
		build: func(apiKey, _, model string, maxTokens uint32, temperature float32) Provider {
			return NewDeepSeekProvider(apiKey, model, maxTokens, temperature)
		},
	},
	ProviderGemini: {
		name:         "gemini",
		aliases:      []string{"google"},
		envVar:       "GEMINI_API_KEY",
		defaultModel: ModelGeminiFlash25,
		build: func(apiKey, _, model string, maxTokens uint32, temperature float32) Provider {
			return NewGeminiProvider(apiKey, model, maxTokens, temperature)
		},
	},
}

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	if def, ok := providerDefs[p]; ok {
		return def.name
	}
	return "unknown"
}

// EnvVar returns the environment variable name for this provider's API key.
func (p ProviderType) EnvVar() string {
	return providerDefs[p].envVar
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	return providerDefs[p].defaultModel
}

// ParseProviderType parses a provider name or alias (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, def := range providerDefs {
		if s == def.name {
			return p, nil
		}
		for _, alias := range def.aliases {
			if s == alias {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown provider: %s", s)
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey creates a provider with an explicit API key (uses defaults for everything else).
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	baseURL      string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use. Empty keeps the provider default.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// BaseURL points an OpenAI provider at a compatible endpoint.
// Other providers ignore it.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.baseURL = url
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	def, ok := providerDefs[b.providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}

	model := b.model
	if model == "" {
		model = def.defaultModel
	}
	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	temperature := float32(0.7)
	if b.temperature != nil {
		temperature = *b.temperature
	}

	return def.build(apiKey, b.baseURL, model, maxTokens, temperature), nil
}
