// Package config provides application settings loaded from environment
// variables and an optional YAML file.
//
// Settings are created via New() or Load() which handle:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read outside Settings, at call time.
const (
	// GoogleCredentialsEnv holds a service-account JSON document for OCR.
	GoogleCredentialsEnv = "GOOGLE_CREDENTIALS"
	// VisionAPIKeyEnv holds a Cloud Vision API key, used when no service
	// account is configured.
	VisionAPIKeyEnv = "VISION_API_KEY"
)

// Cache backends.
const (
	CacheFile   = "file"
	CacheSqlite = "sqlite"
	CacheMemory = "memory"
)

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig     `yaml:"llm"`
	Cache   CacheConfig   `yaml:"cache"`
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	OCR     OCRConfig     `yaml:"ocr"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   uint32  `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// CacheConfig selects where responses and chat sessions are kept.
type CacheConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DBPath  string `yaml:"db_path"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// GatewayConfig bounds live model calls.
type GatewayConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"timeout"`
	ValidateArguments bool          `yaml:"validate_arguments"`
}

// OCRConfig configures text detection.
type OCRConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"GPT_MODEL", "gpt-4-0613", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// Default returns settings before any file or environment is applied.
func Default() Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    "openai",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Cache: CacheConfig{
			Backend: CacheFile,
			Path:    "responseCache.json",
			DBPath:  "tutor.db",
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Gateway: GatewayConfig{
			MaxRetries: 2,
			Timeout:    60 * time.Second,
		},
		OCR: OCRConfig{
			Endpoint: "https://vision.googleapis.com/v1/images:annotate",
		},
	}
}

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider falls back to LLM_PROVIDER, then openai.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	return resolve(Default(), provider, false)
}

// Load reads a YAML config file, expands environment variables in it, then
// applies environment overrides as New does.
func Load(path, provider string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	s := Default()
	s.LLM.Provider = ""
	if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}
	return resolve(s, provider, true)
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func resolve(s Settings, provider string, fromFile bool) (Settings, error) {
	fileProvider := normalizeProvider(s.LLM.Provider)

	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = fileProvider
	}
	if provider == "" {
		provider = "openai"
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	// a model from the file only applies to the provider it was written for
	if !fromFile || provider != fileProvider {
		s.LLM.Model = ""
	}
	if val := os.Getenv(info.modelEnv); val != "" {
		s.LLM.Model = val
	}
	if s.LLM.Model == "" {
		s.LLM.Model = info.defaultModel
	}
	s.LLM.Provider = provider

	if s.LLM.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", s.LLM.MaxTokens); err != nil {
		return Settings{}, err
	}
	if s.LLM.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", s.LLM.Temperature); err != nil {
		return Settings{}, err
	}

	s.Cache.Backend = strings.ToLower(getEnvString("TUTOR_CACHE_BACKEND", s.Cache.Backend))
	s.Cache.Path = getEnvString("TUTOR_CACHE_PATH", s.Cache.Path)
	s.Cache.DBPath = getEnvString("TUTOR_DB_PATH", s.Cache.DBPath)
	switch s.Cache.Backend {
	case CacheFile, CacheSqlite, CacheMemory:
	default:
		return Settings{}, fmt.Errorf("invalid cache backend %q (want %s, %s or %s)",
			s.Cache.Backend, CacheFile, CacheSqlite, CacheMemory)
	}

	s.Server.Listen = getEnvString("TUTOR_LISTEN", s.Server.Listen)

	if s.Gateway.MaxRetries, err = getEnvInt("GATEWAY_MAX_RETRIES", s.Gateway.MaxRetries); err != nil {
		return Settings{}, err
	}
	if s.Gateway.MaxRetries < 0 {
		return Settings{}, fmt.Errorf("invalid value for GATEWAY_MAX_RETRIES: %d must not be negative", s.Gateway.MaxRetries)
	}
	if s.Gateway.Timeout, err = getEnvDuration("GATEWAY_TIMEOUT", s.Gateway.Timeout); err != nil {
		return Settings{}, err
	}
	if s.Gateway.ValidateArguments, err = getEnvBool("GATEWAY_VALIDATE_ARGS", s.Gateway.ValidateArguments); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyEnv returns the environment variable holding a provider's API key.
func APIKeyEnv(provider string) (string, error) {
	info, err := getProviderInfo(normalizeProvider(provider))
	if err != nil {
		return "", err
	}
	return info.apiKeyEnv, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	envVar, err := APIKeyEnv(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", envVar)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
