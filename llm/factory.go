// Provider factory - Ergonomic builder-first API for creating providers.
//
// Quick Start:
//
//	// Simplest: local Ollama with defaults, no API key
//	local, err := llm.ProviderOllama.FromEnv()  // Uses llama3.2
//
//	// Remote backend, key from environment
//	claude, err := llm.ProviderAnthropic.FromEnv()  // Uses claude-opus-4-5
//
//	// With custom model
//	gpt5, err := llm.ProviderOpenAI.Model(llm.ModelOpenAIGPT5).FromEnv()
//
//	// Full configuration
//	custom, err := llm.ProviderOllama.
//	    Model("qwen3").
//	    ContextLength(8192).
//	    Temperature(0.2).
//	    FromEnv()
//
//	// With explicit API key
//	provider, err := llm.ProviderOpenAI.Model(llm.ModelOpenAIGPT52).APIKey("sk-...")

package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/richinex/procrustes/tools"
)

// ProviderType represents supported backends.
type ProviderType int

const (
	// ProviderOllama is the local Ollama backend. Needs no API key.
	ProviderOllama ProviderType = iota
	// ProviderOpenAI is the OpenAI backend (GPT models).
	ProviderOpenAI
	// ProviderAnthropic is the Anthropic backend (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek backend.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini backend.
	ProviderGemini
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOllama:
		return "ollama"
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API
// key. Empty for Ollama, which needs none.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOllama:
		return ModelOllamaLlama32
	case ProviderOpenAI:
		return ModelOpenAIGPT52
	case ProviderAnthropic:
		return ModelAnthropicClaudeOpus45
	case ProviderDeepSeek:
		return ModelDeepSeekV32
	case ProviderGemini:
		return ModelGeminiFlash3
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "ollama", "local":
		return ProviderOllama, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv creates a provider with defaults, reading the API key from
// the environment.
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

// ProviderBuilder is a builder for configuring providers.
type ProviderBuilder struct {
	providerType  ProviderType
	model         string
	endpoint      string
	contextLength int
	maxTokens     uint32
	temperature   *float32
	tools         *tools.Registry
	toolConfig    tools.ToolConfig
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// Endpoint overrides the backend's base URL.
func (b *ProviderBuilder) Endpoint(endpoint string) *ProviderBuilder {
	b.endpoint = endpoint
	return b
}

// ContextLength declares the model's context window in tokens,
// bypassing detection.
func (b *ProviderBuilder) ContextLength(tokens int) *ProviderBuilder {
	b.contextLength = tokens
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

// Tools gives the model access to the registered tools.
func (b *ProviderBuilder) Tools(registry *tools.Registry, config tools.ToolConfig) *ProviderBuilder {
	b.tools = registry
	b.toolConfig = config
	return b
}

// FromEnv builds the provider, reading the API key from the
// environment. Ollama needs no key; its host comes from OLLAMA_HOST
// when no endpoint was set.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	if envVar == "" {
		if b.endpoint == "" {
			b.endpoint = os.Getenv("OLLAMA_HOST")
		}
		return b.build("")
	}
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
	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(0.7) // default
	if b.temperature != nil {
		temperature = *b.temperature
	}

	settings := ProviderSettings{
		Endpoint:      b.endpoint,
		APIKey:        apiKey,
		Model:         model,
		ContextLength: b.contextLength,
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		Tools:         b.tools,
		ToolConfig:    b.toolConfig,
	}

	switch b.providerType {
	case ProviderOllama:
		return NewOllamaProvider(settings), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(settings), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(settings), nil
	case ProviderDeepSeek:
		return NewDeepSeekProvider(settings), nil
	case ProviderGemini:
		return NewGeminiProvider(settings), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}

// Model identifier constants for all supported providers.

// Ollama model identifiers (January 2026)
const (
	// ModelOllamaLlama32 is Llama 3.2: Small general model, runs on most machines.
	ModelOllamaLlama32 = "llama3.2"
	// ModelOllamaLlama33 is Llama 3.3: Larger general model.
	ModelOllamaLlama33 = "llama3.3"
	// ModelOllamaQwen3 is Qwen 3: Strong multilingual model.
	ModelOllamaQwen3 = "qwen3"
	// ModelOllamaGemma3 is Gemma 3: Google's open model.
	ModelOllamaGemma3 = "gemma3"
	// ModelOllamaMistral is Mistral 7B: Compact general model.
	ModelOllamaMistral = "mistral"
)

// OpenAI model identifiers (January 2026)
const (
	// ModelOpenAIGPT52 is GPT-5.2: Latest flagship model (December 2025).
	ModelOpenAIGPT52 = "gpt-5.2"
	// ModelOpenAIGPT52Codex is GPT-5.2-Codex: Agentic coding specialist.
	ModelOpenAIGPT52Codex = "gpt-5.2-codex"
	// ModelOpenAIGPT5 is GPT-5: Previous flagship (August 2025).
	ModelOpenAIGPT5 = "gpt-5"
	// ModelOpenAIO3Mini is O3-mini: Efficient reasoning model.
	ModelOpenAIO3Mini = "o3-mini"
	// ModelOpenAIGPT4o is GPT-4o: Legacy model.
	ModelOpenAIGPT4o = "gpt-4o"
	// ModelOpenAIGPT4oMini is GPT-4o-mini: Legacy model.
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
)

// Anthropic model identifiers (January 2026)
const (
	// ModelAnthropicClaudeOpus45 is Claude Opus 4.5: Latest flagship, best for coding/agents.
	ModelAnthropicClaudeOpus45 = "claude-opus-4-5-20251101"
	// ModelAnthropicClaudeSonnet4 is Claude Sonnet 4: Balanced performance.
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	// ModelAnthropicClaudeHaiku4 is Claude Haiku 4: Fast and efficient.
	ModelAnthropicClaudeHaiku4 = "claude-haiku-4-20250514"
)

// DeepSeek model identifiers (January 2026)
const (
	// ModelDeepSeekV32 is V3.2: Latest general model, GPT-5 equivalent.
	ModelDeepSeekV32 = "deepseek-v3.2"
	// ModelDeepSeekV31 is V3.1: Previous version.
	ModelDeepSeekV31 = "deepseek-v3.1"
	// ModelDeepSeekR1 is R1: Reasoning model with chain-of-thought.
	ModelDeepSeekR1 = "deepseek-r1"
)

// Gemini model identifiers (January 2026)
const (
	// ModelGeminiPro3 is Gemini 3 Pro: Advanced reasoning, 1M context window.
	ModelGeminiPro3 = "gemini-3-pro"
	// ModelGeminiFlash3 is Gemini 3 Flash: Speed optimized with frontier intelligence.
	ModelGeminiFlash3 = "gemini-3-flash"
	// ModelGeminiFlash2 is Gemini 2.0 Flash: Legacy model.
	ModelGeminiFlash2 = "gemini-2.0-flash"
)
