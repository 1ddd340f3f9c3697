// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Sanitize SanitizeConfig
	Session  SessionConfig
	Storage  StorageConfig
}

// LLMConfig holds model backend configuration.
type LLMConfig struct {
	Provider      string
	Model         string
	Endpoint      string // Ollama server address; empty for remote backends
	ContextLength uint32 // Declared context window in tokens; 0 means detect
	MaxTokens     uint32
	Temperature   float64
}

// SanitizeConfig holds chunking and retry configuration.
type SanitizeConfig struct {
	ResponseReserve int
	MinChunkSize    int
	MaxRetryDepth   int
	RequestTimeout  time.Duration
	ChunkTimeout    time.Duration
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	HeartbeatTimeout time.Duration
}

// StorageConfig holds result-cache configuration.
type StorageConfig struct {
	DBPath string
}

// providerInfo holds configuration for a specific backend.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration. Ollama needs no API key.
var providers = map[string]providerInfo{
	"ollama":    {"OLLAMA_MODEL", "llama3.2", ""},
	"openai":    {"OPENAI_MODEL", "gpt-5.2", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-opus-4-5-20251101", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-v3.2", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-3-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
	"local":  "ollama",
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	contextLength, err := getEnvUint32("LLM_CONTEXT_LENGTH", 0)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	responseReserve, err := getEnvInt("SANITIZE_RESPONSE_RESERVE", 2048)
	if err != nil {
		return Settings{}, err
	}

	minChunk, err := getEnvInt("SANITIZE_MIN_CHUNK", 512)
	if err != nil {
		return Settings{}, err
	}

	maxRetryDepth, err := getEnvInt("SANITIZE_MAX_RETRY_DEPTH", 2)
	if err != nil {
		return Settings{}, err
	}

	requestTimeout, err := getEnvDuration("SANITIZE_REQUEST_TIMEOUT", 0)
	if err != nil {
		return Settings{}, err
	}

	chunkTimeout, err := getEnvDuration("SANITIZE_CHUNK_TIMEOUT", 0)
	if err != nil {
		return Settings{}, err
	}

	heartbeatTimeout, err := getEnvDuration("SESSION_HEARTBEAT_TIMEOUT", 15*time.Second)
	if err != nil {
		return Settings{}, err
	}

	// Get model from environment or use default
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	dbPath := os.Getenv("PROCRUSTES_DB_PATH")
	if dbPath == "" {
		dbPath = defaultDBPath()
	}

	return Settings{
		LLM: LLMConfig{
			Provider:      provider,
			Model:         model,
			Endpoint:      os.Getenv("OLLAMA_HOST"),
			ContextLength: contextLength,
			MaxTokens:     maxTokens,
			Temperature:   temperature,
		},
		Sanitize: SanitizeConfig{
			ResponseReserve: responseReserve,
			MinChunkSize:    minChunk,
			MaxRetryDepth:   maxRetryDepth,
			RequestTimeout:  requestTimeout,
			ChunkTimeout:    chunkTimeout,
		},
		Session: SessionConfig{
			HeartbeatTimeout: heartbeatTimeout,
		},
		Storage: StorageConfig{
			DBPath: dbPath,
		},
	}, nil
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

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
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

// APIKeyFor returns the API key for a provider from environment variables.
// Providers that need no key return an empty string without error.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if info.apiKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
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

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// DBPath returns the cache database path from the environment or the
// default location. For callers that need no other settings.
func DBPath() string {
	if path := os.Getenv("PROCRUSTES_DB_PATH"); path != "" {
		return path
	}
	return defaultDBPath()
}

// defaultDBPath places the cache database under the user's home
// directory, falling back to the working directory.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "procrustes.db"
	}
	return filepath.Join(home, ".procrustes", "cache.db")
}

// Environment variable helpers with proper error handling

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

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
