// DeepSeek backend.
//
// DeepSeek speaks the OpenAI wire format, so the provider is the shared
// OpenAI-compatible implementation pointed at the DeepSeek endpoint.

package llm

const deepseekBaseURL = "https://api.deepseek.com/v1"

// deepseekFallbackContextTokens matches the published context window of
// the current DeepSeek chat models.
const deepseekFallbackContextTokens = 65536

// NewDeepSeekProvider creates a DeepSeek provider. settings.Endpoint
// may stay empty; the public API endpoint is the default.
func NewDeepSeekProvider(settings ProviderSettings) *OpenAIProvider {
	if settings.Endpoint == "" {
		settings.Endpoint = deepseekBaseURL
	}
	return newOpenAICompatible("deepseek", deepseekFallbackContextTokens, settings)
}
