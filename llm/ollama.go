// Ollama on-device backend.
//
// Information Hiding:
// - Server discovery and model lifecycle via the native Ollama API
//   (/api/tags, /api/show, keep_alive unload)
// - Chat via Ollama's OpenAI-compatible /v1 endpoint through go-openai
// - Context window detection and caching

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/richinex/procrustes/tools"
)

const (
	defaultOllamaHost = "http://localhost:11434"

	// ollamaFallbackContextTokens is assumed when the server does not
	// report a context window for the model.
	ollamaFallbackContextTokens = 4096

	// ollamaProbeTimeout bounds the availability and detection probes so
	// a wedged server cannot stall the caller.
	ollamaProbeTimeout = 3 * time.Second

	// ollamaUnloadTimeout bounds the Destroy-time model unload.
	ollamaUnloadTimeout = 5 * time.Second
)

// OllamaProvider implements Provider for a local Ollama server.
type OllamaProvider struct {
	host       string
	client     *openai.Client
	httpClient *http.Client
	settings   ProviderSettings
	toolExec   *tools.Executor

	mu            sync.Mutex
	contextLength int // detected via /api/show, 0 until known

	loaded    atomic.Bool // model answered at least once
	closeOnce sync.Once
}

// NewOllamaProvider creates an Ollama provider. settings.Endpoint may
// stay empty; the conventional localhost server is the default.
func NewOllamaProvider(settings ProviderSettings) *OllamaProvider {
	host := settings.Endpoint
	if host == "" {
		host = defaultOllamaHost
	}
	host = strings.TrimRight(host, "/")

	httpClient := &http.Client{}
	config := openai.DefaultConfig(settings.APIKey)
	config.BaseURL = host + "/v1"
	config.HTTPClient = httpClient

	return &OllamaProvider{
		host:       host,
		client:     openai.NewClientWithConfig(config),
		httpClient: httpClient,
		settings:   settings,
		toolExec:   tools.NewExecutor(settings.ToolConfig),
	}
}

// Name returns the backend name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the configured model.
func (p *OllamaProvider) Model() string {
	return p.settings.Model
}

// CheckAvailability probes the server's model list. The probe is a
// plain GET: it does not load the model or start any generation.
func (p *OllamaProvider) CheckAvailability(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return Availability{Reason: fmt.Sprintf("invalid ollama host %q: %v", p.host, err)}
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Availability{Reason: fmt.Sprintf("ollama server not reachable at %s: %v", p.host, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Availability{Reason: fmt.Sprintf("ollama server at %s returned status %d", p.host, resp.StatusCode)}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return Availability{Reason: fmt.Sprintf("unexpected response from ollama server: %v", err)}
	}

	for _, m := range tags.Models {
		if m.Name == p.settings.Model || m.Name == p.settings.Model+":latest" {
			return Availability{Available: true}
		}
	}
	return Availability{Reason: fmt.Sprintf("model '%s' is not installed; run: ollama pull %s", p.settings.Model, p.settings.Model)}
}

// ContextSize returns the configured context length, the detected one,
// or the fallback when the server does not report a window. Successful
// detections are cached; failures are retried on the next call.
func (p *OllamaProvider) ContextSize(ctx context.Context) int {
	if p.settings.ContextLength > 0 {
		return p.settings.ContextLength
	}

	p.mu.Lock()
	cached := p.contextLength
	p.mu.Unlock()
	if cached > 0 {
		return cached
	}

	detected := p.detectContextLength(ctx)
	if detected <= 0 {
		return ollamaFallbackContextTokens
	}

	p.mu.Lock()
	p.contextLength = detected
	p.mu.Unlock()
	return detected
}

// detectContextLength asks /api/show for the model's context window.
// The value lives in model_info under "<architecture>.context_length".
func (p *OllamaProvider) detectContextLength(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"model": p.settings.Model})
	if err != nil {
		return 0
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/show", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var show struct {
		ModelInfo map[string]interface{} `json:"model_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return 0
	}
	for key, value := range show.ModelInfo {
		if strings.HasSuffix(key, ".context_length") {
			if length, ok := value.(float64); ok && length > 0 {
				return int(length)
			}
		}
	}
	return 0
}

// Call runs one generation request. The first call on a fresh provider
// reports a loading status, since the server may need to page the model
// into memory.
func (p *OllamaProvider) Call(ctx context.Context, req Request) (Result, error) {
	if req.OnStatus != nil && !p.loaded.Load() {
		req.OnStatus(IndeterminateStatus(fmt.Sprintf("loading model %s", p.settings.Model)))
	}

	params := openai.ChatCompletionRequest{
		Model:       p.settings.Model,
		Messages:    convertToOpenAIMessages(requestMessages(req)),
		MaxTokens:   int(p.settings.MaxTokens),
		Temperature: p.settings.Temperature,
	}

	var result Result
	var err error
	if p.settings.Tools != nil && p.settings.Tools.Size() > 0 {
		result, err = runToolRounds(ctx, p.client, params, req, p.settings.Tools, p.toolExec)
	} else {
		result, err = chatStream(ctx, p.client, params, req)
	}
	if err != nil {
		return Result{}, Classify(p.Name(), err)
	}

	p.loaded.Store(true)
	return result, nil
}

// Destroy asks the server to release the model's memory and drops
// pooled connections. Safe to call more than once.
func (p *OllamaProvider) Destroy() error {
	var err error
	p.closeOnce.Do(func() {
		if p.loaded.Load() {
			err = p.unloadModel()
		}
		p.httpClient.CloseIdleConnections()
	})
	return err
}

// unloadModel sends a zero keep_alive request, the documented way to
// evict a model without stopping the server.
func (p *OllamaProvider) unloadModel() error {
	ctx, cancel := context.WithTimeout(context.Background(), ollamaUnloadTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{
		"model":      p.settings.Model,
		"keep_alive": 0,
	})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to unload model: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Verify OllamaProvider implements Provider
var _ Provider = (*OllamaProvider)(nil)
