// Google Gemini backend using the official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for the Gemini API
// - System instruction handling via config
// - Streaming via the SDK's iterator

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/richinex/procrustes/tools"
)

// geminiFallbackContextTokens matches the 1M token window of current
// Gemini models.
const geminiFallbackContextTokens = 1048576

// GeminiProvider implements Provider for Google Gemini.
type GeminiProvider struct {
	client     *genai.Client
	httpClient *http.Client
	settings   ProviderSettings
	toolExec   *tools.Executor
	initErr    error // client initialization error, reported by CheckAvailability
	closeOnce  sync.Once
}

// NewGeminiProvider creates a new Gemini provider. If client
// initialization fails, the error is stored and surfaced through
// CheckAvailability and the first call.
func NewGeminiProvider(settings ProviderSettings) *GeminiProvider {
	httpClient := &http.Client{}
	provider := &GeminiProvider{
		httpClient: httpClient,
		settings:   settings,
		toolExec:   tools.NewExecutor(settings.ToolConfig),
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     settings.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		provider.initErr = fmt.Errorf("failed to initialize gemini client: %w", err)
		return provider
	}

	provider.client = client
	return provider
}

// Name returns the backend name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the configured model.
func (p *GeminiProvider) Model() string {
	return p.settings.Model
}

// CheckAvailability verifies credentials are configured and the client
// initialized, without making network calls.
func (p *GeminiProvider) CheckAvailability(_ context.Context) Availability {
	if p.initErr != nil {
		return Availability{Reason: p.initErr.Error()}
	}
	if p.settings.APIKey == "" {
		return Availability{Reason: "gemini API key is not configured"}
	}
	return Availability{Available: true}
}

// ContextSize returns the configured context length, or the Gemini
// model family's known window.
func (p *GeminiProvider) ContextSize(_ context.Context) int {
	if p.settings.ContextLength > 0 {
		return p.settings.ContextLength
	}
	return geminiFallbackContextTokens
}

// Call runs one generation request, streaming deltas unless tools are
// configured.
func (p *GeminiProvider) Call(ctx context.Context, req Request) (Result, error) {
	if p.initErr != nil {
		return Result{}, Classify(p.Name(), p.initErr)
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.settings.Temperature),
		MaxOutputTokens: int32(p.settings.MaxTokens),
	}
	if req.Prompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Prompt, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)}

	var result Result
	var err error
	if p.settings.Tools != nil && p.settings.Tools.Size() > 0 {
		result, err = p.callWithTools(ctx, contents, config, req)
	} else {
		result, err = p.callStreaming(ctx, contents, config, req)
	}
	if err != nil {
		return Result{}, Classify(p.Name(), err)
	}
	return result, nil
}

// Destroy drops pooled connections. The genai client has no close of
// its own. Safe to call more than once.
func (p *GeminiProvider) Destroy() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
	})
	return nil
}

// callStreaming drives one streaming generation, forwarding text deltas.
func (p *GeminiProvider) callStreaming(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, req Request) (Result, error) {
	var content strings.Builder
	var usage *TokenUsage

	// GenerateContentStream returns iter.Seq2[*GenerateContentResponse, error]
	for response, err := range p.client.Models.GenerateContentStream(ctx, p.settings.Model, contents, config) {
		if err != nil {
			return Result{}, fmt.Errorf("stream error: %w", err)
		}

		if response.UsageMetadata != nil {
			usage = &TokenUsage{
				PromptTokens:     uint32(response.UsageMetadata.PromptTokenCount),
				CompletionTokens: uint32(response.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      uint32(response.UsageMetadata.TotalTokenCount),
			}
		}

		text := response.Text()
		if text != "" {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			content.WriteString(text)
			if req.OnUpdate != nil {
				req.OnUpdate(text)
			}
		}
	}

	return Result{Content: content.String(), Usage: usage}, nil
}

// callWithTools resolves function calls before producing the final
// answer, which is forwarded as a single delta.
func (p *GeminiProvider) callWithTools(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, req Request) (Result, error) {
	config.Tools = convertToGeminiTools(p.settings.Tools.List())

	var usage *TokenUsage
	for round := 0; round < maxToolRounds; round++ {
		response, err := p.client.Models.GenerateContent(ctx, p.settings.Model, contents, config)
		if err != nil {
			return Result{}, fmt.Errorf("generation failed: %w", err)
		}
		if response.UsageMetadata != nil {
			usage = addGeminiUsage(usage, response.UsageMetadata)
		}
		if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
			return Result{}, fmt.Errorf("empty response from gemini")
		}
		candidate := response.Candidates[0].Content

		content := ""
		var calls []*genai.FunctionCall
		for _, part := range candidate.Parts {
			if part.Text != "" {
				content += part.Text
			}
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			}
		}

		if len(calls) == 0 {
			if req.OnUpdate != nil && content != "" {
				req.OnUpdate(content)
			}
			return Result{Content: content, Usage: usage}, nil
		}

		contents = append(contents, candidate)
		reply := &genai.Content{Role: genai.RoleUser} // Gemini expects tool results as user
		for _, call := range calls {
			if req.OnStatus != nil {
				req.OnStatus(IndeterminateStatus("running tool " + call.Name))
			}
			argsJSON, _ := json.Marshal(call.Args)
			output := dispatchToolCall(ctx, p.settings.Tools, p.toolExec, call.Name, string(argsJSON))
			reply.Parts = append(reply.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     call.Name,
					Response: map[string]any{"result": output},
				},
			})
		}
		contents = append(contents, reply)
	}

	return Result{}, fmt.Errorf("model did not finish after %d tool rounds", maxToolRounds)
}

// convertToGeminiTools converts tool metadata to Gemini format.
func convertToGeminiTools(metas []tools.ToolMetadata) []*genai.Tool {
	if len(metas) == 0 {
		return nil
	}

	var declarations []*genai.FunctionDeclaration
	for _, meta := range metas {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(meta.Parameters)),
		}
		for _, param := range meta.Parameters {
			prop := &genai.Schema{
				Type:        mapToGeminiType(param.ParamType),
				Description: param.Description,
			}
			// Gemini requires 'items' for arrays
			if prop.Type == genai.TypeArray {
				prop.Items = &genai.Schema{Type: genai.TypeString}
			}
			schema.Properties[param.Name] = prop
			if param.Required {
				schema.Required = append(schema.Required, param.Name)
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  schema,
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// mapToGeminiType maps JSON schema type to Gemini type.
func mapToGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer", "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// addGeminiUsage accumulates usage across tool rounds.
func addGeminiUsage(total *TokenUsage, meta *genai.GenerateContentResponseUsageMetadata) *TokenUsage {
	if total == nil {
		total = &TokenUsage{}
	}
	total.PromptTokens += uint32(meta.PromptTokenCount)
	total.CompletionTokens += uint32(meta.CandidatesTokenCount)
	total.TotalTokens += uint32(meta.TotalTokenCount)
	return total
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)
