// OpenAI-compatible chat backend using the go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the Chat Completions API
// - Streaming and tool-round mechanics via go-openai
//
// The same implementation serves every backend that speaks the OpenAI
// wire format; only the name, base URL, and context fallback differ.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	ijson "github.com/richinex/procrustes/internal/json"
	"github.com/richinex/procrustes/tools"
)

// openaiFallbackContextTokens is assumed when no context length is
// configured. Remote APIs do not expose the window, so this stays
// conservative.
const openaiFallbackContextTokens = 16384

// maxToolRounds bounds how many tool round-trips one call may take.
const maxToolRounds = 8

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints.
type OpenAIProvider struct {
	name            string
	client          *openai.Client
	httpClient      *http.Client
	settings        ProviderSettings
	toolExec        *tools.Executor
	fallbackContext int
	closeOnce       sync.Once
}

// NewOpenAIProvider creates a provider for the OpenAI API, or for any
// compatible endpoint when settings.Endpoint is set.
func NewOpenAIProvider(settings ProviderSettings) *OpenAIProvider {
	return newOpenAICompatible("openai", openaiFallbackContextTokens, settings)
}

func newOpenAICompatible(name string, fallbackContext int, settings ProviderSettings) *OpenAIProvider {
	httpClient := &http.Client{}
	config := openai.DefaultConfig(settings.APIKey)
	config.HTTPClient = httpClient
	if settings.Endpoint != "" {
		config.BaseURL = strings.TrimRight(settings.Endpoint, "/")
	}

	return &OpenAIProvider{
		name:            name,
		client:          openai.NewClientWithConfig(config),
		httpClient:      httpClient,
		settings:        settings,
		toolExec:        tools.NewExecutor(settings.ToolConfig),
		fallbackContext: fallbackContext,
	}
}

// Name returns the backend name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the configured model.
func (p *OpenAIProvider) Model() string {
	return p.settings.Model
}

// CheckAvailability verifies credentials are configured. It makes no
// network calls; auth or quota problems surface on the first request.
func (p *OpenAIProvider) CheckAvailability(_ context.Context) Availability {
	if p.settings.APIKey == "" {
		return Availability{Reason: fmt.Sprintf("%s API key is not configured", p.name)}
	}
	return Availability{Available: true}
}

// ContextSize returns the configured context length, or the remote
// fallback when none is declared.
func (p *OpenAIProvider) ContextSize(_ context.Context) int {
	if p.settings.ContextLength > 0 {
		return p.settings.ContextLength
	}
	return p.fallbackContext
}

// Call runs one generation request, streaming deltas unless tools are
// configured.
func (p *OpenAIProvider) Call(ctx context.Context, req Request) (Result, error) {
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
		return Result{}, Classify(p.name, err)
	}
	return result, nil
}

// Destroy drops pooled connections. Safe to call more than once.
func (p *OpenAIProvider) Destroy() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
	})
	return nil
}

// chatStream drives one streaming chat completion, forwarding deltas as
// they arrive. Cancellation is observed between deltas.
func chatStream(ctx context.Context, client *openai.Client, params openai.ChatCompletionRequest, req Request) (Result, error) {
	params.Stream = true
	params.StreamOptions = &openai.StreamOptions{
		IncludeUsage: true,
	}

	stream, err := client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var usage *TokenUsage
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("stream recv failed: %w", err)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		// Token usage arrives on the final chunk
		if response.Usage != nil {
			usage = &TokenUsage{
				PromptTokens:     uint32(response.Usage.PromptTokens),
				CompletionTokens: uint32(response.Usage.CompletionTokens),
				TotalTokens:      uint32(response.Usage.TotalTokens),
			}
		}

		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta.Content
			if delta != "" {
				content.WriteString(delta)
				if req.OnUpdate != nil {
					req.OnUpdate(delta)
				}
			}
		}
	}

	return Result{Content: content.String(), Usage: usage}, nil
}

// runToolRounds resolves tool calls before producing the final answer.
// Each round sends the conversation with tool definitions; when the
// model answers without requesting a tool, that answer is the result
// and is forwarded as a single delta.
func runToolRounds(ctx context.Context, client *openai.Client, params openai.ChatCompletionRequest, req Request, registry *tools.Registry, exec *tools.Executor) (Result, error) {
	params.Tools = convertToOpenAITools(registry.List())

	var usage *TokenUsage
	for round := 0; round < maxToolRounds; round++ {
		resp, err := client.CreateChatCompletion(ctx, params)
		if err != nil {
			return Result{}, fmt.Errorf("chat completion failed: %w", err)
		}
		usage = addUsage(usage, resp.Usage)

		if len(resp.Choices) == 0 {
			return Result{}, errors.New("chat completion returned no choices")
		}
		message := resp.Choices[0].Message

		if len(message.ToolCalls) == 0 {
			if req.OnUpdate != nil && message.Content != "" {
				req.OnUpdate(message.Content)
			}
			return Result{Content: message.Content, Usage: usage}, nil
		}

		params.Messages = append(params.Messages, message)
		for _, call := range message.ToolCalls {
			if req.OnStatus != nil {
				req.OnStatus(IndeterminateStatus("running tool " + call.Function.Name))
			}
			output := dispatchToolCall(ctx, registry, exec, call.Function.Name, call.Function.Arguments)
			params.Messages = append(params.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	return Result{}, fmt.Errorf("model did not finish after %d tool rounds", maxToolRounds)
}

// dispatchToolCall runs one tool invocation and renders the outcome as
// the JSON payload sent back to the model. Tool failures are reported
// to the model rather than failing the call.
func dispatchToolCall(ctx context.Context, registry *tools.Registry, exec *tools.Executor, name, rawArgs string) string {
	tool, ok := registry.Get(name)
	if !ok {
		return marshalToolResult(tools.FailureResultf("unknown tool '%s'", name))
	}

	args := json.RawMessage(rawArgs)
	if len(args) > 0 && !json.Valid(args) {
		// Models sometimes wrap arguments in fences or prose.
		if fixed, err := ijson.ExtractJSON(rawArgs); err == nil {
			args = json.RawMessage(fixed)
		}
	}

	result, err := exec.Execute(ctx, tool, args)
	if err != nil {
		result = tools.FailureResult(err)
	}
	return marshalToolResult(result)
}

// marshalToolResult renders a ToolResult for the model.
func marshalToolResult(result tools.ToolResult) string {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(payload)
}

// addUsage accumulates usage across tool rounds.
func addUsage(total *TokenUsage, u openai.Usage) *TokenUsage {
	if u.PromptTokens == 0 && u.TotalTokens == 0 {
		return total
	}
	if total == nil {
		total = &TokenUsage{}
	}
	total.PromptTokens += uint32(u.PromptTokens)
	total.CompletionTokens += uint32(u.CompletionTokens)
	total.TotalTokens += uint32(u.TotalTokens)
	return total
}

// convertToOpenAIMessages converts our ChatMessage to openai.ChatCompletionMessage
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

// convertToOpenAITools converts tool metadata to OpenAI format.
func convertToOpenAITools(metas []tools.ToolMetadata) []openai.Tool {
	result := make([]openai.Tool, len(metas))
	for i, meta := range metas {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        meta.Name,
				Description: meta.Description,
				Parameters:  toolSchema(meta),
			},
		}
	}
	return result
}

// toolSchema renders a tool's parameter list as a JSON Schema object.
func toolSchema(meta tools.ToolMetadata) map[string]interface{} {
	properties := make(map[string]interface{}, len(meta.Parameters))
	var required []string
	for _, p := range meta.Parameters {
		paramType := p.ParamType
		if paramType == "" {
			paramType = "string"
		}
		prop := map[string]interface{}{"type": paramType}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
