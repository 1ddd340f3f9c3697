// Anthropic backend using the official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the Anthropic Messages API
// - Streaming event handling via the official SDK

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/richinex/procrustes/tools"
)

// anthropicFallbackContextTokens matches the context window shared by
// current Claude models.
const anthropicFallbackContextTokens = 200000

// AnthropicProvider implements Provider for Anthropic Claude.
type AnthropicProvider struct {
	client     anthropic.Client
	httpClient *http.Client
	settings   ProviderSettings
	toolExec   *tools.Executor
	closeOnce  sync.Once
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(settings ProviderSettings) *AnthropicProvider {
	httpClient := &http.Client{}
	opts := []option.RequestOption{
		option.WithAPIKey(settings.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if settings.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(settings.Endpoint))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(opts...),
		httpClient: httpClient,
		settings:   settings,
		toolExec:   tools.NewExecutor(settings.ToolConfig),
	}
}

// Name returns the backend name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the configured model.
func (p *AnthropicProvider) Model() string {
	return p.settings.Model
}

// CheckAvailability verifies credentials are configured without making
// network calls.
func (p *AnthropicProvider) CheckAvailability(_ context.Context) Availability {
	if p.settings.APIKey == "" {
		return Availability{Reason: "anthropic API key is not configured"}
	}
	return Availability{Available: true}
}

// ContextSize returns the configured context length, or the Claude
// model family's known window.
func (p *AnthropicProvider) ContextSize(_ context.Context) int {
	if p.settings.ContextLength > 0 {
		return p.settings.ContextLength
	}
	return anthropicFallbackContextTokens
}

// Call runs one generation request, streaming deltas unless tools are
// configured.
func (p *AnthropicProvider) Call(ctx context.Context, req Request) (Result, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.settings.Model),
		MaxTokens:   int64(p.settings.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text))},
		Temperature: anthropic.Float(float64(p.settings.Temperature)),
	}
	if req.Prompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.Prompt},
		}
	}

	var result Result
	var err error
	if p.settings.Tools != nil && p.settings.Tools.Size() > 0 {
		result, err = p.callWithTools(ctx, params, req)
	} else {
		result, err = p.callStreaming(ctx, params, req)
	}
	if err != nil {
		return Result{}, Classify(p.Name(), err)
	}
	return result, nil
}

// Destroy drops pooled connections. Safe to call more than once.
func (p *AnthropicProvider) Destroy() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
	})
	return nil
}

// callStreaming drives one streaming message, forwarding text deltas.
func (p *AnthropicProvider) callStreaming(ctx context.Context, params anthropic.MessageNewParams, req Request) (Result, error) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	var content strings.Builder
	var usage *TokenUsage
	for stream.Next() {
		event := stream.Current()

		switch eventVariant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			// Input tokens arrive with the message start
			if eventVariant.Message.Usage.InputTokens > 0 {
				usage = &TokenUsage{
					PromptTokens: uint32(eventVariant.Message.Usage.InputTokens),
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text != "" {
					select {
					case <-ctx.Done():
						return Result{}, ctx.Err()
					default:
					}
					content.WriteString(deltaVariant.Text)
					if req.OnUpdate != nil {
						req.OnUpdate(deltaVariant.Text)
					}
				}
			}
		case anthropic.MessageDeltaEvent:
			// Output tokens arrive with the closing delta
			if eventVariant.Usage.OutputTokens > 0 {
				if usage == nil {
					usage = &TokenUsage{}
				}
				usage.CompletionTokens = uint32(eventVariant.Usage.OutputTokens)
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
		}
	}
	if stream.Err() != nil {
		return Result{}, fmt.Errorf("stream error: %w", stream.Err())
	}

	return Result{Content: content.String(), Usage: usage}, nil
}

// callWithTools resolves tool calls before producing the final answer,
// which is forwarded as a single delta.
func (p *AnthropicProvider) callWithTools(ctx context.Context, params anthropic.MessageNewParams, req Request) (Result, error) {
	params.Tools = convertToAnthropicTools(p.settings.Tools.List())

	var usage *TokenUsage
	for round := 0; round < maxToolRounds; round++ {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return Result{}, fmt.Errorf("message request failed: %w", err)
		}
		usage = addAnthropicUsage(usage, message.Usage)

		content := ""
		var toolUses []anthropic.ToolUseBlock
		for _, block := range message.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				content += variant.Text
			case anthropic.ToolUseBlock:
				toolUses = append(toolUses, variant)
			}
		}

		if len(toolUses) == 0 {
			if req.OnUpdate != nil && content != "" {
				req.OnUpdate(content)
			}
			return Result{Content: content, Usage: usage}, nil
		}

		params.Messages = append(params.Messages, message.ToParam())
		var results []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			if req.OnStatus != nil {
				req.OnStatus(IndeterminateStatus("running tool " + use.Name))
			}
			inputJSON, _ := json.Marshal(use.Input)
			output := dispatchToolCall(ctx, p.settings.Tools, p.toolExec, use.Name, string(inputJSON))
			results = append(results, anthropic.NewToolResultBlock(use.ID, output, false))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}

	return Result{}, fmt.Errorf("model did not finish after %d tool rounds", maxToolRounds)
}

// convertToAnthropicTools converts tool metadata to Anthropic format.
func convertToAnthropicTools(metas []tools.ToolMetadata) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(metas))
	for i, meta := range metas {
		properties := make(map[string]interface{}, len(meta.Parameters))
		var required []string
		for _, param := range meta.Parameters {
			paramType := param.ParamType
			if paramType == "" {
				paramType = "string"
			}
			prop := map[string]interface{}{"type": paramType}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}

		toolParam := anthropic.ToolParam{
			Name:        meta.Name,
			Description: anthropic.String(meta.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		}
		result[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return result
}

// addAnthropicUsage accumulates usage across tool rounds.
func addAnthropicUsage(total *TokenUsage, u anthropic.Usage) *TokenUsage {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return total
	}
	if total == nil {
		total = &TokenUsage{}
	}
	total.PromptTokens += uint32(u.InputTokens)
	total.CompletionTokens += uint32(u.OutputTokens)
	total.TotalTokens = total.PromptTokens + total.CompletionTokens
	return total
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
