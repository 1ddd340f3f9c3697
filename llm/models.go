// Package llm provides shared data models for providers.
package llm

import (
	"github.com/richinex/procrustes/tools"
)

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// Status is a user-facing progress update emitted during a call.
type Status struct {
	Message  string
	Progress *float64 // fraction in [0,1]; nil when indeterminate
}

// IndeterminateStatus creates a status update without a progress value.
func IndeterminateStatus(message string) Status {
	return Status{Message: message}
}

// ProgressStatus creates a status update with a progress fraction.
func ProgressStatus(message string, fraction float64) Status {
	return Status{Message: message, Progress: &fraction}
}

// Request is a single generation request.
type Request struct {
	// Prompt is the instruction sent as the system message.
	Prompt string
	// Text is the content to transform.
	Text string
	// OnUpdate receives each streamed delta in emission order. Optional.
	OnUpdate func(delta string)
	// OnStatus receives lifecycle updates such as model loading or tool
	// execution. Optional.
	OnStatus func(status Status)
}

// Result is the outcome of a successful call.
type Result struct {
	Content string
	Usage   *TokenUsage
}

// ProviderSettings configures a backend instance. Settings are fixed at
// construction: changing the model or endpoint means building a new
// provider.
type ProviderSettings struct {
	// Endpoint overrides the backend's default base URL. Optional.
	Endpoint string
	// APIKey authenticates against remote backends. Ollama ignores it.
	APIKey string
	// Model is the model identifier to run.
	Model string
	// ContextLength, when positive, overrides context window detection.
	// Unit is tokens.
	ContextLength int
	// MaxTokens caps the response length per call.
	MaxTokens uint32
	// Temperature controls sampling randomness.
	Temperature float32
	// Tools, when non-nil and non-empty, lets the model invoke the
	// registered tools during generation.
	Tools *tools.Registry
	// ToolConfig tunes tool execution. The zero value is safe.
	ToolConfig tools.ToolConfig
}

// requestMessages expands a Request into the message list sent to a
// backend.
func requestMessages(req Request) []ChatMessage {
	var messages []ChatMessage
	if req.Prompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.Prompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.Text})
	return messages
}
