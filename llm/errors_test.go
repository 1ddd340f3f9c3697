// Tests for error classification and user-facing messages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// fakeNetError implements net.Error for transport failure cases.
type fakeNetError struct {
	message string
	timeout bool
}

func (e *fakeNetError) Error() string   { return e.message }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"context canceled", context.Canceled, KindCanceled},
		{"wrapped cancel", fmt.Errorf("call failed: %w", context.Canceled), KindCanceled},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"overflow wording", errors.New("context length exceeded"), KindOverflow},
		{"openai overflow", errors.New("This model's maximum context length is 4096 tokens"), KindOverflow},
		{"anthropic overflow", errors.New("prompt is too long: 250000 tokens > 200000 maximum"), KindOverflow},
		{"llama cpp overflow", errors.New("llama runner error: n_ctx exceeded"), KindOverflow},
		{"api error overflow", &openai.APIError{HTTPStatusCode: 400, Message: "This model's maximum context length is 8192 tokens, however you requested 9000 tokens"}, KindOverflow},
		{"net timeout", &fakeNetError{message: "dial tcp 10.0.0.1:443: i/o timeout", timeout: true}, KindTimeout},
		{"net failure", &fakeNetError{message: "socket closed"}, KindNetwork},
		{"refused as string", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), KindNetwork},
		{"plain failure", errors.New("model exploded"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("ollama", tt.err)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(Classify(%q)) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if err := Classify("ollama", nil); err != nil {
		t.Errorf("Classify(nil) = %v, want nil", err)
	}
}

func TestClassifyPassesThroughCallErrors(t *testing.T) {
	orig := Unavailable("ollama", "server not running")
	got := Classify("openai", orig)
	if !errors.Is(got, orig) {
		t.Errorf("Classify rewrapped an existing CallError: %v", got)
	}
	if KindOf(got) != KindUnavailable {
		t.Error("classification changed on passthrough")
	}
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Classify("ollama", fmt.Errorf("call failed: %w", cause))

	if !errors.Is(err, cause) {
		t.Error("classified error lost its cause")
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("Classify returned %T, want *CallError", err)
	}
	if ce.Provider != "ollama" {
		t.Errorf("Provider = %q, want %q", ce.Provider, "ollama")
	}
	if ce.Message != "call failed: boom" {
		t.Errorf("Message = %q", ce.Message)
	}
}

func TestCallErrorString(t *testing.T) {
	err := &CallError{Provider: "ollama", Kind: KindUnknown, Message: "boom"}
	if err.Error() != "ollama: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	bare := &CallError{Message: "boom"}
	if bare.Error() != "boom" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestIsOverflowMessage(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"context length exceeded", true},
		{"Maximum CONTEXT length is 4096", true},
		{"too many tokens in request", true},
		{"the input length exceeds the context limit", true},
		{"rate limit exceeded", false},
		{"invalid api key", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsOverflowMessage(tt.message); got != tt.want {
			t.Errorf("IsOverflowMessage(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestKindHelpers(t *testing.T) {
	overflow := Classify("ollama", errors.New("context length exceeded"))
	if !IsOverflow(overflow) {
		t.Error("IsOverflow() = false for overflow error")
	}
	if IsCanceled(overflow) || IsTimeout(overflow) || IsUnavailable(overflow) {
		t.Error("overflow error matched an unrelated kind")
	}

	// Plain context errors are recognized without Classify.
	if !IsCanceled(context.Canceled) {
		t.Error("IsCanceled(context.Canceled) = false")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("IsTimeout(context.DeadlineExceeded) = false")
	}
	if !IsUnavailable(Unavailable("ollama", "down")) {
		t.Error("IsUnavailable() = false for Unavailable error")
	}
}

func TestUserMessage(t *testing.T) {
	reason := "model 'llama3.2' is not installed; run: ollama pull llama3.2"
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "canceled",
			err:  Classify("ollama", context.Canceled),
			want: "sanitization canceled",
		},
		{
			name: "timeout",
			err:  Classify("ollama", context.DeadlineExceeded),
			want: timeoutUserMessage,
		},
		{
			name: "plain deadline without classify",
			err:  context.DeadlineExceeded,
			want: timeoutUserMessage,
		},
		{
			name: "network names the backend",
			err:  Classify("ollama", &fakeNetError{message: "socket closed"}),
			want: "cannot reach the ollama backend; check the endpoint and your network connection",
		},
		{
			name: "unavailable reason is verbatim",
			err:  Unavailable("ollama", reason),
			want: reason,
		},
		{
			name: "overflow",
			err:  Classify("ollama", errors.New("context length exceeded")),
			want: "the text does not fit the model's context window; lower the context length setting or use a model with a larger context",
		},
		{
			name: "unknown keeps the raw message",
			err:  Classify("ollama", errors.New("model exploded")),
			want: "model exploded",
		},
		{
			name: "plain error passthrough",
			err:  errors.New("boom"),
			want: "boom",
		},
		{
			name: "nil",
			err:  nil,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
