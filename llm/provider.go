// Package llm provides the model-backend abstraction for sanitization
// calls.
//
// Each backend implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Streaming transport details
// - Provider-specific error shapes (normalized via Classify)

package llm

import (
	"context"
)

// Availability is the result of a cheap backend probe.
type Availability struct {
	Available bool
	Reason    string // why the backend cannot serve; empty when Available
}

// Provider is the abstract interface over model backends. A provider is
// owned by exactly one sanitization run, which must call Destroy when
// done; Destroy is safe to call more than once.
//
// Backends differ only in where their context size comes from: a
// declared setting, a detected value, or a hard-coded fallback. Callers
// never branch on the backend identity.
type Provider interface {
	// Name returns the backend name (for messages and logging).
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// CheckAvailability cheaply probes whether the backend can serve
	// requests. It performs no generation and has no side effects.
	CheckAvailability(ctx context.Context) Availability

	// ContextSize returns the model's context window in tokens. It
	// never fails: an explicitly configured size wins, otherwise the
	// backend's detected or known size, otherwise a fallback.
	ContextSize(ctx context.Context) int

	// Call runs one generation request, forwarding streamed deltas to
	// req.OnUpdate in emission order. On success the concatenation of
	// the forwarded deltas equals Result.Content. Errors are classified
	// (see CallError); cancellation is observed between deltas.
	Call(ctx context.Context, req Request) (Result, error)

	// Destroy releases backend resources (connections, loaded models).
	Destroy() error
}
