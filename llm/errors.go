// Error classification for provider calls.
//
// Information Hiding:
// - Mapping from transport and SDK errors to error kinds
// - Overflow phrase heuristics
// - User-facing message rendering

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies a provider failure so callers can branch on
// behavior without parsing messages.
type ErrorKind string

const (
	// KindCanceled marks a call ended by the caller. Not a fault.
	KindCanceled ErrorKind = "canceled"
	// KindOverflow marks a rejected request that exceeded the model's
	// context window.
	KindOverflow ErrorKind = "context_overflow"
	// KindTimeout marks a call that ran out of time.
	KindTimeout ErrorKind = "timeout"
	// KindNetwork marks transport failures reaching the backend.
	KindNetwork ErrorKind = "network"
	// KindUnavailable marks a backend that refused to serve at all.
	KindUnavailable ErrorKind = "unavailable"
	// KindUnknown marks everything else.
	KindUnknown ErrorKind = "unknown"
)

// CallError is the error type returned by provider calls.
type CallError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *CallError) Unwrap() error {
	return e.Cause
}

// Unavailable creates an unavailability error carrying the reason
// reported by CheckAvailability, verbatim.
func Unavailable(provider, reason string) *CallError {
	return &CallError{Provider: provider, Kind: KindUnavailable, Message: reason}
}

// OverflowPhrases are the substrings that mark a backend error message
// as a context overflow. Matching is case-insensitive. Backends report
// overflows as free-form text, so this is a heuristic; deployments with
// unusual backends can append their own markers.
var OverflowPhrases = []string{
	"context length",
	"context window",
	"maximum context",
	"context overflow",
	"too many tokens",
	"prompt is too long",
	"input is too long",
	"input length exceeds",
	"n_ctx",
}

// IsOverflowMessage reports whether an error message looks like a
// context overflow.
func IsOverflowMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range OverflowPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// networkPhrases mark wire-level failures that arrive as plain strings.
var networkPhrases = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"unexpected eof",
}

// Classify wraps err in a CallError with the most specific kind that
// can be determined. A nil err stays nil; an existing CallError passes
// through unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}

	if kind == KindUnknown {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && IsOverflowMessage(apiErr.Message) {
			kind = KindOverflow
		}
	}

	if kind == KindUnknown && IsOverflowMessage(err.Error()) {
		kind = KindOverflow
	}

	if kind == KindUnknown {
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				kind = KindTimeout
			} else {
				kind = KindNetwork
			}
		}
	}

	if kind == KindUnknown {
		lower := strings.ToLower(err.Error())
		for _, phrase := range networkPhrases {
			if strings.Contains(lower, phrase) {
				kind = KindNetwork
				break
			}
		}
	}

	return &CallError{Provider: provider, Kind: kind, Message: err.Error(), Cause: err}
}

// KindOf returns the classification of err. Plain context errors are
// recognized even when they never passed through Classify.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsOverflow reports whether err is a context overflow.
func IsOverflow(err error) bool {
	return KindOf(err) == KindOverflow
}

// IsCanceled reports whether err represents caller cancellation.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsUnavailable reports whether err marks an unavailable backend.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

const timeoutUserMessage = "the request timed out; try reducing the context length setting or switching to a faster model"

// UserMessage renders err as a single line fit for end users: no stack
// traces and no wrapped error chains, with a suggestion where one helps.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		if errors.Is(err, context.DeadlineExceeded) {
			return timeoutUserMessage
		}
		return err.Error()
	}

	switch ce.Kind {
	case KindCanceled:
		return "sanitization canceled"
	case KindTimeout:
		return timeoutUserMessage
	case KindNetwork:
		return fmt.Sprintf("cannot reach the %s backend; check the endpoint and your network connection", ce.Provider)
	case KindUnavailable:
		return ce.Message
	case KindOverflow:
		return "the text does not fit the model's context window; lower the context length setting or use a model with a larger context"
	default:
		return ce.Message
	}
}
