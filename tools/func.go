// FuncTool adapts a plain function into a Tool.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolFunc is the execution function behind a FuncTool. Arguments
// arrive already decoded and validated against the declared schema.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// FuncTool wraps a function with a name, description, and parameter
// schema so applications can register callables without writing a full
// Tool implementation.
type FuncTool struct {
	meta ToolMetadata
	fn   ToolFunc
}

var _ Tool = (*FuncTool)(nil)

// NewFuncTool creates a tool from a function and its schema.
func NewFuncTool(name, description string, params []ToolParameter, fn ToolFunc) *FuncTool {
	return &FuncTool{
		meta: ToolMetadata{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		fn: fn,
	}
}

// Metadata returns the declared schema.
func (t *FuncTool) Metadata() ToolMetadata {
	return t.meta
}

// Validate checks arguments against the declared parameter schema.
func (t *FuncTool) Validate(args json.RawMessage) error {
	return ValidateArgs(t.meta, args)
}

// Execute decodes the arguments and invokes the wrapped function.
func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	if t.fn == nil {
		return FailureResultf("tool '%s' has no execution function", t.meta.Name), nil
	}

	parsed := make(map[string]interface{})
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}

	output, err := t.fn(ctx, parsed)
	if err != nil {
		return FailureResult(err), nil
	}
	return SuccessResult(output), nil
}
