package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleMetadata() ToolMetadata {
	return ToolMetadata{
		Name:        "lookup",
		Description: "looks things up",
		Parameters: []ToolParameter{
			{Name: "query", ParamType: "string", Description: "what to look up", Required: true},
			{Name: "limit", ParamType: "integer", Description: "max results", Required: false},
			{Name: "exact", ParamType: "boolean", Description: "exact match only", Required: false},
		},
	}
}

func TestValidateArgs(t *testing.T) {
	meta := sampleMetadata()

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{
			name:    "all parameters valid",
			args:    `{"query":"go-radix","limit":5,"exact":true}`,
			wantErr: false,
		},
		{
			name:    "required only",
			args:    `{"query":"go-radix"}`,
			wantErr: false,
		},
		{
			name:    "missing required parameter",
			args:    `{"limit":5}`,
			wantErr: true,
		},
		{
			name:    "wrong type for string",
			args:    `{"query":42}`,
			wantErr: true,
		},
		{
			name:    "float where integer declared",
			args:    `{"query":"x","limit":1.5}`,
			wantErr: true,
		},
		{
			name:    "unknown parameter",
			args:    `{"query":"x","verbose":true}`,
			wantErr: true,
		},
		{
			name:    "not a JSON object",
			args:    `["query"]`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			args:    `{invalid}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(meta, json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgsEmptyPayload(t *testing.T) {
	meta := ToolMetadata{
		Name:       "noop",
		Parameters: []ToolParameter{{Name: "opt", ParamType: "string"}},
	}
	if err := ValidateArgs(meta, nil); err != nil {
		t.Errorf("empty payload with no required params should validate, got %v", err)
	}
}

func TestFuncToolExecute(t *testing.T) {
	tool := NewFuncTool("echo", "echoes input", []ToolParameter{
		{Name: "text", ParamType: "string", Required: true},
	}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		text, _ := args["text"].(string)
		return "echo: " + text, nil
	})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("Execute failed: %v", result.Error)
	}
	if result.Output != "echo: hello" {
		t.Errorf("Output = %q, want %q", result.Output, "echo: hello")
	}
}

func TestFuncToolExecuteFunctionError(t *testing.T) {
	wantErr := errors.New("backend unreachable")
	tool := NewFuncTool("failing", "always fails", nil,
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", wantErr
		})

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected a failed result")
	}
	if !errors.Is(result.Error, wantErr) {
		t.Errorf("result error = %v, want %v", result.Error, wantErr)
	}
}

func TestFuncToolValidateUsesSchema(t *testing.T) {
	tool := NewFuncTool("lookup", "looks things up", sampleMetadata().Parameters,
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", nil
		})

	if err := tool.Validate(json.RawMessage(`{"query":"x"}`)); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := tool.Validate(json.RawMessage(`{}`)); err == nil {
		t.Error("missing required parameter accepted")
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	echo := NewFuncTool("echo", "echoes", nil, nil)
	upper := NewFuncTool("upper", "uppercases", nil, nil)

	if err := registry.Register(echo); err != nil {
		t.Fatalf("Register(echo) error: %v", err)
	}
	if err := registry.Register(upper); err != nil {
		t.Fatalf("Register(upper) error: %v", err)
	}
	if err := registry.Register(echo); err == nil {
		t.Error("duplicate registration accepted")
	}

	if !registry.Has("echo") {
		t.Error("Has(echo) = false")
	}
	if _, found := registry.Get("missing"); found {
		t.Error("Get found an unregistered tool")
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "echo" || names[1] != "upper" {
		t.Errorf("Names() = %v, want [echo upper]", names)
	}
	if registry.Size() != 2 {
		t.Errorf("Size() = %d, want 2", registry.Size())
	}
}

func TestRegistryDescription(t *testing.T) {
	registry, err := NewRegistryWith(NewFuncTool("lookup", "looks things up",
		sampleMetadata().Parameters, nil))
	if err != nil {
		t.Fatalf("NewRegistryWith error: %v", err)
	}

	desc := registry.Description()
	if !strings.Contains(desc, "Tool: lookup") {
		t.Errorf("Description missing tool name, got: %s", desc)
	}
	if !strings.Contains(desc, "query (string)") {
		t.Errorf("Description missing parameter, got: %s", desc)
	}
	if !strings.Contains(desc, "[required]") {
		t.Errorf("Description missing required marker, got: %s", desc)
	}
}

// flakyTool fails a fixed number of times before succeeding and counts
// how often Execute is called.
type flakyTool struct {
	BaseTool
	failures int
	calls    int
}

func (f *flakyTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: "flaky", Description: "fails then succeeds"}
}

func (f *flakyTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return FailureResultf("connection refused on attempt %d", f.calls), nil
	}
	return SuccessResult("done"), nil
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	tool := &flakyTool{failures: 2}
	executor := NewExecutor(ToolConfig{MaxRetries: 3})

	result, err := executor.Execute(context.Background(), tool, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success after retries, got: %v", result.Error)
	}
	if tool.calls != 3 {
		t.Errorf("tool called %d times, want 3", tool.calls)
	}
}

func TestExecutorExhaustsRetries(t *testing.T) {
	tool := &flakyTool{failures: 10}
	executor := NewExecutor(ToolConfig{MaxRetries: 2})

	result, err := executor.Execute(context.Background(), tool, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure after exhausting retries")
	}
	if tool.calls != 2 {
		t.Errorf("tool called %d times, want 2", tool.calls)
	}
	if result.Error == nil || !strings.Contains(result.Error.Error(), "after 2 attempts") {
		t.Errorf("error should mention attempt count, got: %v", result.Error)
	}
}

func TestExecutorValidationFailureIsTerminal(t *testing.T) {
	tool := NewFuncTool("strict", "requires text", []ToolParameter{
		{Name: "text", ParamType: "string", Required: true},
	}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		t.Error("execution function called despite failed validation")
		return "", nil
	})
	executor := NewDefaultExecutor()

	result, err := executor.Execute(context.Background(), tool, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(result.Error.Error(), "validation failed") {
		t.Errorf("error = %v, want validation failure", result.Error)
	}
}

// permissionTool always fails with a non-retryable error.
type permissionTool struct {
	BaseTool
	calls int
}

func (p *permissionTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: "locked", Description: "always denied"}
}

func (p *permissionTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	p.calls++
	return FailureResultf("permission denied"), nil
}

func TestExecutorDoesNotRetryPermissionErrors(t *testing.T) {
	tool := &permissionTool{}
	executor := NewExecutor(ToolConfig{MaxRetries: 5})

	result, err := executor.Execute(context.Background(), tool, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure")
	}
	if tool.calls != 1 {
		t.Errorf("tool called %d times, want 1", tool.calls)
	}
}

func TestExecutorStopsOnCancelledBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tool := &flakyTool{failures: 10}
	executor := NewExecutor(ToolConfig{MaxRetries: 3})

	_, err := executor.Execute(ctx, tool, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute error = %v, want context.Canceled", err)
	}
	if tool.calls != 1 {
		t.Errorf("tool called %d times before cancellation, want 1", tool.calls)
	}
}

func TestExecuteOnceValidatesFirst(t *testing.T) {
	tool := NewFuncTool("strict", "requires text", []ToolParameter{
		{Name: "text", ParamType: "string", Required: true},
	}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "ran", nil
	})

	result, err := ExecuteOnce(context.Background(), tool, json.RawMessage(`{"wrong":1}`))
	if err != nil {
		t.Fatalf("ExecuteOnce returned error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected validation failure")
	}

	result, err = ExecuteOnce(context.Background(), tool, json.RawMessage(`{"text":"ok"}`))
	if err != nil {
		t.Fatalf("ExecuteOnce returned error: %v", err)
	}
	if !result.Success() || result.Output != "ran" {
		t.Errorf("result = (%q, %v), want (ran, nil)", result.Output, result.Error)
	}
}

func TestToolResultMarshalJSON(t *testing.T) {
	ok, err := json.Marshal(SuccessResult("all good"))
	if err != nil {
		t.Fatalf("marshal success result: %v", err)
	}
	if string(ok) != `{"success":true,"output":"all good"}` {
		t.Errorf("success JSON = %s", ok)
	}

	failed, err := json.Marshal(FailureResult(fmt.Errorf("boom")))
	if err != nil {
		t.Fatalf("marshal failure result: %v", err)
	}
	if string(failed) != `{"success":false,"output":"","error":"boom"}` {
		t.Errorf("failure JSON = %s", failed)
	}
}
