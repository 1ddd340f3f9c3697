// Orchestrator tests run against a scripted in-package provider; no
// network, no real backends.
package sanitize

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/richinex/procrustes/llm"
	"github.com/richinex/procrustes/splitter"
)

func TestMain(m *testing.M) {
	// The llm package links google.golang.org/genai, whose dependency
	// go.opencensus.io starts a global stats worker at init; it is not
	// a leak from code under test.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// mockProvider scripts backend behavior for orchestrator tests.
type mockProvider struct {
	contextTokens int
	unavailable   string
	respond       func(ctx context.Context, call int, req llm.Request) (llm.Result, error)

	mu       sync.Mutex
	calls    []string
	destroys int
}

func (m *mockProvider) Name() string  { return "mock" }
func (m *mockProvider) Model() string { return "mock-model" }

func (m *mockProvider) CheckAvailability(context.Context) llm.Availability {
	if m.unavailable != "" {
		return llm.Availability{Reason: m.unavailable}
	}
	return llm.Availability{Available: true}
}

func (m *mockProvider) ContextSize(context.Context) int { return m.contextTokens }

func (m *mockProvider) Call(ctx context.Context, req llm.Request) (llm.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.Text)
	call := len(m.calls)
	m.mu.Unlock()

	result, err := m.respond(ctx, call, req)
	if err != nil {
		return llm.Result{}, llm.Classify(m.Name(), err)
	}
	return result, nil
}

func (m *mockProvider) Destroy() error {
	m.mu.Lock()
	m.destroys++
	m.mu.Unlock()
	return nil
}

func (m *mockProvider) callTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockProvider) destroyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroys
}

var _ llm.Provider = (*mockProvider)(nil)

// upperEcho rewrites a chunk to upper case, streamed as two deltas.
func upperEcho(_ context.Context, _ int, req llm.Request) (llm.Result, error) {
	upper := strings.ToUpper(req.Text)
	if req.OnUpdate != nil {
		mid := len(upper) / 2
		if upper[:mid] != "" {
			req.OnUpdate(upper[:mid])
		}
		if upper[mid:] != "" {
			req.OnUpdate(upper[mid:])
		}
	}
	return llm.Result{Content: upper}, nil
}

// tightConfig removes the reserve so the budget equals the provider's
// byte window exactly.
func tightConfig() Config {
	return Config{ResponseReserve: 0, MinChunkSize: 1, MaxRetryDepth: 2}
}

func TestRunAggregatesChunksInOrder(t *testing.T) {
	// 10,000 chars against a 4,000-byte budget: three chunks.
	text := strings.Repeat("word ", 2000)
	provider := &mockProvider{contextTokens: 1000, respond: upperEcho}

	var deltas []string
	output, err := New(provider, tightConfig()).Run(context.Background(), Request{
		Text:     text,
		OnUpdate: func(d string) { deltas = append(deltas, d) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if output != strings.ToUpper(text) {
		t.Error("aggregate is not the concatenated chunk rewrites")
	}

	calls := provider.callTexts()
	if len(calls) != 3 {
		t.Fatalf("provider called %d times, want 3", len(calls))
	}
	if strings.Join(calls, "") != text {
		t.Error("chunk texts do not rejoin to the input")
	}
	for _, call := range calls {
		if len(call) > 4000 {
			t.Errorf("chunk of %d bytes exceeds the 4000-byte budget", len(call))
		}
	}

	// Deltas arrive in chunk order, emission order within each chunk.
	var want []string
	for _, chunk := range splitter.Split(text, 4000) {
		upper := strings.ToUpper(chunk.Text)
		mid := len(upper) / 2
		want = append(want, upper[:mid], upper[mid:])
	}
	if !reflect.DeepEqual(deltas, want) {
		t.Errorf("deltas out of order: got %d fragments", len(deltas))
	}
	if strings.Join(deltas, "") != output {
		t.Error("concatenated deltas do not equal the aggregate")
	}

	if provider.destroyCount() != 1 {
		t.Errorf("provider destroyed %d times, want 1", provider.destroyCount())
	}
}

func TestRunSmallInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"fits in one chunk", "hello world"},
		{"empty input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{contextTokens: 1000, respond: upperEcho}
			output, err := New(provider, tightConfig()).Run(context.Background(), Request{Text: tt.text})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if output != strings.ToUpper(tt.text) {
				t.Errorf("output = %q", output)
			}
			if n := len(provider.callTexts()); n != 1 {
				t.Errorf("provider called %d times, want 1", n)
			}
		})
	}
}

func TestRunUnavailableProvider(t *testing.T) {
	reason := "model 'llama3.2' is not installed; run: ollama pull llama3.2"
	provider := &mockProvider{contextTokens: 1000, unavailable: reason, respond: upperEcho}

	_, err := New(provider, tightConfig()).Run(context.Background(), Request{Text: "hello"})
	if !llm.IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if llm.UserMessage(err) != reason {
		t.Errorf("reason not surfaced verbatim: %q", llm.UserMessage(err))
	}
	if n := len(provider.callTexts()); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
	if provider.destroyCount() != 1 {
		t.Errorf("provider destroyed %d times, want 1", provider.destroyCount())
	}
}

func TestRunCancelBeforeStart(t *testing.T) {
	provider := &mockProvider{contextTokens: 1000, respond: upperEcho}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var deltas []string
	_, err := New(provider, tightConfig()).Run(ctx, Request{
		Text:     "hello world",
		OnUpdate: func(d string) { deltas = append(deltas, d) },
	})
	if !llm.IsCanceled(err) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if n := len(provider.callTexts()); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
	if len(deltas) != 0 {
		t.Errorf("deltas emitted after cancellation: %v", deltas)
	}
	if provider.destroyCount() != 1 {
		t.Errorf("provider destroyed %d times, want 1", provider.destroyCount())
	}
}

func TestRunCancelBetweenChunks(t *testing.T) {
	// 60 chars against a 20-byte budget: three chunks. The first call
	// succeeds and then fires the cancellation.
	text := strings.Repeat("word ", 12)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &mockProvider{
		contextTokens: 5,
		respond: func(_ context.Context, _ int, req llm.Request) (llm.Result, error) {
			if req.OnUpdate != nil {
				req.OnUpdate("one")
			}
			cancel()
			return llm.Result{Content: "one"}, nil
		},
	}

	var deltas []string
	_, err := New(provider, tightConfig()).Run(ctx, Request{
		Text:     text,
		OnUpdate: func(d string) { deltas = append(deltas, d) },
	})
	if !llm.IsCanceled(err) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if n := len(provider.callTexts()); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
	if want := []string{"one"}; !reflect.DeepEqual(deltas, want) {
		t.Errorf("deltas = %v, want %v", deltas, want)
	}
}

func TestRunOverflowSplitsAndRecovers(t *testing.T) {
	// One chunk that the backend rejects once; both halves succeed.
	text := strings.Repeat("word ", 100)
	provider := &mockProvider{
		contextTokens: 1000,
		respond: func(ctx context.Context, call int, req llm.Request) (llm.Result, error) {
			if call == 1 {
				return llm.Result{}, errors.New("context length exceeded")
			}
			return upperEcho(ctx, call, req)
		},
	}

	output, err := New(provider, tightConfig()).Run(context.Background(), Request{Text: text})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	calls := provider.callTexts()
	if len(calls) != 3 {
		t.Fatalf("provider called %d times, want 3 (full, then two halves)", len(calls))
	}
	if calls[0] != text {
		t.Error("first call was not the full chunk")
	}
	if calls[1]+calls[2] != text {
		t.Error("halves do not rejoin to the failing chunk")
	}
	if output != strings.ToUpper(calls[1])+strings.ToUpper(calls[2]) {
		t.Error("aggregate is not the concatenated half results")
	}
}

func TestRunOverflowDepthBounded(t *testing.T) {
	text := strings.Repeat("word ", 100)
	provider := &mockProvider{
		contextTokens: 1000,
		respond: func(context.Context, int, llm.Request) (llm.Result, error) {
			return llm.Result{}, errors.New("context length exceeded")
		},
	}

	_, err := New(provider, tightConfig()).Run(context.Background(), Request{Text: text})
	if !llm.IsOverflow(err) {
		t.Fatalf("err = %v, want overflow", err)
	}

	// Depth 0, then one half per level down to the depth bound.
	calls := provider.callTexts()
	if len(calls) != 3 {
		t.Fatalf("provider called %d times, want 3", len(calls))
	}
	if !(len(calls[2]) < len(calls[1]) && len(calls[1]) < len(calls[0])) {
		t.Errorf("chunks did not shrink: %d, %d, %d bytes", len(calls[0]), len(calls[1]), len(calls[2]))
	}
}

func TestRunTerminalErrorDiscardsPartial(t *testing.T) {
	text := strings.Repeat("word ", 12)
	provider := &mockProvider{
		contextTokens: 5,
		respond: func(ctx context.Context, call int, req llm.Request) (llm.Result, error) {
			if call == 1 {
				return upperEcho(ctx, call, req)
			}
			return llm.Result{}, errors.New("model exploded")
		},
	}

	output, err := New(provider, tightConfig()).Run(context.Background(), Request{Text: text})
	if err == nil {
		t.Fatal("Run succeeded past a terminal error")
	}
	if output != "" {
		t.Errorf("partial output survived the failure: %q", output)
	}
	if llm.KindOf(err) != llm.KindUnknown {
		t.Errorf("KindOf(err) = %v", llm.KindOf(err))
	}
	if llm.UserMessage(err) != "model exploded" {
		t.Errorf("UserMessage = %q", llm.UserMessage(err))
	}
	if n := len(provider.callTexts()); n != 2 {
		t.Errorf("provider called %d times, want 2 (no calls after the failure)", n)
	}
}

func TestRunChunkTimeout(t *testing.T) {
	provider := &mockProvider{
		contextTokens: 1000,
		respond: func(ctx context.Context, _ int, _ llm.Request) (llm.Result, error) {
			<-ctx.Done()
			return llm.Result{}, ctx.Err()
		},
	}

	config := tightConfig()
	config.ChunkTimeout = 25 * time.Millisecond
	_, err := New(provider, config).Run(context.Background(), Request{Text: "hello"})
	if !llm.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !strings.Contains(llm.UserMessage(err), "reducing the context length") {
		t.Errorf("UserMessage = %q", llm.UserMessage(err))
	}
}

func TestRunRequestTimeout(t *testing.T) {
	provider := &mockProvider{
		contextTokens: 1000,
		respond: func(ctx context.Context, _ int, _ llm.Request) (llm.Result, error) {
			<-ctx.Done()
			return llm.Result{}, ctx.Err()
		},
	}

	config := tightConfig()
	config.RequestTimeout = 25 * time.Millisecond
	_, err := New(provider, config).Run(context.Background(), Request{Text: "hello"})
	if !llm.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestRunBudgetFloor(t *testing.T) {
	// A 4-byte window minus a long prompt goes negative; the floor
	// keeps chunks usable.
	text := strings.Repeat("word ", 64)
	provider := &mockProvider{contextTokens: 1, respond: upperEcho}

	config := Config{ResponseReserve: 0, MinChunkSize: 64, MaxRetryDepth: 2}
	output, err := New(provider, config).Run(context.Background(), Request{
		Prompt: strings.Repeat("p", 100),
		Text:   text,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if output != strings.ToUpper(text) {
		t.Error("aggregate mismatch")
	}

	calls := provider.callTexts()
	if len(calls) != 6 {
		t.Errorf("provider called %d times, want 6", len(calls))
	}
	for _, call := range calls {
		if len(call) > 64 {
			t.Errorf("chunk of %d bytes exceeds the floor budget", len(call))
		}
	}
	if strings.Join(calls, "") != text {
		t.Error("chunk texts do not rejoin to the input")
	}
}

func TestRunProgressStatuses(t *testing.T) {
	text := strings.Repeat("word ", 12) // three chunks at budget 20
	provider := &mockProvider{contextTokens: 5, respond: upperEcho}

	var fractions []float64
	_, err := New(provider, tightConfig()).Run(context.Background(), Request{
		Text: text,
		OnStatus: func(s llm.Status) {
			if s.Progress != nil {
				fractions = append(fractions, *s.Progress)
			}
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []float64{0, 1.0 / 3.0, 2.0 / 3.0, 1}
	if !reflect.DeepEqual(fractions, want) {
		t.Errorf("progress fractions = %v, want %v", fractions, want)
	}
}

func TestRunReportsUsage(t *testing.T) {
	text := strings.Repeat("word ", 12) // three chunks at budget 20
	provider := &mockProvider{
		contextTokens: 5,
		respond: func(_ context.Context, _ int, req llm.Request) (llm.Result, error) {
			return llm.Result{
				Content: strings.ToUpper(req.Text),
				Usage:   &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
	}

	var reports int
	var total llm.TokenUsage
	_, err := New(provider, tightConfig()).Run(context.Background(), Request{
		Text: text,
		OnUsage: func(u llm.TokenUsage) {
			reports++
			total.PromptTokens += u.PromptTokens
			total.CompletionTokens += u.CompletionTokens
			total.TotalTokens += u.TotalTokens
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if reports != 3 {
		t.Errorf("usage reported %d times, want once per chunk", reports)
	}
	if total.TotalTokens != 45 {
		t.Errorf("total tokens = %d, want 45", total.TotalTokens)
	}
}

func TestRunDestroysProviderOnFailure(t *testing.T) {
	provider := &mockProvider{
		contextTokens: 1000,
		respond: func(context.Context, int, llm.Request) (llm.Result, error) {
			return llm.Result{}, errors.New("model exploded")
		},
	}

	_, err := New(provider, tightConfig()).Run(context.Background(), Request{Text: "hello"})
	if err == nil {
		t.Fatal("Run succeeded unexpectedly")
	}
	if provider.destroyCount() != 1 {
		t.Errorf("provider destroyed %d times, want 1", provider.destroyCount())
	}
}
