// Package sanitize drives a full sanitization run: it sizes a chunk
// budget from the provider's context window, splits the input, streams
// each chunk through the provider in order, and aggregates the output.
//
// Information Hiding:
// - Budget math (token window to byte budget)
// - Chunk sequencing and progress reporting
// - Overflow recovery by recursive halving
// - Timeout layering over the caller's context

package sanitize

import (
	"context"
	"fmt"
	"strings"

	"github.com/richinex/procrustes/llm"
	"github.com/richinex/procrustes/splitter"
)

// Request describes one sanitization run.
type Request struct {
	// Prompt is the rewrite instruction sent with every chunk.
	Prompt string
	// Text is the full input.
	Text string
	// OnUpdate receives each streamed delta in emission order. Across
	// the run the concatenated deltas equal the returned output.
	// Optional.
	OnUpdate func(delta string)
	// OnStatus receives progress updates. Optional.
	OnStatus func(status llm.Status)
	// OnUsage receives per-call token usage as backends report it.
	// Optional.
	OnUsage func(usage llm.TokenUsage)
}

// Orchestrator runs sanitizations against one provider. Not safe for
// concurrent use - use separate instances for concurrent runs.
type Orchestrator struct {
	provider llm.Provider
	config   Config
}

// New creates an orchestrator. The orchestrator takes ownership of the
// provider: Run destroys it on every exit path.
func New(provider llm.Provider, config Config) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		config:   config.sanitized(),
	}
}

// Run sanitizes req.Text and returns the aggregated output. On failure
// the partial aggregate is discarded and a classified error is
// returned; cancellation surfaces as a canceled-kind error the caller
// is expected to swallow.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, error) {
	defer func() { _ = o.provider.Destroy() }()

	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return "", llm.Classify(o.provider.Name(), err)
	}

	avail := o.provider.CheckAvailability(ctx)
	if !avail.Available {
		return "", llm.Unavailable(o.provider.Name(), avail.Reason)
	}

	budget := o.chunkBudget(ctx, req.Prompt)
	chunks := splitter.Split(req.Text, budget)

	var output strings.Builder
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", llm.Classify(o.provider.Name(), err)
		}
		if req.OnStatus != nil {
			req.OnStatus(llm.ProgressStatus(
				fmt.Sprintf("chunk %d of %d", i+1, len(chunks)),
				float64(i)/float64(len(chunks)),
			))
		}

		part, err := o.processChunk(ctx, req, chunk.Text, 0)
		if err != nil {
			return "", err
		}
		output.WriteString(part)
	}

	if req.OnStatus != nil {
		req.OnStatus(llm.ProgressStatus("finished", 1))
	}
	return output.String(), nil
}

// chunkBudget converts the provider's token window into a byte budget
// for the splitter, leaving room for the prompt and the response.
func (o *Orchestrator) chunkBudget(ctx context.Context, prompt string) int {
	window := o.provider.ContextSize(ctx) * bytesPerToken
	budget := window - len(prompt) - o.config.ResponseReserve
	if budget < o.config.MinChunkSize {
		budget = o.config.MinChunkSize
	}
	return budget
}

// processChunk runs one chunk through the provider. An overflow
// rejection within the retry depth splits the chunk in half and
// processes each half one level deeper; their outputs concatenate in
// order. Any other error propagates unchanged.
func (o *Orchestrator) processChunk(ctx context.Context, req Request, text string, depth int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", llm.Classify(o.provider.Name(), err)
	}

	result, err := o.callProvider(ctx, req, text)
	if err == nil {
		if req.OnUsage != nil && result.Usage != nil {
			req.OnUsage(*result.Usage)
		}
		return result.Content, nil
	}
	if !llm.IsOverflow(err) || depth >= o.config.MaxRetryDepth {
		return "", err
	}

	// The budget estimate was too generous for this chunk; halve it.
	halves := splitter.Split(text, (len(text)+1)/2)
	var output strings.Builder
	for _, half := range halves {
		part, err := o.processChunk(ctx, req, half.Text, depth+1)
		if err != nil {
			return "", err
		}
		output.WriteString(part)
	}
	return output.String(), nil
}

// callProvider issues one provider call under the per-chunk timeout.
func (o *Orchestrator) callProvider(ctx context.Context, req Request, text string) (llm.Result, error) {
	if o.config.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.ChunkTimeout)
		defer cancel()
	}

	return o.provider.Call(ctx, llm.Request{
		Prompt:   req.Prompt,
		Text:     text,
		OnUpdate: req.OnUpdate,
		OnStatus: req.OnStatus,
	})
}
