// Command execution for CLI commands.
//
// Information Hiding:
// - Command dispatch logic hidden
// - Provider and cache setup hidden
// - Output formatting hidden

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinex/procrustes/config"
	"github.com/richinex/procrustes/llm"
	"github.com/richinex/procrustes/sanitize"
	"github.com/richinex/procrustes/session"
	"github.com/richinex/procrustes/storage"
)

// Options holds CLI execution options.
type Options struct {
	Provider string
	Prompt   string
	Label    string
	NoCache  bool
	Verbose  bool
}

// DefaultPrompt is the sanitization instruction used when none is
// given.
const DefaultPrompt = `Clean up the following text. Fix broken formatting, remove duplicated fragments and boilerplate, and normalize whitespace and punctuation. Preserve the original wording and meaning. Return only the cleaned text, with no commentary.`

// Sanitize runs one sanitization over a file (or stdin for "-") and
// streams the cleaned text to stdout. Cancellation via the context is
// not an error: the run stops quietly.
func Sanitize(ctx context.Context, path string, opts Options) error {
	text, label, err := readInput(path)
	if err != nil {
		return err
	}
	if opts.Label != "" {
		label = opts.Label
	}

	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}

	cache := openCache(opts, settings.Storage.DBPath)
	if cache != nil {
		defer func() { _ = cache.Close() }()
	}

	fingerprint := storage.Fingerprint(prompt, settings.LLM.Model, text)
	if cache != nil {
		if entry, err := cache.Get(ctx, fingerprint); err == nil && entry != nil {
			if opts.Verbose {
				fmt.Fprintf(os.Stderr, "cache hit %s (used %dx)\n", entry.Fingerprint, entry.AccessCount)
			}
			fmt.Print(entry.Output)
			if !strings.HasSuffix(entry.Output, "\n") {
				fmt.Println()
			}
			return nil
		}
	}

	provider, err := createProvider(settings)
	if err != nil {
		return err
	}

	coordinator := session.NewCoordinator(session.Config{
		HeartbeatTimeout: settings.Session.HeartbeatTimeout,
	})
	defer coordinator.Close()

	origin := label
	if origin == "" {
		origin = "stdin"
	}
	sess := coordinator.Begin(ctx, origin)
	defer coordinator.End(sess)

	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "sanitizing %d bytes with %s (%s)\n",
			len(text), settings.LLM.Provider, settings.LLM.Model)
	}

	var usage llm.TokenUsage
	orchestrator := sanitize.New(provider, sanitize.Config{
		ResponseReserve: settings.Sanitize.ResponseReserve,
		MinChunkSize:    settings.Sanitize.MinChunkSize,
		MaxRetryDepth:   settings.Sanitize.MaxRetryDepth,
		RequestTimeout:  settings.Sanitize.RequestTimeout,
		ChunkTimeout:    settings.Sanitize.ChunkTimeout,
	})

	output, err := orchestrator.Run(sess.Context(), sanitize.Request{
		Prompt: prompt,
		Text:   text,
		OnUpdate: func(delta string) {
			fmt.Print(delta)
		},
		OnStatus: func(status llm.Status) {
			if !opts.Verbose {
				return
			}
			if status.Progress != nil {
				fmt.Fprintf(os.Stderr, "%s (%.0f%%)\n", status.Message, *status.Progress*100)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", status.Message)
			}
		},
		OnUsage: func(u llm.TokenUsage) {
			usage.PromptTokens += u.PromptTokens
			usage.CompletionTokens += u.CompletionTokens
			usage.TotalTokens += u.TotalTokens
		},
	})
	if err != nil {
		if llm.IsCanceled(err) {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		return fmt.Errorf("%s", llm.UserMessage(err))
	}

	if !strings.HasSuffix(output, "\n") {
		fmt.Println()
	}

	if cache != nil {
		_, err := cache.Put(ctx, storage.Entry{
			Fingerprint: fingerprint,
			Label:       label,
			Provider:    settings.LLM.Provider,
			Model:       settings.LLM.Model,
			InputBytes:  len(text),
			Output:      output,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to cache result: %v\n", err)
		}
	}

	if opts.Verbose && usage.TotalTokens > 0 {
		fmt.Fprintf(os.Stderr, "tokens: %d prompt + %d completion = %d total\n",
			usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	}
	return nil
}

// Providers prints each backend's availability.
func Providers(ctx context.Context, opts Options) error {
	types := []llm.ProviderType{
		llm.ProviderOllama,
		llm.ProviderOpenAI,
		llm.ProviderAnthropic,
		llm.ProviderDeepSeek,
		llm.ProviderGemini,
	}

	for _, providerType := range types {
		provider, err := providerType.FromEnv()
		if err != nil {
			fmt.Printf("%-10s unavailable: %v\n", providerType, err)
			continue
		}

		avail := provider.CheckAvailability(ctx)
		if avail.Available {
			fmt.Printf("%-10s ready (%s)\n", providerType, provider.Model())
		} else {
			fmt.Printf("%-10s unavailable: %s\n", providerType, avail.Reason)
		}
		if opts.Verbose && providerType.EnvVar() != "" {
			fmt.Printf("           key from $%s\n", providerType.EnvVar())
		}
		_ = provider.Destroy()
	}
	return nil
}

// CacheList prints cached sanitizations, most recently used first.
func CacheList(limit int, opts Options) error {
	cache, err := openCacheAt(config.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	entries := cache.List(limit)
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	for _, entry := range entries {
		label := entry.Label
		if label == "" {
			label = "-"
		}
		fmt.Printf("%s  %-24s  %-16s  %8d bytes  used %dx  %s\n",
			entry.Fingerprint,
			truncateString(label, 24),
			truncateString(entry.Model, 16),
			len(entry.Output),
			entry.AccessCount,
			entry.AccessedAt.Format("2006-01-02 15:04"),
		)
		if opts.Verbose {
			preview := strings.ReplaceAll(entry.Output, "\n", " ")
			fmt.Printf("    %s\n", truncateString(preview, 100))
		}
	}
	return nil
}

// CacheSearch prints cached outputs containing pattern, grep-style.
func CacheSearch(pattern string, limit int, opts Options) error {
	cache, err := openCacheAt(config.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	matches := cache.Search(pattern, limit)
	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for _, match := range matches {
		name := match.Label
		if name == "" {
			name = match.Fingerprint
		}
		fmt.Printf("%s:%d: %s\n", name, match.Line, match.Context)
	}
	return nil
}

// CacheClear removes every cached sanitization.
func CacheClear(ctx context.Context, opts Options) error {
	cache, err := openCacheAt(config.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	count := cache.Len()
	if err := cache.Clear(ctx); err != nil {
		return err
	}
	fmt.Printf("Cleared %d cached sanitization(s).\n", count)
	return nil
}

// readInput loads the text to sanitize. "-" or an empty path reads
// stdin; the label defaults to the file's base name.
func readInput(path string) (text, label string, err error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), filepath.Base(path), nil
}

func createProvider(settings config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(settings.LLM.Model).
		Endpoint(settings.LLM.Endpoint).
		ContextLength(int(settings.LLM.ContextLength)).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}

// openCache opens the persistent cache, or returns nil when caching is
// disabled or unavailable. Cache failures degrade the run, never fail
// it.
func openCache(opts Options, dbPath string) *storage.Cache {
	if opts.NoCache {
		return nil
	}

	cache, err := openCacheAt(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cache disabled: %v\n", err)
		return nil
	}
	return cache
}

func openCacheAt(dbPath string) (*storage.Cache, error) {
	db, err := storage.OpenSqlite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	cache, err := storage.NewCache(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return cache, nil
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
