// Package main provides the procrustes CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/richinex/procrustes/cli"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider string
	verbose  bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "procrustes",
		Short: "Stream long text through an LLM in context-sized chunks",
		Long: `Sanitize text that is too large for a single LLM call.

Input is split along natural boundaries (paragraphs, lines, sentences)
into chunks sized to the model's context window, streamed through the
model one chunk at a time, and rejoined. Chunks the model rejects as
too large are halved and retried. Results are cached locally so
repeated runs over the same input return instantly.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "ollama", "LLM provider (ollama, openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show progress and token usage on stderr")

	// Add commands
	rootCmd.AddCommand(sanitizeCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(cacheCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func sanitizeCmd() *cobra.Command {
	var prompt string
	var label string
	var noCache bool

	cmd := &cobra.Command{
		Use:   "sanitize [file]",
		Short: "Sanitize a file (or stdin) and stream the result to stdout",
		Long: `Sanitize a file and stream the cleaned text to stdout.

With no file argument, or with "-", reads from stdin. The model's
instruction can be replaced with --prompt; --label names the result in
the cache.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			opts := cli.Options{
				Provider: provider,
				Prompt:   prompt,
				Label:    label,
				NoCache:  noCache,
				Verbose:  verbose,
			}
			return cli.Sanitize(cmd.Context(), path, opts)
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Override the sanitization instruction")
	cmd.Flags().StringVar(&label, "label", "", "Label for the cached result (default: file base name)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the cache for this run")

	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show which LLM backends are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Providers(cmd.Context(), cli.Options{Verbose: verbose})
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local sanitization cache",
	}

	cmd.AddCommand(cacheListCmd())
	cmd.AddCommand(cacheSearchCmd())
	cmd.AddCommand(cacheClearCmd())

	return cmd
}

func cacheListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached sanitizations, most recently used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.CacheList(limit, cli.Options{Verbose: verbose})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 = all)")

	return cmd
}

func cacheSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [pattern]",
		Short: "Search cached outputs for a substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.CacheSearch(args[0], limit, cli.Options{Verbose: verbose})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum matches to show (0 = all)")

	return cmd
}

func cacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached sanitization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.CacheClear(cmd.Context(), cli.Options{Verbose: verbose})
		},
	}
}
