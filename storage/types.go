// Cached sanitization types.
//
// Information Hiding:
// - Persistence layer details hidden behind CacheStorage
// - Index implementation details (Trie, SuffixArray) encapsulated
// - Fingerprinting and access tracking handled internally
package storage

import (
	"context"
	"time"
)

// Entry is one completed sanitization held in the cache.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`  // Hash of prompt, model, and input text
	Label       string    `json:"label"`        // Caller-chosen name, e.g. the source file
	Provider    string    `json:"provider"`     // Backend that produced the output
	Model       string    `json:"model"`        // Model id that produced the output
	InputBytes  int       `json:"input_bytes"`  // Size of the sanitized input
	Output      string    `json:"output"`       // Full sanitized text
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
}

// SearchMatch is one pattern occurrence inside a cached output.
type SearchMatch struct {
	Fingerprint string // Which entry the match is in
	Label       string // That entry's label
	Position    int    // Byte offset within the entry's output
	Line        int    // Line number (1-indexed)
	Context     string // The line containing the match
}

// CacheStorage persists cache entries and tracks access patterns.
type CacheStorage interface {
	// PutEntry stores or replaces an entry.
	PutEntry(ctx context.Context, entry Entry) error

	// LoadEntries loads every stored entry, most recently accessed
	// first.
	LoadEntries(ctx context.Context) ([]Entry, error)

	// TouchEntry updates access timestamp and count for an entry.
	TouchEntry(ctx context.Context, fingerprint string) error

	// DeleteEntry removes a specific entry.
	DeleteEntry(ctx context.Context, fingerprint string) error

	// DeleteAll removes every entry.
	DeleteAll(ctx context.Context) error
}
