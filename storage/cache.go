// Cache implementation with SQLite persistence.
//
// Architecture:
// - In-memory: map for O(1) fingerprint lookup, Trie for label prefix
//   search, SuffixArray for output substring search
// - SQLite: CacheStorage for persistence across runs
package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/richinex/procrustes/internal/index"
)

// Cache holds completed sanitizations so a rerun over unchanged input
// returns instantly instead of paying for another model call.
type Cache struct {
	mu sync.RWMutex

	// In-memory indexes
	entries    map[string]*Entry   // fingerprint -> entry
	labelIndex *index.Trie[string] // label key -> fingerprint

	// Lazy-built suffix array for output search
	searchIndex   *index.SuffixArray
	searchContent string       // Concatenated outputs for search
	searchSpans   []searchSpan // Map positions back to entries
	searchDirty   bool         // Need to rebuild search index

	// SQLite storage for persistence (optional)
	db CacheStorage
}

// searchSpan maps suffix array positions to entries.
type searchSpan struct {
	fingerprint string
	start       int // Start position in concatenated content
	end         int // End position
}

// NewCache creates a cache with optional SQLite persistence.
//
// Ownership: Cache takes ownership of db. Calling Close() will close
// the db. If NewCache fails, the caller retains ownership of db and
// must close it.
func NewCache(db CacheStorage) (*Cache, error) {
	cache := &Cache{
		entries:     make(map[string]*Entry),
		labelIndex:  index.NewTrie[string](),
		searchDirty: true,
		db:          db,
	}

	if db != nil {
		if err := cache.loadFromStorage(); err != nil {
			return nil, fmt.Errorf("failed to load from SQLite: %w", err)
		}
	}

	return cache, nil
}

// NewInMemoryCache creates a cache without persistence.
func NewInMemoryCache() *Cache {
	return &Cache{
		entries:     make(map[string]*Entry),
		labelIndex:  index.NewTrie[string](),
		searchDirty: true,
	}
}

// Fingerprint derives the cache key for a sanitization from everything
// that determines its output. xxHash is non-cryptographic but ideal
// for cache keys (10-30x faster than SHA256).
func Fingerprint(prompt, model, text string) string {
	h := xxhash.Sum64String(prompt + "\x00" + model + "\x00" + text)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return hex.EncodeToString(buf[:])
}

// Put stores a completed sanitization. Storing the same fingerprint
// again refreshes the output and access tracking but keeps the
// original creation time.
func (c *Cache) Put(ctx context.Context, entry Entry) (Entry, error) {
	now := time.Now()

	c.mu.Lock()
	if prior, ok := c.entries[entry.Fingerprint]; ok {
		entry.CreatedAt = prior.CreatedAt
		entry.AccessCount = prior.AccessCount + 1
		if prior.Label != "" && prior.Label != entry.Label {
			c.labelIndex.Delete(labelKey(prior.Label, entry.Fingerprint))
		}
	} else {
		entry.CreatedAt = now
		entry.AccessCount = 1
	}
	entry.AccessedAt = now

	stored := entry
	c.entries[entry.Fingerprint] = &stored
	if entry.Label != "" {
		c.labelIndex.Insert(labelKey(entry.Label, entry.Fingerprint), entry.Fingerprint)
	}
	c.searchDirty = true
	c.mu.Unlock()

	// Persist outside the lock
	if c.db != nil {
		if err := c.db.PutEntry(ctx, entry); err != nil {
			return Entry{}, fmt.Errorf("failed to persist to SQLite: %w", err)
		}
	}

	return entry, nil
}

// Get retrieves an entry by fingerprint and updates access tracking.
// Returns nil, nil on a cache miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		c.mu.RUnlock()
		return nil, nil
	}
	snapshot := *entry
	c.mu.RUnlock()

	// Update access tracking under lock
	now := time.Now()
	c.mu.Lock()
	if e, ok := c.entries[fingerprint]; ok {
		e.AccessedAt = now
		e.AccessCount++
		snapshot.AccessedAt = now
		snapshot.AccessCount = e.AccessCount
	}
	c.mu.Unlock()

	// Update database access tracking (outside lock)
	if c.db != nil {
		if err := c.db.TouchEntry(ctx, fingerprint); err != nil {
			fmt.Fprintf(os.Stderr, "storage: failed to update access tracking: %v\n", err)
		}
	}

	return &snapshot, nil
}

// ByLabelPrefix returns entries whose label starts with prefix.
func (c *Cache) ByLabelPrefix(prefix string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := c.labelIndex.StartsWith(prefix)
	results := make([]Entry, 0, len(keys))
	for _, key := range keys {
		fingerprint, ok := c.labelIndex.Search(key)
		if !ok {
			continue
		}
		if entry, ok := c.entries[fingerprint]; ok {
			results = append(results, *entry)
		}
	}
	return results
}

// Search finds pattern across all cached outputs. A limit of 0 means
// no limit.
func (c *Cache) Search(pattern string, limit int) []SearchMatch {
	// Check if rebuild needed
	c.mu.RLock()
	needsRebuild := c.searchDirty
	c.mu.RUnlock()

	// Rebuild outside the read path (manages its own locking)
	if needsRebuild {
		c.rebuildSearchIndex()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.searchIndex == nil || len(c.searchContent) == 0 {
		return nil
	}

	positions := c.searchIndex.Search(pattern)

	var matches []SearchMatch
	for _, pos := range positions {
		if limit > 0 && len(matches) >= limit {
			break
		}

		// Find which entry this position belongs to
		for _, span := range c.searchSpans {
			if pos < span.start || pos >= span.end {
				continue
			}

			// Line number and context line, within this entry only
			lineNum := strings.Count(c.searchContent[span.start:pos], "\n") + 1

			lineStart := strings.LastIndex(c.searchContent[span.start:pos], "\n")
			if lineStart == -1 {
				lineStart = span.start
			} else {
				lineStart += span.start + 1
			}
			lineEnd := strings.Index(c.searchContent[pos:span.end], "\n")
			if lineEnd == -1 {
				lineEnd = span.end
			} else {
				lineEnd += pos
			}

			label := ""
			if entry, ok := c.entries[span.fingerprint]; ok {
				label = entry.Label
			}
			matches = append(matches, SearchMatch{
				Fingerprint: span.fingerprint,
				Label:       label,
				Position:    pos - span.start,
				Line:        lineNum,
				Context:     c.searchContent[lineStart:lineEnd],
			})
			break
		}
	}

	return matches
}

// List returns entries ordered most recently accessed first. A limit
// of 0 means no limit.
func (c *Cache) List(limit int) []Entry {
	c.mu.RLock()
	results := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		results = append(results, *entry)
	}
	c.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].AccessedAt.Equal(results[j].AccessedAt) {
			return results[i].AccessedAt.After(results[j].AccessedAt)
		}
		return results[i].Fingerprint < results[j].Fingerprint
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Delete removes an entry. Unknown fingerprints are a no-op.
func (c *Cache) Delete(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, fingerprint)
	if entry.Label != "" {
		c.labelIndex.Delete(labelKey(entry.Label, fingerprint))
	}
	c.searchDirty = true
	c.mu.Unlock()

	if c.db != nil {
		if err := c.db.DeleteEntry(ctx, fingerprint); err != nil {
			return fmt.Errorf("failed to delete from SQLite: %w", err)
		}
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.labelIndex = index.NewTrie[string]()
	c.searchIndex = nil
	c.searchContent = ""
	c.searchSpans = nil
	c.searchDirty = true
	c.mu.Unlock()

	if c.db != nil {
		if err := c.db.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear SQLite: %w", err)
		}
	}
	return nil
}

// Close releases resources including the CacheStorage.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.entries = nil
	c.labelIndex = nil
	c.searchIndex = nil
	c.searchContent = ""
	c.searchSpans = nil
	db := c.db
	c.db = nil
	c.mu.Unlock()

	if db != nil {
		if closer, ok := db.(interface{ Close() error }); ok {
			return closer.Close()
		}
	}
	return nil
}

// labelKey disambiguates entries sharing a label in the prefix index.
func labelKey(label, fingerprint string) string {
	return label + "\x00" + fingerprint
}

// rebuildSearchIndex rebuilds the suffix array over all outputs.
func (c *Cache) rebuildSearchIndex() {
	// Collect outputs under read lock
	type indexItem struct {
		fingerprint string
		output      string
	}
	var items []indexItem

	c.mu.RLock()
	for fingerprint, entry := range c.entries {
		items = append(items, indexItem{fingerprint: fingerprint, output: entry.Output})
	}
	c.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].fingerprint < items[j].fingerprint })

	// Build suffix array (compute-intensive but no locks needed)
	var contentBuilder strings.Builder
	var spans []searchSpan

	for _, item := range items {
		start := contentBuilder.Len()
		contentBuilder.WriteString(item.output)
		contentBuilder.WriteString("\x00")
		spans = append(spans, searchSpan{
			fingerprint: item.fingerprint,
			start:       start,
			end:         contentBuilder.Len() - 1,
		})
	}

	searchContent := contentBuilder.String()
	var searchIndex *index.SuffixArray
	if len(searchContent) > 0 {
		searchIndex = index.BuildSuffixArray(searchContent)
	}

	// Swap in under write lock
	c.mu.Lock()
	c.searchContent = searchContent
	c.searchIndex = searchIndex
	c.searchSpans = spans
	c.searchDirty = false
	c.mu.Unlock()
}

func (c *Cache) loadFromStorage() error {
	entries, err := c.db.LoadEntries(context.Background())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range entries {
		stored := entry
		c.entries[entry.Fingerprint] = &stored
		if entry.Label != "" {
			c.labelIndex.Insert(labelKey(entry.Label, entry.Fingerprint), entry.Fingerprint)
		}
	}
	return nil
}
