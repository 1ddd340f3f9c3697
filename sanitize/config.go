// Configuration for sanitization runs.

package sanitize

import "time"

// bytesPerToken is the rough byte cost of one model token, used to turn
// a token window into a character budget. Deliberately coarse: the
// overflow retry path absorbs estimation error.
const bytesPerToken = 4

// Config holds the orchestration knobs for one run.
type Config struct {
	// ResponseReserve is the share of the context window, in bytes, held
	// back for the model's response.
	ResponseReserve int

	// MinChunkSize is the floor for the chunk budget in bytes. The
	// budget never drops below it, no matter how small the window or
	// how long the prompt.
	MinChunkSize int

	// MaxRetryDepth is how many times an overflowing chunk may be
	// halved before the overflow is surfaced. Zero disables retries.
	MaxRetryDepth int

	// RequestTimeout bounds the whole run. Zero means no bound.
	RequestTimeout time.Duration

	// ChunkTimeout bounds each provider call. Zero means no bound.
	ChunkTimeout time.Duration
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		ResponseReserve: 2048,
		MinChunkSize:    512,
		MaxRetryDepth:   2,
	}
}

// sanitized returns a copy with out-of-range values clamped.
func (c Config) sanitized() Config {
	if c.ResponseReserve < 0 {
		c.ResponseReserve = 0
	}
	if c.MinChunkSize < 1 {
		c.MinChunkSize = 1
	}
	if c.MaxRetryDepth < 0 {
		c.MaxRetryDepth = 0
	}
	return c
}
