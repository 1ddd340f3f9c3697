// Package splitter divides long text into bounded chunks along natural
// separator boundaries.
//
// Information Hiding:
// - Separator cascade and merge strategy hidden behind Split
// - Hard-slice fallback details hidden
package splitter

import (
	"strings"
	"unicode/utf8"
)

// separators is the split-point cascade, in priority order: paragraph
// break, line break, sentence end, word boundary.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunk is an immutable segment of the original text plus its ordinal
// position in the split sequence.
type Chunk struct {
	Text  string
	Index int
}

// Split divides text into ordered chunks of at most maxChars bytes each.
// Separators stay attached to the chunk they terminate, so concatenating
// the chunk texts in order reproduces the input exactly. Text that fits
// the bound comes back as a single chunk. A bound below 1 is treated
// as 1.
//
// Split is pure: the same input always yields the same chunks.
func Split(text string, maxChars int) []Chunk {
	if maxChars < 1 {
		maxChars = 1
	}
	parts := split(text, maxChars, 0)
	chunks := make([]Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = Chunk{Text: part, Index: i}
	}
	return chunks
}

// Join reassembles chunks into the text they were split from.
func Join(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

// split applies the separator cascade starting at the given level.
// Levels only ever advance: a piece that cannot be bounded at one level
// is retried at the next, and after the last level comes the hard slice.
func split(text string, maxChars, level int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}
	for i := level; i < len(separators); i++ {
		if !strings.Contains(text, separators[i]) {
			continue
		}
		pieces := strings.SplitAfter(text, separators[i])
		return merge(pieces, maxChars, i)
	}
	return hardSlice(text, maxChars)
}

// merge greedily packs adjacent pieces into the largest chunk that still
// fits the bound. A piece that alone exceeds the bound is re-split at
// the next separator level. Order and adjacency are preserved, so every
// chunk boundary falls on a separator boundary.
func merge(pieces []string, maxChars, level int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		if len(piece) > maxChars {
			flush()
			chunks = append(chunks, split(piece, maxChars, level+1)...)
			continue
		}
		if current.Len()+len(piece) > maxChars {
			flush()
		}
		current.WriteString(piece)
	}
	flush()

	return chunks
}

// hardSlice cuts text into fixed-width chunks with no regard for
// semantic boundaries. Cuts land on rune boundaries unless a single
// rune is wider than the bound.
func hardSlice(text string, maxChars int) []string {
	var chunks []string
	for len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChars
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
