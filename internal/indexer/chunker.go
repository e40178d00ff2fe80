// Package indexer turns upstream content into chunk texts: loading, normalizing, and chunking.
package indexer

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkSize is the chunk bound in characters when none is configured.
const DefaultMaxChunkSize = 500

// sentenceSeparator is the only sentence boundary recognized. Other terminators
// ("?", "!", newlines) do not split.
const sentenceSeparator = ". "

// Chunker packs sentences greedily into chunks of at most maxSize characters.
type Chunker struct {
	maxSize int
}

// NewChunker creates a chunker with the given bound in characters (runes).
// A non-positive bound uses DefaultMaxChunkSize.
func NewChunker(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	return &Chunker{maxSize: maxSize}
}

// MaxSize returns the configured bound.
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// Chunk splits text into chunks. Sentences are never cut: a chunk is closed as soon as
// the next sentence would push it past the bound, and a sentence longer than the bound
// becomes a chunk of its own. Whitespace-only text yields nil.
func (c *Chunker) Chunk(text string) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	var chunks []string
	var current []string
	size := 0
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		// one space joins a sentence to the previous one in the same chunk
		if len(current) > 0 && size+1+n > c.maxSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			size = 0
		}
		if len(current) > 0 {
			size++
		}
		current = append(current, s)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// SplitSentences normalizes text and splits it on ". ". Every sentence except the last
// gets its period back; the last is kept as written. Empty sentences are dropped.
func SplitSentences(text string) []string {
	text = Preprocess(text)
	if text == "" {
		return nil
	}
	parts := strings.Split(text, sentenceSeparator)
	sentences := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(parts)-1 {
			p += "."
		}
		sentences = append(sentences, p)
	}
	return sentences
}

// ChunkAll chunks each document in order and concatenates the results.
func (c *Chunker) ChunkAll(docs []string) []string {
	var out []string
	for _, d := range docs {
		out = append(out, c.Chunk(d)...)
	}
	return out
}
