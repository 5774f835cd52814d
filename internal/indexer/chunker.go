// Package indexer turns documents into chunks and moves them in and out of a vector store.
package indexer

import (
	"strings"

	"github.com/hyperjump/mondai/internal/extract"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/pkg/utils"
)

// Default chunking parameters, in characters.
const (
	DefaultMaxChars = 1200
	DefaultOverlap  = 100
)

// Chunker splits page text into sentence-aligned chunks of at most maxChars
// characters. When a chunk closes, the last overlap characters carry over into
// the next one. Sentences longer than maxChars are hard-split.
type Chunker struct {
	maxChars int
	overlap  int
}

// NewChunker creates a chunker. Non-positive maxChars uses DefaultMaxChars; negative overlap is 0.
func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}
}

// MaxChars returns the chunk size limit.
func (c *Chunker) MaxChars() int { return c.maxChars }

// Split returns the chunks of one text. Empty text gives nil.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utils.RuneLen(text) <= c.maxChars {
		return []string{text}
	}

	var chunks []string
	cur := ""
	for _, s := range utils.SplitSentences(text) {
		if utils.RuneLen(cur)+utils.RuneLen(s)+1 <= c.maxChars {
			if cur != "" {
				cur += " "
			}
			cur += s
			continue
		}
		if cur != "" {
			chunks = append(chunks, cur)
		}
		if c.overlap > 0 && cur != "" {
			cur = utils.Tail(cur, c.overlap) + " " + s
		} else {
			cur = s
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}

	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		r := []rune(ch)
		if len(r) <= c.maxChars {
			out = append(out, ch)
			continue
		}
		for i := 0; i < len(r); i += c.maxChars {
			end := min(i+c.maxChars, len(r))
			out = append(out, string(r[i:end]))
		}
	}
	return out
}

// Chunk splits every page and numbers chunks from 1 within each page.
// Page text is normalized with Preprocess first; empty pages contribute nothing.
func (c *Chunker) Chunk(filename string, pages []extract.Page) []models.Chunk {
	var out []models.Chunk
	for _, p := range pages {
		for i, text := range c.Split(Preprocess(p.Text)) {
			out = append(out, models.Chunk{
				Filename: filename,
				Page:     p.Number,
				ChunkID:  i + 1,
				Text:     text,
				Length:   utils.RuneLen(text),
			})
		}
	}
	return out
}
