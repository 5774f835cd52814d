// Package chunkstore holds the ordered chunks of one indexed document.
package chunkstore

import (
	"github.com/hyperjump/mondai/internal/models"
)

// Store is an immutable, ordered set of chunks. Chunk IDs equal their position.
// Re-indexing builds a new Store rather than changing an existing one.
type Store struct {
	chunks []models.Chunk
}

// New copies chunks into a store, assigning IDs by position and filling in lengths.
func New(chunks []models.Chunk) *Store {
	out := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.ID = i
		if c.Length == 0 {
			c.Length = len([]rune(c.Text))
		}
		out[i] = c
	}
	return &Store{chunks: out}
}

// Len returns the number of chunks.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.chunks)
}

// Get returns the chunk at position i.
func (s *Store) Get(i int) (models.Chunk, bool) {
	if s == nil || i < 0 || i >= len(s.chunks) {
		return models.Chunk{}, false
	}
	return s.chunks[i], true
}

// All returns a copy of the chunks in store order.
func (s *Store) All() []models.Chunk {
	if s == nil {
		return nil
	}
	return append([]models.Chunk(nil), s.chunks...)
}

// Texts returns chunk texts in store order.
func (s *Store) Texts() []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.chunks[i].Text
	}
	return out
}

// Unit is a contiguous group of chunks used as one generation input.
type Unit struct {
	Page   int
	Chunks []models.Chunk
}

// Text joins the unit's chunk texts with blank lines.
func (u Unit) Text() string {
	var n int
	for _, c := range u.Chunks {
		n += len(c.Text) + 2
	}
	b := make([]byte, 0, n)
	for i, c := range u.Chunks {
		if i > 0 {
			b = append(b, '\n', '\n')
		}
		b = append(b, c.Text...)
	}
	return string(b)
}

// ChunkUnits returns one unit per chunk.
func (s *Store) ChunkUnits() []Unit {
	out := make([]Unit, s.Len())
	for i, c := range s.All() {
		out[i] = Unit{Page: c.Page, Chunks: []models.Chunk{c}}
	}
	return out
}

// PageUnits groups consecutive chunks of the same page.
func (s *Store) PageUnits() []Unit {
	var out []Unit
	for _, c := range s.All() {
		if n := len(out); n > 0 && out[n-1].Page == c.Page {
			out[n-1].Chunks = append(out[n-1].Chunks, c)
			continue
		}
		out = append(out, Unit{Page: c.Page, Chunks: []models.Chunk{c}})
	}
	return out
}
