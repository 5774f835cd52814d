// Package models defines core data structures for chunks, MCQs, validation records, and requests.
package models

import "fmt"

// Chunk is a bounded span of page text, the unit of retrieval.
type Chunk struct {
	ID       int    `json:"id"`
	Filename string `json:"filename,omitempty"`
	Page     int    `json:"page"`
	ChunkID  int    `json:"chunk_id"` // 1-based within page
	Text     string `json:"text"`
	Length   int    `json:"length"`
}

// SourceID returns "<filename>__p<page>__c<chunk_id>", the stable key of a stored chunk.
func (c Chunk) SourceID() string {
	return fmt.Sprintf("%s__p%d__c%d", c.Filename, c.Page, c.ChunkID)
}

// Before reports whether c comes before o in document order (page, then chunk).
func (c Chunk) Before(o Chunk) bool {
	if c.Page != o.Page {
		return c.Page < o.Page
	}
	return c.ChunkID < o.ChunkID
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// FileSummary describes one source file held in a vector store collection.
type FileSummary struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Pages    int    `json:"pages"`
}
