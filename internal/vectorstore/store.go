// Package vectorstore defines the persistent vector store boundary and a Qdrant REST client.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hyperjump/mondai/internal/models"
)

// ErrCollectionNotFound is returned when a collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Payload field names written with every chunk point.
const (
	FieldFilename = "filename"
	FieldPage     = "page"
	FieldChunkID  = "chunk_id"
	FieldLength   = "length"
	FieldText     = "text"
	FieldSourceID = "source_id"
)

// Payload is the JSON object stored next to a vector.
type Payload map[string]any

// Point is one vector with its id and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Record is a stored point without its vector.
type Record struct {
	ID      string
	Payload Payload
}

// ScoredRecord is a search hit.
type ScoredRecord struct {
	Record
	Score float64
}

// Filter is an equality condition on one payload field.
type Filter struct {
	Field string
	Value any
}

// Match returns a filter on field == value.
func Match(field string, value any) *Filter {
	return &Filter{Field: field, Value: value}
}

// VectorStore is an eventually consistent store of vectors with JSON payloads.
// Overwrites are best-effort delete-then-insert, not transactional.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string, dim int) error
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreatePayloadIndex(ctx context.Context, collection, field string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error
	// Scroll returns one page of records and the offset of the next page (nil when done).
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset any) ([]Record, any, error)
	Search(ctx context.Context, collection string, vector []float32, filter *Filter, k int) ([]ScoredRecord, error)
	Close() error
}

// ScrollAll pages through every record matching filter.
func ScrollAll(ctx context.Context, s VectorStore, collection string, filter *Filter, pageSize int) ([]Record, error) {
	var out []Record
	var offset any
	for {
		page, next, err := s.Scroll(ctx, collection, filter, pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == nil || len(page) == 0 {
			return out, nil
		}
		offset = next
	}
}

// EncodeChunk builds the payload stored for a chunk.
func EncodeChunk(c models.Chunk) Payload {
	return Payload{
		FieldFilename: c.Filename,
		FieldPage:     c.Page,
		FieldChunkID:  c.ChunkID,
		FieldLength:   c.Length,
		FieldText:     c.Text,
		FieldSourceID: c.SourceID(),
	}
}

// DecodePayload is the only place payloads are turned back into chunks. Numbers may
// arrive as float64 (JSON), json.Number, integers, or numeric strings. A payload
// without text is an error; other missing fields stay zero. The returned chunk ID is 0.
func DecodePayload(p Payload) (models.Chunk, error) {
	if p == nil {
		return models.Chunk{}, errors.New("empty payload")
	}
	text, ok := p[FieldText].(string)
	if !ok {
		return models.Chunk{}, fmt.Errorf("payload has no %q field", FieldText)
	}
	c := models.Chunk{Text: text}
	c.Filename, _ = p[FieldFilename].(string)
	c.Page = payloadInt(p[FieldPage])
	c.ChunkID = payloadInt(p[FieldChunkID])
	c.Length = payloadInt(p[FieldLength])
	if c.Length == 0 {
		c.Length = len([]rune(text))
	}
	return c, nil
}

func payloadInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case float32:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
