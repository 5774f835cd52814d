package retrieval

import (
	"context"
	"testing"

	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/vectorstore"
)

// fakeStore returns canned search hits and records the filter it was given.
type fakeStore struct {
	vectorstore.VectorStore
	hits       []vectorstore.ScoredRecord
	collection string
	filter     *vectorstore.Filter
}

func (f *fakeStore) Search(_ context.Context, collection string, _ []float32, filter *vectorstore.Filter, k int) ([]vectorstore.ScoredRecord, error) {
	f.collection = collection
	f.filter = filter
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func record(page, chunk int, text string, score float64) vectorstore.ScoredRecord {
	c := models.Chunk{Filename: "a.pdf", Page: page, ChunkID: chunk, Text: text}
	return vectorstore.ScoredRecord{Record: vectorstore.Record{Payload: vectorstore.EncodeChunk(c)}, Score: score}
}

func TestService_UnscopedUsesIndex(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(embedding.NewHashingEmbedder(32), WithIndexType("memory"))
	if err := x.Build(ctx, storeOf("rivers of europe", "mountains of asia")); err != nil {
		t.Fatal(err)
	}
	fs := &fakeStore{}
	s := NewService(x, WithVectorStore(fs, "geo"))
	hits, err := s.Retrieve(ctx, "rivers", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Chunk.Text != "rivers of europe" {
		t.Errorf("hits = %+v", hits)
	}
	if fs.filter != nil {
		t.Error("unscoped request reached the vector store")
	}
}

func TestService_ScopedUsesStoreAndSorts(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{hits: []vectorstore.ScoredRecord{
		record(3, 1, "third", 0.5),
		record(1, 2, "second", 0.9),
		record(1, 1, "first", 0.9),
		{Record: vectorstore.Record{ID: "junk", Payload: vectorstore.Payload{"page": 1}}, Score: 0.99},
	}}
	s := NewService(NewIndex(embedding.NewHashingEmbedder(8)), WithVectorStore(fs, "docs"))
	hits, err := s.WithCollection("other").Retrieve(ctx, "query", 10, "a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if fs.collection != "other" {
		t.Errorf("collection = %q", fs.collection)
	}
	if fs.filter == nil || fs.filter.Field != vectorstore.FieldFilename || fs.filter.Value != "a.pdf" {
		t.Errorf("filter = %+v", fs.filter)
	}
	want := []string{"first", "second", "third"}
	if len(hits) != len(want) {
		t.Fatalf("hits = %+v", hits)
	}
	for i, w := range want {
		if hits[i].Chunk.Text != w {
			t.Errorf("hit %d = %q, want %q", i, hits[i].Chunk.Text, w)
		}
	}
}

func TestContextBlocks(t *testing.T) {
	hits := []models.ScoredChunk{
		{Chunk: models.Chunk{Page: 2, Text: "alpha"}},
		{Chunk: models.Chunk{Page: 5, Text: "beta"}},
	}
	got := ContextBlocks(hits)
	if got != "[page 2] alpha\n\n[page 5] beta" {
		t.Errorf("got %q", got)
	}
	if ContextBlocks(nil) != "" {
		t.Error("no hits should give empty context")
	}
}
