// Package retrieval provides the embedding index over a chunk store and the retrieval
// service that answers queries from it or from a vector store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/vector"
)

var (
	// ErrIndexNotReady is returned by Query before the first successful Build.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrEmptyStore is returned when building from a store without chunks.
	ErrEmptyStore = errors.New("chunk store is empty")
)

// generation is one published index: the chunks and the vectors built from them.
type generation struct {
	store *chunkstore.Store
	nn    vector.NearestNeighborIndex
}

// Index embeds a chunk store and answers top-k similarity queries over it.
// Build constructs a new generation off to the side and swaps it in under the write
// lock; queries hold the read lock and always see one complete generation.
type Index struct {
	embedder  embedding.Embedder
	indexType string
	logger    *zap.Logger

	mu  sync.RWMutex
	gen *generation
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithIndexLogger sets the index logger.
func WithIndexLogger(l *zap.Logger) IndexOption {
	return func(x *Index) { x.logger = l }
}

// WithIndexType selects the nearest-neighbor backend ("memory", "faiss", "auto").
func WithIndexType(t string) IndexOption {
	return func(x *Index) { x.indexType = t }
}

// NewIndex creates an empty index. It is not ready until Build succeeds.
func NewIndex(embedder embedding.Embedder, opts ...IndexOption) *Index {
	x := &Index{embedder: embedder, indexType: string(vector.IndexTypeAuto)}
	for _, opt := range opts {
		opt(x)
	}
	if x.logger == nil {
		x.logger = zap.NewNop()
	}
	return x
}

// Embedder returns the embedder used for chunks and queries.
func (x *Index) Embedder() embedding.Embedder {
	return x.embedder
}

// Build embeds every chunk, normalizes the vectors and publishes a new generation.
// On any error the previously published generation stays in place.
func (x *Index) Build(ctx context.Context, store *chunkstore.Store) error {
	if store.Len() == 0 {
		return ErrEmptyStore
	}
	vectors, err := x.embedder.EmbedBatch(ctx, store.Texts())
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != store.Len() {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), store.Len())
	}
	dims := len(vectors[0])
	if dims == 0 {
		return fmt.Errorf("embedder returned empty vectors")
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: chunk %d has %d, expected %d", vector.ErrDimensionMismatch, i, len(v), dims)
		}
		cp := append([]float32(nil), v...)
		embedding.NormalizeL2Slice(cp)
		normalized[i] = cp
	}

	nn, err := vector.NewIndex(x.indexType, dims)
	if err != nil {
		return err
	}
	if err := nn.Add(ctx, normalized); err != nil {
		_ = nn.Close()
		return fmt.Errorf("index vectors: %w", err)
	}

	x.mu.Lock()
	old := x.gen
	x.gen = &generation{store: store, nn: nn}
	x.mu.Unlock()

	if old != nil {
		_ = old.nn.Close()
	}
	x.logger.Info("embedding index built",
		zap.Int("chunks", store.Len()),
		zap.Int("dimensions", dims),
		zap.String("backend", nn.Type()))
	return nil
}

// Ready reports whether a generation has been published.
func (x *Index) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.gen != nil
}

// Store returns the chunk store of the published generation, or nil.
func (x *Index) Store() *chunkstore.Store {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.gen == nil {
		return nil
	}
	return x.gen.store
}

// Size returns the number of indexed chunks.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.gen == nil {
		return 0
	}
	return x.gen.nn.Size()
}

// Query returns up to k chunks most similar to text, by descending score with ties
// in insertion order.
func (x *Index) Query(ctx context.Context, text string, k int) ([]models.ScoredChunk, error) {
	if !x.Ready() {
		return nil, ErrIndexNotReady
	}
	q, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q = append([]float32(nil), q...)
	embedding.NormalizeL2Slice(q)
	return x.QueryVector(ctx, q, k)
}

// QueryVector searches with an already normalized query vector.
func (x *Index) QueryVector(ctx context.Context, q []float32, k int) ([]models.ScoredChunk, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.gen == nil {
		return nil, ErrIndexNotReady
	}
	hits, err := x.gen.nn.Search(ctx, q, k)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := x.gen.store.Get(h.Position)
		if !ok {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: h.Score})
	}
	return out, nil
}

// Close releases the published generation.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.gen == nil {
		return nil
	}
	err := x.gen.nn.Close()
	x.gen = nil
	return err
}
