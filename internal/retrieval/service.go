package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/vectorstore"
)

// Retriever returns the chunks most relevant to a query. A non-empty scope restricts
// results to one stored file.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, scope string) ([]models.ScoredChunk, error)
}

// Service answers retrieval requests from the local index or, for scoped requests
// when a vector store is configured, from the store.
type Service struct {
	index      *Index
	store      vectorstore.VectorStore
	collection string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

var _ Retriever = (*Service)(nil)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithVectorStore routes scoped requests to collection in store.
func WithVectorStore(store vectorstore.VectorStore, collection string) ServiceOption {
	return func(s *Service) {
		s.store = store
		s.collection = collection
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithServiceMetrics records retrieval latency.
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a retrieval service over index.
func NewService(index *Index, opts ...ServiceOption) *Service {
	s := &Service{index: index}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Index returns the local embedding index.
func (s *Service) Index() *Index {
	return s.index
}

// WithCollection returns a copy of the service scoped to another collection.
func (s *Service) WithCollection(collection string) *Service {
	cp := *s
	cp.collection = collection
	return &cp
}

// Retrieve returns up to topK chunks for query. When scope is set and a vector store is
// configured, the store is searched with filename == scope; otherwise the local index
// answers. Results are ordered by score descending, then document order.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, scope string) ([]models.ScoredChunk, error) {
	start := time.Now()
	if scope == "" || s.store == nil {
		hits, err := s.index.Query(ctx, query, topK)
		s.metrics.ObserveRetrieval("index", start)
		return hits, err
	}

	q, err := s.index.Embedder().Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q = append([]float32(nil), q...)
	embedding.NormalizeL2Slice(q)

	records, err := s.store.Search(ctx, s.collection, q, vectorstore.Match(vectorstore.FieldFilename, scope), topK)
	s.metrics.ObserveRetrieval("store", start)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}
	out := make([]models.ScoredChunk, 0, len(records))
	for _, rec := range records {
		c, err := vectorstore.DecodePayload(rec.Payload)
		if err != nil {
			s.logger.Debug("skipping undecodable point", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: rec.Score})
	}
	SortScored(out)
	return out, nil
}

// SortScored orders hits by descending score, ties by (page, chunk_id).
func SortScored(hits []models.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Before(hits[j].Chunk)
	})
}

// ContextBlocks formats hits as "[page N] text" blocks separated by blank lines.
func ContextBlocks(hits []models.ScoredChunk) string {
	var n int
	for _, h := range hits {
		n += len(h.Chunk.Text) + 16
	}
	b := make([]byte, 0, n)
	for i, h := range hits {
		if i > 0 {
			b = append(b, '\n', '\n')
		}
		b = fmt.Appendf(b, "[page %d] %s", h.Chunk.Page, h.Chunk.Text)
	}
	return string(b)
}
