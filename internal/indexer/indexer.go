package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/extract"
	"github.com/hyperjump/mondai/internal/fileid"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/vectorstore"
)

var (
	// ErrNoChunks is returned when a document or stored file yields no text.
	ErrNoChunks = errors.New("no text chunks")
	// ErrNoVectorStore is returned by store operations when no vector store is configured.
	ErrNoVectorStore = errors.New("vector store not configured")
)

const (
	defaultBatchSize = 64
	scrollPageSize   = 256
)

// Indexer extracts, chunks and embeds documents, and saves or loads them from a vector store.
type Indexer struct {
	embedder  embedding.Embedder
	store     vectorstore.VectorStore
	extractor *extract.Extractor
	chunker   *Chunker
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file saved, file deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithVectorStore enables the store operations (SaveFile, LoadFile, ListFiles, DeleteFile).
func WithVectorStore(s vectorstore.VectorStore) IndexerOption {
	return func(idx *Indexer) { idx.store = s }
}

// WithBatchSize sets how many points are embedded and upserted per request.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithMetrics records ingested chunk counts.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// NewIndexer creates an indexer. extractor and chunker may be nil for defaults.
func NewIndexer(embedder embedding.Embedder, extractor *extract.Extractor, chunker *Chunker, opts ...IndexerOption) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultMaxChars, DefaultOverlap)
	}
	idx := &Indexer{
		embedder:  embedder,
		extractor: extractor,
		chunker:   chunker,
		batchSize: defaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// WithMaxChars returns a copy of the indexer that chunks with a different size limit.
func (idx *Indexer) WithMaxChars(maxChars int) *Indexer {
	if maxChars <= 0 || maxChars == idx.chunker.maxChars {
		return idx
	}
	cp := *idx
	cp.chunker = NewChunker(maxChars, idx.chunker.overlap)
	return &cp
}

// HasVectorStore reports whether store operations are available.
func (idx *Indexer) HasVectorStore() bool {
	return idx.store != nil
}

// BuildStore extracts and chunks the file at path into a chunk store.
// The chunks carry the file's base name.
func (idx *Indexer) BuildStore(path string) (*chunkstore.Store, error) {
	pages, err := idx.extractor.ExtractPages(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return idx.storeFromPages(fileid.Filename(path), pages)
}

// BuildStoreBytes chunks in-memory content. The format comes from filename's extension.
func (idx *Indexer) BuildStoreBytes(filename string, content []byte) (*chunkstore.Store, error) {
	pages, err := idx.extractor.ExtractPagesBytes(content, filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filename, err)
	}
	return idx.storeFromPages(filename, pages)
}

func (idx *Indexer) storeFromPages(filename string, pages []extract.Page) (*chunkstore.Store, error) {
	chunks := idx.chunker.Chunk(filename, pages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrNoChunks)
	}
	idx.logger.Debug("document chunked",
		zap.String("filename", filename),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)))
	return chunkstore.New(chunks), nil
}

// SaveResult describes one saved file.
type SaveResult struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Pages    int    `json:"pages"`
	Error    string `json:"error,omitempty"`
}

// SaveFile extracts, chunks and saves the file at path under name (its base name when empty).
func (idx *Indexer) SaveFile(ctx context.Context, collection, path, name string, overwrite bool) (SaveResult, error) {
	if name == "" {
		name = fileid.Filename(path)
	}
	pages, err := idx.extractor.ExtractPages(path)
	if err != nil {
		return SaveResult{Filename: name}, fmt.Errorf("extract %s: %w", path, err)
	}
	store, err := idx.storeFromPages(name, pages)
	if err != nil {
		return SaveResult{Filename: name}, err
	}
	return idx.SaveStore(ctx, collection, store, overwrite)
}

// SaveBytes chunks in-memory content and saves it under filename.
func (idx *Indexer) SaveBytes(ctx context.Context, collection, filename string, content []byte, overwrite bool) (SaveResult, error) {
	store, err := idx.BuildStoreBytes(filename, content)
	if err != nil {
		return SaveResult{Filename: filename}, err
	}
	return idx.SaveStore(ctx, collection, store, overwrite)
}

// SaveStore embeds the store's chunks and upserts them in batches. Point ids derive from
// each chunk's source id, so saving the same file twice replaces its points. With
// overwrite, points of the same filenames are deleted first so shorter re-uploads leave
// no stale chunks. The delete and the inserts are not one transaction.
func (idx *Indexer) SaveStore(ctx context.Context, collection string, store *chunkstore.Store, overwrite bool) (SaveResult, error) {
	if idx.store == nil {
		return SaveResult{}, ErrNoVectorStore
	}
	chunks := store.All()
	if len(chunks) == 0 {
		return SaveResult{}, ErrNoChunks
	}
	res := SaveResult{Filename: chunks[0].Filename, Chunks: len(chunks), Pages: countPages(chunks)}

	if err := idx.store.EnsureCollection(ctx, collection, idx.embedder.Dimensions()); err != nil {
		return res, fmt.Errorf("ensure collection: %w", err)
	}
	if err := idx.store.CreatePayloadIndex(ctx, collection, vectorstore.FieldFilename); err != nil {
		idx.logger.Warn("payload index not created", zap.String("collection", collection), zap.Error(err))
	}
	if overwrite {
		for _, name := range filenames(chunks) {
			if err := idx.store.DeleteByFilter(ctx, collection, vectorstore.Match(vectorstore.FieldFilename, name)); err != nil {
				return res, fmt.Errorf("delete existing %s: %w", name, err)
			}
		}
	}

	for start := 0; start < len(chunks); start += idx.batchSize {
		end := min(start+idx.batchSize, len(chunks))
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		points := make([]vectorstore.Point, len(batch))
		for i, c := range batch {
			points[i] = vectorstore.Point{
				ID:      fileid.PointID(c.SourceID()),
				Vector:  vectors[i],
				Payload: vectorstore.EncodeChunk(c),
			}
		}
		if err := idx.store.Upsert(ctx, collection, points); err != nil {
			return res, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	idx.metrics.ChunksIngested(collection, len(chunks))
	idx.logger.Info("file saved to vector store",
		zap.String("collection", collection),
		zap.String("filename", res.Filename),
		zap.Int("chunks", res.Chunks))
	return res, nil
}

// ListFiles aggregates the collection's chunks per filename, sorted by name.
// A missing collection has no files.
func (idx *Indexer) ListFiles(ctx context.Context, collection string) ([]models.FileSummary, error) {
	if idx.store == nil {
		return nil, ErrNoVectorStore
	}
	exists, err := idx.store.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.FileSummary{}, nil
	}
	records, err := vectorstore.ScrollAll(ctx, idx.store, collection, nil, scrollPageSize)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", collection, err)
	}

	byName := make(map[string]*models.FileSummary)
	pages := make(map[string]map[int]struct{})
	for _, rec := range records {
		c, err := vectorstore.DecodePayload(rec.Payload)
		if err != nil {
			idx.logger.Debug("skipping undecodable point", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		fs, ok := byName[c.Filename]
		if !ok {
			fs = &models.FileSummary{Filename: c.Filename}
			byName[c.Filename] = fs
			pages[c.Filename] = make(map[int]struct{})
		}
		fs.Chunks++
		pages[c.Filename][c.Page] = struct{}{}
	}

	out := make([]models.FileSummary, 0, len(byName))
	for name, fs := range byName {
		fs.Pages = len(pages[name])
		out = append(out, *fs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// LoadFile reads a stored file's chunks back into a chunk store ordered by (page, chunk_id).
func (idx *Indexer) LoadFile(ctx context.Context, collection, filename string) (*chunkstore.Store, error) {
	if idx.store == nil {
		return nil, ErrNoVectorStore
	}
	records, err := vectorstore.ScrollAll(ctx, idx.store, collection, vectorstore.Match(vectorstore.FieldFilename, filename), scrollPageSize)
	if err != nil {
		return nil, fmt.Errorf("scroll %s/%s: %w", collection, filename, err)
	}
	chunks := make([]models.Chunk, 0, len(records))
	for _, rec := range records {
		c, err := vectorstore.DecodePayload(rec.Payload)
		if err != nil {
			idx.logger.Debug("skipping undecodable point", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", filename, collection, ErrNoChunks)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Before(chunks[j]) })
	return chunkstore.New(chunks), nil
}

// DeleteFile removes all points stored for filename.
func (idx *Indexer) DeleteFile(ctx context.Context, collection, filename string) error {
	if idx.store == nil {
		return ErrNoVectorStore
	}
	idx.logger.Debug("deleting file from vector store", zap.String("collection", collection), zap.String("filename", filename))
	return idx.store.DeleteByFilter(ctx, collection, vectorstore.Match(vectorstore.FieldFilename, filename))
}

// SaveDirectory walks dir and saves each regular file whose extension is in allowedExts
// (all supported formats when empty). It returns the per-file results; a file that fails
// is recorded with its error and the walk continues.
func (idx *Indexer) SaveDirectory(ctx context.Context, collection, dir string, allowedExts []string, overwrite bool) ([]SaveResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var results []SaveResult
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !FileAllowed(path, allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are saved.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, saveErr := idx.SaveFile(ctx, collection, path, "", overwrite)
		if saveErr != nil {
			idx.logger.Warn("file not saved", zap.String("path", path), zap.Error(saveErr))
			res.Error = saveErr.Error()
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

// FileAllowed reports whether path's extension is in allowed, or is a supported
// format when allowed is empty.
func FileAllowed(path string, allowed []string) bool {
	ext := filepath.Ext(path)
	if len(allowed) == 0 {
		return extract.Supported(ext)
	}
	return extensionAllowed(ext, allowed)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func countPages(chunks []models.Chunk) int {
	seen := make(map[int]struct{})
	for _, c := range chunks {
		seen[c.Page] = struct{}{}
	}
	return len(seen)
}

func filenames(chunks []models.Chunk) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range chunks {
		if _, ok := seen[c.Filename]; ok {
			continue
		}
		seen[c.Filename] = struct{}{}
		out = append(out, c.Filename)
	}
	return out
}
