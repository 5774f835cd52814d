// Package watcher keeps vector-store collections in step with inbox directories:
// documents dropped into a watched directory are extracted, chunked and saved,
// documents removed from it are deleted from the collection.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/fileid"
	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/metrics"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester saves and deletes documents in a collection. *indexer.Indexer implements it.
type Ingester interface {
	SaveFile(ctx context.Context, collection, path, name string, overwrite bool) (indexer.SaveResult, error)
	DeleteFile(ctx context.Context, collection, filename string) error
}

// Stats counts what an inbox has done since it started.
type Stats struct {
	Saved      int       `json:"saved"`
	Chunks     int       `json:"chunks"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	LastError  string    `json:"last_error,omitempty"`
	LastSaveAt time.Time `json:"last_save_at,omitempty"`
}

// Inbox watches root directories and feeds their documents into one collection.
type Inbox struct {
	ingester   Ingester
	collection string
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	watched  map[string][]string // root -> directories added to fsw for it
	stats    Stats
	inflight sync.WaitGroup
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithExtensions limits the inbox to files with these extensions. Empty means
// every format the extractor supports.
func WithExtensions(exts []string) Option {
	return func(in *Inbox) { in.extensions = exts }
}

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(r bool) Option {
	return func(in *Inbox) { in.recursive = r }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// WithMetrics records ingested chunks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Inbox) { in.metrics = m }
}

// New creates an inbox feeding collection from roots.
func New(ingester Ingester, collection string, roots []string, opts ...Option) *Inbox {
	in := &Inbox{
		ingester:   ingester,
		collection: collection,
		roots:      append([]string(nil), roots...),
		recursive:  true,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		watched:    make(map[string][]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Collection returns the collection the inbox writes to.
func (in *Inbox) Collection() string {
	return in.collection
}

// Start begins watching. Missing roots are created. The inbox runs until ctx is
// cancelled or Stop is called; ctx is also used for ingestion calls.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	in.fsw = fsw
	in.ctx = ctx
	in.started = true
	in.logger.Info("Inbox starting",
		zap.String("collection", in.collection),
		zap.Strings("roots", in.roots),
		zap.Bool("recursive", in.recursive))
	for _, root := range in.roots {
		if err := in.watchRootLocked(root); err != nil {
			_ = fsw.Close()
			in.fsw = nil
			in.started = false
			in.mu.Unlock()
			return err
		}
	}
	in.mu.Unlock()
	go in.loop(ctx, fsw)
	return nil
}

func (in *Inbox) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			in.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			in.logger.Warn("Inbox watch error", zap.Error(err))
		}
	}
}

func (in *Inbox) handle(ev fsnotify.Event) {
	path := ev.Name
	if !in.underRoot(path) {
		return
	}
	in.logger.Debug("Inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			in.handleNewDirectory(path)
			return
		}
		if indexer.FileAllowed(path, in.extensions) {
			in.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.cancel(path)
		if indexer.FileAllowed(path, in.extensions) {
			in.remove(path)
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root and ingests
// whatever was copied into it before the watch was in place. Subdirectories are
// ignored when the inbox is not recursive.
func (in *Inbox) handleNewDirectory(dir string) {
	in.mu.Lock()
	fsw := in.fsw
	in.mu.Unlock()
	if fsw == nil || !in.recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				in.logger.Debug("Inbox failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	in.syncDir(dir)
}

func (in *Inbox) underRoot(path string) bool {
	in.mu.Lock()
	roots := append([]string(nil), in.roots...)
	in.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)starts the quiet period for path.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.ingest(path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) ingestContext() context.Context {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ctx == nil {
		return context.Background()
	}
	return in.ctx
}

// ingest saves path, replacing any chunks previously stored under its name.
func (in *Inbox) ingest(path string) indexer.SaveResult {
	in.inflight.Add(1)
	defer in.inflight.Done()

	res, err := in.ingester.SaveFile(in.ingestContext(), in.collection, path, "", true)
	in.mu.Lock()
	defer in.mu.Unlock()
	if err != nil {
		in.stats.Failed++
		in.stats.LastError = err.Error()
		res.Error = err.Error()
		in.logger.Warn("Inbox failed to save file", zap.String("path", path), zap.Error(err))
		return res
	}
	in.stats.Saved++
	in.stats.Chunks += res.Chunks
	in.stats.LastSaveAt = time.Now()
	in.metrics.ChunksIngested(in.collection, res.Chunks)
	in.logger.Info("Inbox saved file",
		zap.String("collection", in.collection),
		zap.String("filename", res.Filename),
		zap.Int("chunks", res.Chunks),
		zap.Int("pages", res.Pages))
	return res
}

func (in *Inbox) remove(path string) {
	in.inflight.Add(1)
	defer in.inflight.Done()

	name := fileid.Filename(path)
	err := in.ingester.DeleteFile(in.ingestContext(), in.collection, name)
	in.mu.Lock()
	defer in.mu.Unlock()
	if err != nil {
		in.stats.Failed++
		in.stats.LastError = err.Error()
		in.logger.Warn("Inbox failed to delete file", zap.String("filename", name), zap.Error(err))
		return
	}
	in.stats.Deleted++
	in.logger.Info("Inbox deleted file", zap.String("collection", in.collection), zap.String("filename", name))
}

// AddDirectory adds a root to a running inbox and optionally ingests the files
// already in it.
func (in *Inbox) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fsw == nil {
		return nil
	}
	for _, r := range in.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if err := in.watchRootLocked(abs); err != nil {
		return err
	}
	in.roots = append(in.roots, abs)
	in.logger.Info("Inbox directory added", zap.String("path", abs))
	if syncExisting {
		go in.syncDir(abs)
	}
	return nil
}

func (in *Inbox) watchRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var dirs []string
	if !in.recursive {
		if err := in.fsw.Add(root); err != nil {
			return err
		}
		in.watched[root] = []string{root}
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := in.fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return err
	}
	in.watched[root] = dirs
	return nil
}

// RemoveDirectory stops watching root. Documents already saved stay in the collection.
func (in *Inbox) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fsw == nil {
		return nil
	}
	for i, r := range in.roots {
		if filepath.Clean(r) != abs {
			continue
		}
		for _, p := range in.watched[abs] {
			_ = in.fsw.Remove(p)
		}
		delete(in.watched, abs)
		in.roots = append(in.roots[:i], in.roots[i+1:]...)
		in.logger.Info("Inbox directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the current roots.
func (in *Inbox) Directories() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.roots...)
}

// Sync ingests every matching file already present under the roots and returns
// the per-file results. Failures are recorded in the results, not returned.
func (in *Inbox) Sync() []indexer.SaveResult {
	var out []indexer.SaveResult
	for _, root := range in.Directories() {
		out = append(out, in.syncDir(root)...)
	}
	return out
}

func (in *Inbox) syncDir(root string) []indexer.SaveResult {
	in.logger.Debug("Inbox syncing directory", zap.String("root", root))
	var out []indexer.SaveResult
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !in.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if indexer.FileAllowed(path, in.extensions) {
			out = append(out, in.ingest(path))
		}
		return nil
	})
	return out
}

// Stats returns a copy of the counters.
func (in *Inbox) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stats
}

// Stop stops watching, drops pending files and waits for in-flight ingestion.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started || in.fsw == nil {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
	_ = in.fsw.Close()
	in.fsw = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
	in.inflight.Wait()
	in.logger.Info("Inbox stopped", zap.String("collection", in.collection))
}
