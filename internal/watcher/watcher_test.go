package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/mondai/internal/indexer"
)

type fakeIngester struct {
	mu      sync.Mutex
	saved   []string
	deleted []string
	fail    map[string]bool
}

func (f *fakeIngester) SaveFile(_ context.Context, collection, path, name string, overwrite bool) (indexer.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := filepath.Base(path)
	if f.fail[base] {
		return indexer.SaveResult{Filename: base}, errors.New("extract failed")
	}
	if collection != "inbox" || !overwrite || name != "" {
		return indexer.SaveResult{}, errors.New("unexpected save arguments")
	}
	f.saved = append(f.saved, base)
	return indexer.SaveResult{Filename: base, Chunks: 2, Pages: 1}, nil
}

func (f *fakeIngester) DeleteFile(_ context.Context, collection, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, filename)
	return nil
}

func (f *fakeIngester) savedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.saved...)
	sort.Strings(out)
	return out
}

func (f *fakeIngester) deletedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startInbox(t *testing.T, ing *fakeIngester, roots []string, opts ...Option) *Inbox {
	t.Helper()
	opts = append([]Option{WithExtensions([]string{".txt", ".md"}), WithDebounce(50 * time.Millisecond)}, opts...)
	in := New(ing, "inbox", roots, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	if err := in.Start(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		in.Stop()
		cancel()
	})
	return in
}

func TestInbox_savesNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	in := startInbox(t, ing, []string{dir})

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	writeFile(t, filepath.Join(dir, "ignore.xyz"), "skip")

	eventually(t, func() bool { return len(ing.savedNames()) == 1 })
	if got := ing.savedNames(); got[0] != "notes.txt" {
		t.Errorf("saved = %v", got)
	}
	st := in.Stats()
	if st.Saved != 1 || st.Chunks != 2 || st.LastSaveAt.IsZero() {
		t.Errorf("stats = %+v", st)
	}
}

func TestInbox_debounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startInbox(t, ing, []string{dir}, WithDebounce(300*time.Millisecond))

	path := filepath.Join(dir, "draft.md")
	for i := 0; i < 5; i++ {
		writeFile(t, path, "revision")
		time.Sleep(20 * time.Millisecond)
	}
	eventually(t, func() bool { return len(ing.savedNames()) >= 1 })
	time.Sleep(400 * time.Millisecond)
	if got := ing.savedNames(); len(got) != 1 {
		t.Errorf("saved %d times, want 1: %v", len(got), got)
	}
}

func TestInbox_removeDeletesFromCollection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.txt")
	writeFile(t, path, "bye")

	ing := &fakeIngester{}
	in := startInbox(t, ing, []string{dir})
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(ing.deletedNames()) == 1 })
	if got := ing.deletedNames(); got[0] != "old.txt" {
		t.Errorf("deleted = %v", got)
	}
	if in.Stats().Deleted != 1 {
		t.Errorf("stats = %+v", in.Stats())
	}
}

func TestInbox_newFolderIsIngested(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startInbox(t, ing, []string{dir})

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(nested, "deep.txt"), "deep content")

	eventually(t, func() bool {
		for _, n := range ing.savedNames() {
			if n == "deep.txt" {
				return true
			}
		}
		return false
	})
}

func TestInbox_Sync(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "broken.md"), "b")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")
	writeFile(t, filepath.Join(dir, "skip.bin"), "x")

	ing := &fakeIngester{fail: map[string]bool{"broken.md": true}}
	in := New(ing, "inbox", []string{dir}, WithExtensions([]string{".txt", ".md"}), WithRecursive(false))

	results := in.Sync()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (non-recursive): %+v", len(results), results)
	}
	var failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed results = %d, want 1", failed)
	}
	st := in.Stats()
	if st.Saved != 1 || st.Failed != 1 || st.LastError == "" {
		t.Errorf("stats = %+v", st)
	}
}

func TestInbox_AddRemoveDirectories(t *testing.T) {
	ing := &fakeIngester{}
	in := startInbox(t, ing, nil)

	dir := filepath.Join(t.TempDir(), "created")
	if err := in.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("root should be created: %v", err)
	}
	if err := in.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if dirs := in.Directories(); len(dirs) != 1 || dirs[0] != dir {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := in.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(in.Directories()) != 0 {
		t.Errorf("after remove: %v", in.Directories())
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}
