package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/mondai/internal/config"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/pipeline"
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/internal/storage"
	"github.com/hyperjump/mondai/internal/validation"
	"github.com/hyperjump/mondai/internal/verify"
	"github.com/hyperjump/mondai/internal/watcher"
)

const nileText = "The Nile is the longest river in Africa. It flows north into the Mediterranean Sea. " +
	"Cairo is built on its banks. The Aswan dam controls its floods."

type stubGenerator struct {
	calls int
}

func (g *stubGenerator) GenerateMCQs(_ context.Context, _ string, n int, d models.Difficulty) (models.MCQSet, error) {
	g.calls++
	out := make(models.MCQSet, n)
	for i := 1; i <= n; i++ {
		out[fmt.Sprint(i)] = models.MCQ{
			Question:      "Which river flows north into the Mediterranean?",
			Options:       []models.Option{{Label: "a", Text: "Nile"}, {Label: "b", Text: "Amazon"}},
			CorrectAnswer: "Nile",
			Difficulty:    d,
		}
	}
	return out, nil
}

type mockInbox struct {
	dirs []string
}

func (m *mockInbox) Directories() []string { return append([]string(nil), m.dirs...) }

func (m *mockInbox) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockInbox) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockInbox) Stats() watcher.Stats { return watcher.Stats{Saved: 2} }

type testEnv struct {
	srv     *Server
	handler http.Handler
	gen     *stubGenerator
	cfg     *config.Config
}

func newTestEnv(t *testing.T, withGenerator bool, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "vectors.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewHashingEmbedder(64)
	idx := indexer.NewIndexer(embedder, nil, indexer.NewChunker(60, 0), indexer.WithVectorStore(store))
	scorer, err := scoring.NewScorer(nil)
	if err != nil {
		t.Fatal(err)
	}
	vcfg := validation.DefaultConfig()
	vcfg.RequireModelVerification = false

	env := &testEnv{gen: &stubGenerator{}}
	popts := pipeline.Options{
		Embedder:   embedder,
		IndexType:  "memory",
		Entailment: verify.NewLexicalEntailment(),
		QA:         verify.NewBleveQA(),
		Validation: vcfg,
		Scorer:     scorer,
	}
	if withGenerator {
		popts.Generator = env.gen
	}
	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "vectors.db")
	cfg.Storage.RunLogPath = filepath.Join(dir, "runs.jsonl")
	env.cfg = cfg
	env.srv = NewServer(pipeline.New(popts), idx, cfg, nil, opts...)
	env.handler = env.srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type filePart struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, target, fileField string, files []filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile(fileField, f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(f.content)); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// runBody is the client view of pipeline.Result.
type runBody struct {
	MCQs       models.MCQSet           `json:"mcqs"`
	Validation models.ValidationReport `json:"validation"`
	Report     json.RawMessage         `json:"report"`
	Summary    *scoring.QuickSummary   `json:"summary"`
	Error      string                  `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	for _, withGen := range []bool{true, false} {
		env := newTestEnv(t, withGen)
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		var out struct {
			Status string `json:"status"`
			Ready  bool   `json:"ready"`
		}
		decode(t, w, &out)
		if out.Status != "ok" || out.Ready != withGen {
			t.Errorf("health = %+v, want ready=%v", out, withGen)
		}
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, true, WithInbox(&mockInbox{dirs: []string{"/tmp/inbox"}}, ""))
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]any
	decode(t, w, &out)
	vs, _ := out["vector_store"].(map[string]any)
	if vs["enabled"] != true || vs["backend"] != "sqlite" {
		t.Errorf("vector_store = %v", vs)
	}
	watch, _ := out["watch"].(map[string]any)
	if watch == nil {
		t.Fatal("watch section missing")
	}
	if _, ok := out["disk_usage_bytes"]; !ok {
		t.Error("disk_usage_bytes missing")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := env.do(t, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status: got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestUploadListDeleteFiles(t *testing.T) {
	env := newTestEnv(t, true)
	req := multipartRequest(t, "/api/v1/collections/geo/files", "files",
		[]filePart{{"nile.txt", nileText}, {"empty.txt", "   "}},
		map[string]string{"prefix": "unit1"})
	w := env.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status: got %d (%s)", w.Code, w.Body.String())
	}
	var up struct {
		Files []indexer.SaveResult `json:"files"`
	}
	decode(t, w, &up)
	if len(up.Files) != 2 {
		t.Fatalf("got %d results, want 2", len(up.Files))
	}
	if up.Files[0].Filename != "unit1_nile.txt" || up.Files[0].Chunks == 0 || up.Files[0].Error != "" {
		t.Errorf("first result = %+v", up.Files[0])
	}
	if up.Files[1].Filename != "unit1_empty.txt" || up.Files[1].Error == "" {
		t.Errorf("empty file should carry its error: %+v", up.Files[1])
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/collections/geo/files", nil))
	var list struct {
		Files []models.FileSummary `json:"files"`
	}
	decode(t, w, &list)
	if len(list.Files) != 1 || list.Files[0].Filename != "unit1_nile.txt" {
		t.Errorf("files = %+v", list.Files)
	}

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/collections/geo/files/unit1_nile.txt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", w.Code)
	}
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/collections/geo/files", nil))
	decode(t, w, &list)
	if len(list.Files) != 0 {
		t.Errorf("files after delete = %+v", list.Files)
	}
}

func TestUploadFiles_rejectsUnsupported(t *testing.T) {
	env := newTestEnv(t, true)
	req := multipartRequest(t, "/api/v1/collections/geo/files", "files",
		[]filePart{{"tool.exe", "MZ"}}, nil)
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
	req = multipartRequest(t, "/api/v1/collections/geo/files", "files", nil, nil)
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("no files: got %d", w.Code)
	}
}

func TestGenerateUpload(t *testing.T) {
	env := newTestEnv(t, true)
	req := multipartRequest(t, "/api/v1/generate", "file", []filePart{{"nile.txt", nileText}},
		map[string]string{"n": "2", "mode": "per_chunk", "questions_per_unit": "1", "validate": "true", "collection": "geo"})
	w := env.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var res runBody
	decode(t, w, &res)
	if len(res.MCQs) != 2 {
		t.Errorf("got %d questions, want 2", len(res.MCQs))
	}
	if len(res.Validation) != 2 || res.Summary == nil {
		t.Errorf("validation missing: %+v", res)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/collections/geo/files", nil))
	var list struct {
		Files []models.FileSummary `json:"files"`
	}
	decode(t, w, &list)
	if len(list.Files) != 1 || list.Files[0].Filename != "nile.txt" {
		t.Errorf("upload should be saved to the collection: %+v", list.Files)
	}
}

func TestGenerateUpload_difficultyMix(t *testing.T) {
	env := newTestEnv(t, true)
	req := multipartRequest(t, "/api/v1/generate", "file", []filePart{{"nile.txt", nileText}},
		map[string]string{"mode": "per_page", "easy": "1", "medium": "0", "hard": "1", "questions_per_unit": "1"})
	w := env.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var res runBody
	decode(t, w, &res)
	if len(res.MCQs) != 2 {
		t.Fatalf("got %d questions, want 2", len(res.MCQs))
	}
	if res.MCQs["1"].Difficulty != models.DifficultyEasy || res.MCQs["2"].Difficulty != models.DifficultyHard {
		t.Errorf("difficulties = %q, %q", res.MCQs["1"].Difficulty, res.MCQs["2"].Difficulty)
	}
}

func TestGenerateUpload_errors(t *testing.T) {
	env := newTestEnv(t, true)
	tests := []struct {
		name   string
		files  []filePart
		fields map[string]string
		want   int
	}{
		{"missing file", nil, map[string]string{"n": "1"}, http.StatusBadRequest},
		{"unsupported type", []filePart{{"a.exe", "x"}}, nil, http.StatusBadRequest},
		{"bad mode", []filePart{{"a.txt", nileText}}, map[string]string{"mode": "random"}, http.StatusBadRequest},
		{"bad n", []filePart{{"a.txt", nileText}}, map[string]string{"n": "many"}, http.StatusBadRequest},
		{"no text", []filePart{{"a.txt", "  "}}, nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, multipartRequest(t, "/api/v1/generate", "file", tt.files, tt.fields))
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	noGen := newTestEnv(t, false)
	w := noGen.do(t, multipartRequest(t, "/api/v1/generate", "file", []filePart{{"a.txt", nileText}}, nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("without generator: got %d", w.Code)
	}
}

func TestGenerateSaved(t *testing.T) {
	env := newTestEnv(t, true)
	up := multipartRequest(t, "/api/v1/collections/geo/files", "files", []filePart{{"nile.txt", nileText}}, nil)
	if w := env.do(t, up); w.Code != http.StatusOK {
		t.Fatalf("upload status: got %d", w.Code)
	}

	body := `{"filename": "nile.txt", "n": 1, "mode": "rag", "top_k": 2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections/geo/generate", strings.NewReader(body))
	w := env.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var res runBody
	decode(t, w, &res)
	if len(res.MCQs) != 1 {
		t.Errorf("got %d questions, want 1", len(res.MCQs))
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/collections/geo/generate", strings.NewReader(`{"filename": "missing.pdf"}`))
	if w := env.do(t, req); w.Code != http.StatusNotFound {
		t.Errorf("missing file: got %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/collections/geo/generate", strings.NewReader(`{}`))
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("missing filename: got %d", w.Code)
	}
}

func TestValidateUpload(t *testing.T) {
	env := newTestEnv(t, false)
	mcqs := `{"1": {"câu hỏi": "Which river flows north?", "lựa chọn": {"a": "Nile", "b": "Amazon"}, "đáp án": "Nile"}}`
	req := multipartRequest(t, "/api/v1/validate", "file", []filePart{{"nile.txt", nileText}},
		map[string]string{"mcqs": mcqs})
	w := env.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var res runBody
	decode(t, w, &res)
	if res.Validation["1"] == nil || len(res.Report) == 0 {
		t.Errorf("validation result = %+v", res)
	}

	req = multipartRequest(t, "/api/v1/validate", "file", []filePart{{"nile.txt", nileText}}, nil)
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("missing mcqs: got %d", w.Code)
	}
}

func TestHandleScore(t *testing.T) {
	env := newTestEnv(t, false)
	body := `{
		"mcqs": {"1": {"question": "q", "options": {"a": "x", "b": "y"}, "answer": "x"}},
		"validation": {"1": {"max_similarity": 1, "supported_by_embeddings": true}}
	}`
	w := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/score", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var out struct {
		Report struct {
			BatchSummary scoring.BatchSummary `json:"batch_summary"`
		} `json:"report"`
		Summary scoring.QuickSummary `json:"summary"`
	}
	decode(t, w, &out)
	if out.Report.BatchSummary.Total != 1 || out.Summary.TotalQuestions != 1 {
		t.Errorf("score output = %+v", out)
	}

	// One malformed question does not block the rest.
	body = `{
		"mcqs": {"1": {"question": "q", "options": {"a": "x", "b": "y"}, "answer": "x"}, "2": "garbage"},
		"validation": {"1": {"max_similarity": 1, "supported_by_embeddings": true}, "2": {}}
	}`
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/score", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("malformed entry: got %d (%s)", w.Code, w.Body.String())
	}
	decode(t, w, &out)
	if out.Report.BatchSummary.Total != 2 {
		t.Errorf("malformed entry total = %d, want 2", out.Report.BatchSummary.Total)
	}

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/score", strings.NewReader(`{"validation": {}}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing mcqs: got %d", w.Code)
	}
}

func TestWatchDirectories(t *testing.T) {
	inbox := &mockInbox{dirs: []string{"/tmp/docs"}}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	env := newTestEnv(t, true, WithInbox(inbox, configPath))

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/watch/directories", nil))
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("directories = %v", out.Directories)
	}

	newDir := t.TempDir()
	body, _ := json.Marshal(map[string]any{"path": newDir, "sync": false})
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", bytes.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("add status: got %d (%s)", w.Code, w.Body.String())
	}
	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if len(saved.Watch.Directories) != 2 {
		t.Errorf("persisted directories = %v", saved.Watch.Directories)
	}

	body, _ = json.Marshal(map[string]any{"path": filepath.Join(newDir, "nope")})
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", bytes.NewReader(body)))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing dir: got %d", w.Code)
	}

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/watch/directories?path="+newDir, nil))
	if w.Code != http.StatusOK {
		t.Errorf("remove status: got %d", w.Code)
	}
	if len(inbox.dirs) != 1 {
		t.Errorf("dirs after remove = %v", inbox.dirs)
	}
}

func TestWatchDirectories_disabled(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/watch/directories", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true, WithMetrics(metrics.New()))
	env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/health") {
		t.Errorf("request metrics missing route label: %s", w.Body.String())
	}
}

func TestGenerateParams_request(t *testing.T) {
	cfg := config.Default().Generation
	n := 0
	req, err := generateParams{N: &n, Mode: "per_page", Difficulty: &generation.DifficultyCounts{Easy: 2}}.request(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if req.N != 0 || req.Mode != generation.ModePerPage || req.QuestionsPerUnit != cfg.QuestionsPerUnit {
		t.Errorf("request = %+v", req)
	}
	if req.Difficulty == nil || req.Difficulty.Easy != 2 {
		t.Errorf("difficulty = %+v", req.Difficulty)
	}
	if _, err := (generateParams{Difficulty: &generation.DifficultyCounts{Hard: -1}}).request(cfg); err == nil {
		t.Error("expected error for negative counts")
	}
}
