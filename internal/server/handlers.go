package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/config"
	"github.com/hyperjump/mondai/internal/extract"
	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/pipeline"
	"github.com/hyperjump/mondai/internal/storage"
)

const multipartMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": s.pipeline.CanGenerate()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg
	resp := map[string]any{
		"ready": s.pipeline.CanGenerate(),
		"embedding": map[string]any{
			"provider":   cfg.Embedding.Provider,
			"dimensions": cfg.Embedding.Dimensions,
			"index_type": cfg.Embedding.IndexType,
		},
		"vector_store": map[string]any{
			"backend":    cfg.VectorStore.Backend,
			"collection": cfg.VectorStore.Collection,
			"enabled":    s.indexer.HasVectorStore(),
		},
		"llm": map[string]any{
			"model":      cfg.LLM.Model,
			"base_url":   cfg.LLM.BaseURL,
			"configured": s.pipeline.CanGenerate(),
		},
		"validation": map[string]any{
			"entailment":                 cfg.Validation.Entailment,
			"extractive_qa":              cfg.Validation.ExtractiveQAEnabled(),
			"require_model_verification": cfg.Validation.ModelVerificationRequired(),
		},
	}
	paths := storage.DatabaseFiles(cfg.Storage.DatabasePath)
	if diskBytes, err := storage.DiskUsageBytes(append(paths, cfg.Storage.RunLogPath)...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	if s.inbox != nil {
		resp["watch"] = map[string]any{
			"directories": s.inbox.Directories(),
			"stats":       s.inbox.Stats(),
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// generateParams are the generation knobs shared by the upload form and the JSON body.
type generateParams struct {
	N                *int                         `json:"n"`
	Mode             string                       `json:"mode"`
	QuestionsPerUnit int                          `json:"questions_per_unit"`
	TopK             int                          `json:"top_k"`
	Validate         *bool                        `json:"validate"`
	Difficulty       *generation.DifficultyCounts `json:"difficulty"`
}

type generateSavedRequest struct {
	Filename string `json:"filename"`
	generateParams
}

// request fills unset params from the generation config and checks them.
func (p generateParams) request(cfg config.GenerationConfig) (pipeline.GenerateRequest, error) {
	var req pipeline.GenerateRequest
	modeName := p.Mode
	if modeName == "" {
		modeName = cfg.Mode
	}
	mode, err := generation.ParseMode(modeName)
	if err != nil {
		return req, err
	}
	req.Mode = mode
	req.N = cfg.N
	if p.N != nil {
		req.N = *p.N
	}
	if req.N < 0 {
		return req, errors.New("n must not be negative")
	}
	req.QuestionsPerUnit = cfg.QuestionsPerUnit
	if p.QuestionsPerUnit > 0 {
		req.QuestionsPerUnit = p.QuestionsPerUnit
	}
	req.TopK = cfg.TopK
	if p.TopK > 0 {
		req.TopK = p.TopK
	}
	req.Validate = cfg.Validate
	if p.Validate != nil {
		req.Validate = *p.Validate
	}
	if d := p.Difficulty; d != nil {
		if d.Easy < 0 || d.Medium < 0 || d.Hard < 0 {
			return req, errors.New("difficulty counts must not be negative")
		}
		counts := *d
		req.Difficulty = &counts
	}
	return req, nil
}

// formParams reads generateParams from a parsed multipart form. Any of easy, medium
// or hard switches to a difficulty mix; the ones left out keep their configured counts.
func formParams(r *http.Request, defaults generation.DifficultyCounts) (generateParams, error) {
	var p generateParams
	if v := r.FormValue("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid n: %q", v)
		}
		p.N = &n
	}
	p.Mode = r.FormValue("mode")
	var err error
	if p.QuestionsPerUnit, err = formInt(r, "questions_per_unit", 0); err != nil {
		return p, err
	}
	if p.TopK, err = formInt(r, "top_k", 0); err != nil {
		return p, err
	}
	if v := r.FormValue("validate"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("invalid validate: %q", v)
		}
		p.Validate = &b
	}
	if r.FormValue("easy") != "" || r.FormValue("medium") != "" || r.FormValue("hard") != "" {
		counts := defaults
		if counts.Easy, err = formInt(r, "easy", defaults.Easy); err != nil {
			return p, err
		}
		if counts.Medium, err = formInt(r, "medium", defaults.Medium); err != nil {
			return p, err
		}
		if counts.Hard, err = formInt(r, "hard", defaults.Hard); err != nil {
			return p, err
		}
		p.Difficulty = &counts
	}
	return p, nil
}

func formInt(r *http.Request, key string, def int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func formBool(r *http.Request, key string, def bool) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

func uploadedFile(r *http.Request, key string) *multipart.FileHeader {
	if r.MultipartForm == nil || len(r.MultipartForm.File[key]) == 0 {
		return nil
	}
	return r.MultipartForm.File[key][0]
}

// readUpload reads an uploaded file after checking its format is supported.
func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Filename == "" {
		return nil, errors.New("uploaded file is missing a filename")
	}
	if ext := filepath.Ext(fh.Filename); !extract.Supported(ext) {
		return nil, fmt.Errorf("unsupported file type: %s", fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleGenerateUpload(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.CanGenerate() {
		s.respondError(w, http.StatusServiceUnavailable, "question generator not configured: set an LLM API key")
		return
	}
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := formParams(r, s.cfg.Generation.Difficulty)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := params.request(s.cfg.Generation)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxChars, err := formInt(r, "max_chars", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	fh := uploadedFile(r, "file")
	if fh == nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	content, err := readUpload(fh)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	idx := s.indexer.WithMaxChars(maxChars)
	store, err := idx.BuildStoreBytes(fh.Filename, content)
	if err != nil {
		s.respondExtractError(w, err)
		return
	}
	if collection := r.FormValue("collection"); collection != "" {
		if !idx.HasVectorStore() {
			s.respondError(w, http.StatusNotImplemented, indexer.ErrNoVectorStore.Error())
			return
		}
		if _, err := idx.SaveStore(r.Context(), collection, store, true); err != nil {
			s.logger.Error("Saving upload failed", zap.String("filename", fh.Filename), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "could not save file: "+err.Error())
			return
		}
		req.Collection = collection
	}
	req.Source = fh.Filename
	s.runGenerate(w, r, store, req)
}

func (s *Server) handleGenerateSaved(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.CanGenerate() {
		s.respondError(w, http.StatusServiceUnavailable, "question generator not configured: set an LLM API key")
		return
	}
	collection := chi.URLParam(r, "collection")
	var body generateSavedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Filename == "" {
		s.respondError(w, http.StatusBadRequest, "filename is required")
		return
	}
	req, err := body.request(s.cfg.Generation)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	store, err := s.indexer.LoadFile(r.Context(), collection, body.Filename)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	req.Source = body.Filename
	req.Collection = collection
	s.runGenerate(w, r, store, req)
}

func (s *Server) runGenerate(w http.ResponseWriter, r *http.Request, store *chunkstore.Store, req pipeline.GenerateRequest) {
	s.logger.Debug("generate request",
		zap.String("source", req.Source),
		zap.String("mode", string(req.Mode)),
		zap.Int("n", req.N),
		zap.Bool("validate", req.Validate))
	res, err := s.pipeline.Generate(r.Context(), store, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.respondError(w, http.StatusServiceUnavailable, "generation interrupted: "+err.Error())
			return
		}
		if errors.Is(err, generation.ErrNoChunks) {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("Generation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "generation failed: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleValidateUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := r.FormValue("mcqs")
	if raw == "" {
		s.respondError(w, http.StatusBadRequest, "mcqs is required")
		return
	}
	mcqs, err := models.DecodeMCQSet([]byte(raw))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	fh := uploadedFile(r, "file")
	if fh == nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	content, err := readUpload(fh)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	store, err := s.indexer.BuildStoreBytes(fh.Filename, content)
	if err != nil {
		s.respondExtractError(w, err)
		return
	}
	res, err := s.pipeline.Validate(r.Context(), store, mcqs)
	if err != nil {
		s.logger.Error("Validation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "validation failed: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type scoreRequest struct {
	MCQs       json.RawMessage         `json:"mcqs"`
	Validation models.ValidationReport `json:"validation"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var body scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.MCQs) == 0 {
		s.respondError(w, http.StatusBadRequest, "mcqs is required")
		return
	}
	mcqs, err := models.DecodeMCQSet(body.MCQs)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, summary := s.pipeline.Score(mcqs, body.Validation)
	s.respondJSON(w, http.StatusOK, map[string]any{"report": report, "summary": summary})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	files, err := s.indexer.ListFiles(r.Context(), collection)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"collection": collection, "files": files})
}

func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	if !s.indexer.HasVectorStore() {
		s.respondError(w, http.StatusNotImplemented, indexer.ErrNoVectorStore.Error())
		return
	}
	collection := chi.URLParam(r, "collection")
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	overwrite, err := formBool(r, "overwrite", true)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxChars, err := formInt(r, "max_chars", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefix := strings.TrimSpace(r.FormValue("prefix"))
	for i, fh := range uploads {
		if fh.Filename == "" || !extract.Supported(filepath.Ext(fh.Filename)) {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("file #%d: unsupported or missing filename %q", i+1, fh.Filename))
			return
		}
	}

	idx := s.indexer.WithMaxChars(maxChars)
	results := make([]indexer.SaveResult, 0, len(uploads))
	for _, fh := range uploads {
		name := fh.Filename
		if prefix != "" {
			name = prefix + "_" + name
		}
		content, err := readUpload(fh)
		if err != nil {
			results = append(results, indexer.SaveResult{Filename: name, Error: err.Error()})
			continue
		}
		res, err := idx.SaveBytes(r.Context(), collection, name, content, overwrite)
		if err != nil {
			s.logger.Warn("Upload not saved", zap.String("filename", name), zap.Error(err))
			res.Filename = name
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"collection": collection, "files": results})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	filename := chi.URLParam(r, "filename")
	if err := s.indexer.DeleteFile(r.Context(), collection, filename); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"filename": filename, "status": "deleted"})
}

// respondStoreError maps indexer errors to status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, indexer.ErrNoVectorStore):
		s.respondError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, indexer.ErrNoChunks):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("Store operation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondExtractError maps a failure to turn an upload into chunks.
func (s *Server) respondExtractError(w http.ResponseWriter, err error) {
	if errors.Is(err, indexer.ErrNoChunks) {
		s.respondError(w, http.StatusUnprocessableEntity, "no text could be extracted: "+err.Error())
		return
	}
	s.respondError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.inbox.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.inbox.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.inbox.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.inbox.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
