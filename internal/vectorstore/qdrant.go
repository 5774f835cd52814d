package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// QdrantOptions configures the Qdrant REST client.
type QdrantOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// QdrantStore talks to Qdrant over its REST API. Collections use cosine distance.
type QdrantStore struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *zap.Logger
}

// NewQdrantStore creates a client. An endpoint without scheme gets http://.
func NewQdrantStore(opts QdrantOptions) *QdrantStore {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   opts.APIKey,
		logger:   logger,
	}
}

func collectionPath(collection string, parts ...string) string {
	return "/collections/" + url.PathEscape(collection) + strings.Join(parts, "")
}

func qdrantFilter(f *Filter) map[string]any {
	if f == nil || f.Field == "" {
		return nil
	}
	return map[string]any{
		"must": []map[string]any{
			{"key": f.Field, "match": map[string]any{"value": f.Value}},
		},
	}
}

// CollectionExists reports whether the collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	status, _, err := s.do(ctx, http.MethodGet, collectionPath(collection), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return false, err
	}
	return status == http.StatusOK, nil
}

// EnsureCollection creates the collection when it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if _, _, err := s.do(ctx, http.MethodPut, collectionPath(collection), body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	s.logger.Info("qdrant collection created", zap.String("collection", collection), zap.Int("dim", dim))
	return nil
}

// CreatePayloadIndex creates a keyword index on field.
func (s *QdrantStore) CreatePayloadIndex(ctx context.Context, collection, field string) error {
	body := map[string]any{"field_name": field, "field_schema": "keyword"}
	_, _, err := s.do(ctx, http.MethodPut, collectionPath(collection, "/index?wait=true"), body, nil)
	return err
}

// Upsert writes points in one request.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	items := make([]map[string]any, len(points))
	for i, p := range points {
		items[i] = map[string]any{"id": p.ID, "vector": p.Vector, "payload": p.Payload}
	}
	_, _, err := s.do(ctx, http.MethodPut, collectionPath(collection, "/points?wait=true"), map[string]any{"points": items}, nil)
	return err
}

// DeleteByFilter deletes all points matching filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	f := qdrantFilter(filter)
	if f == nil {
		return fmt.Errorf("delete requires a filter")
	}
	_, _, err := s.do(ctx, http.MethodPost, collectionPath(collection, "/points/delete?wait=true"), map[string]any{"filter": f}, nil)
	return err
}

type qdrantPoint struct {
	ID      any     `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

func (p qdrantPoint) record() Record {
	return Record{ID: fmt.Sprint(p.ID), Payload: p.Payload}
}

// Scroll returns one page of records.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset any) ([]Record, any, error) {
	if limit <= 0 {
		limit = 256
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	if offset != nil {
		body["offset"] = offset
	}
	var resp struct {
		Result struct {
			Points         []qdrantPoint `json:"points"`
			NextPageOffset any           `json:"next_page_offset"`
		} `json:"result"`
	}
	if _, _, err := s.do(ctx, http.MethodPost, collectionPath(collection, "/points/scroll"), body, &resp); err != nil {
		return nil, nil, err
	}
	out := make([]Record, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		out[i] = p.record()
	}
	return out, resp.Result.NextPageOffset, nil
}

// Search returns the k nearest points to vector.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, filter *Filter, k int) ([]ScoredRecord, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if _, _, err := s.do(ctx, http.MethodPost, collectionPath(collection, "/points/search"), body, &resp); err != nil {
		return nil, err
	}
	out := make([]ScoredRecord, len(resp.Result))
	for i, p := range resp.Result {
		out[i] = ScoredRecord{Record: p.record(), Score: p.Score}
	}
	return out, nil
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends a JSON request and decodes the response into out when non-nil.
// Non-2xx responses are errors; 404 wraps ErrCollectionNotFound.
func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, raw, fmt.Errorf("qdrant %s %s: %w", method, path, ErrCollectionNotFound)
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, raw, fmt.Errorf("qdrant %s %s failed: %s %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}
