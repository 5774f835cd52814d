// Package storage provides a SQLite-backed vector store for single-node deployments.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/mondai/internal/vector"
	"github.com/hyperjump/mondai/internal/vectorstore"
)

var _ vectorstore.VectorStore = (*SQLiteStore)(nil)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore implements vectorstore.VectorStore with vectors stored as blobs.
// Search is a brute-force cosine scan over the filtered rows.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dim INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS points (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		payload TEXT NOT NULL,
		filename TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_points_filename ON points(collection, filename);
	`
	_, err := db.Exec(schema)
	return err
}

// CollectionExists reports whether the collection has been created.
func (s *SQLiteStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ?`, collection).Scan(&n)
	return n > 0, err
}

// EnsureCollection creates the collection if missing. An existing collection with a
// different dimension is an error.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	var existing int
	err := s.db.QueryRowContext(ctx, `SELECT dim FROM collections WHERE name = ?`, collection).Scan(&existing)
	if err == nil {
		if existing != dim {
			return fmt.Errorf("collection %s has dimension %d, not %d", collection, existing, dim)
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO collections (name, dim, created_at) VALUES (?, ?, ?)`, collection, dim, time.Now())
	return err
}

// CreatePayloadIndex is a no-op: filename is always indexed.
func (s *SQLiteStore) CreatePayloadIndex(ctx context.Context, collection, field string) error {
	return nil
}

// Upsert inserts or replaces points in a transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	ok, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", collection, vectorstore.ErrCollectionNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO points (collection, id, vector, payload, filename, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range points {
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		filename, _ := p.Payload[vectorstore.FieldFilename].(string)
		if _, err := stmt.ExecContext(ctx, collection, p.ID, encodeVector(p.Vector), string(payloadJSON), filename, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// whereClause builds the filter condition. Filename uses its indexed column; other
// fields go through json_extract.
func whereClause(collection string, f *vectorstore.Filter) (string, []any, error) {
	clause := `collection = ?`
	args := []any{collection}
	if f == nil || f.Field == "" {
		return clause, args, nil
	}
	if !fieldPattern.MatchString(f.Field) {
		return "", nil, fmt.Errorf("invalid filter field %q", f.Field)
	}
	if f.Field == vectorstore.FieldFilename {
		return clause + ` AND filename = ?`, append(args, f.Value), nil
	}
	return clause + ` AND json_extract(payload, ?) = ?`, append(args, "$."+f.Field, f.Value), nil
}

// DeleteByFilter removes all points matching filter.
func (s *SQLiteStore) DeleteByFilter(ctx context.Context, collection string, filter *vectorstore.Filter) error {
	if filter == nil {
		return errors.New("delete requires a filter")
	}
	where, args, err := whereClause(collection, filter)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM points WHERE `+where, args...)
	return err
}

// Scroll pages by rowid. The returned offset is the last rowid of a full page.
func (s *SQLiteStore) Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, offset any) ([]vectorstore.Record, any, error) {
	if limit <= 0 {
		limit = 256
	}
	where, args, err := whereClause(collection, filter)
	if err != nil {
		return nil, nil, err
	}
	if after, ok := rowOffset(offset); ok {
		where += ` AND rowid > ?`
		args = append(args, after)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, id, payload FROM points WHERE `+where+` ORDER BY rowid LIMIT ?`, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []vectorstore.Record
	var last int64
	for rows.Next() {
		var rec vectorstore.Record
		var payloadJSON string
		if err := rows.Scan(&last, &rec.ID, &payloadJSON); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(out) < limit {
		return out, nil, nil
	}
	return out, last, nil
}

func rowOffset(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Search returns the k most similar points by cosine similarity. Ties keep insertion order.
func (s *SQLiteStore) Search(ctx context.Context, collection string, query []float32, filter *vectorstore.Filter, k int) ([]vectorstore.ScoredRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	where, args, err := whereClause(collection, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM points WHERE `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorstore.ScoredRecord
	for rows.Next() {
		var id, payloadJSON string
		var blob []byte
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, err
		}
		rec := vectorstore.ScoredRecord{Record: vectorstore.Record{ID: id}}
		rec.Score = vector.Cosine(query, decodeVector(blob))
		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		hits = append(hits, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// CountPoints returns the number of points in a collection.
func (s *SQLiteStore) CountPoints(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, collection).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
