// Package runlog appends one JSON line per generation or validation run.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultPath is where run records go when no path is configured.
const DefaultPath = "logs/generation_log.jsonl"

// Log writes run records as JSON lines through a zap JSON encoder.
type Log struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// Open creates the parent directory if needed and opens path for appending.
func Open(path string) (*Log, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp_utc",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     utcTime,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), zapcore.InfoLevel)
	return &Log{path: path, file: f, logger: zap.New(core)}, nil
}

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000000Z"))
}

// Path returns the file being written.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record and returns its id. Keys are written in sorted order.
// Safe on a nil *Log, which records nothing.
func (l *Log) Append(event string, record map[string]any) (string, error) {
	id := uuid.NewString()
	if l == nil {
		return id, nil
	}
	keys := make([]string, 0, len(record))
	for k := range record {
		if k == "id" || k == "timestamp_utc" || k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.String("id", id))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, record[k]))
	}
	l.logger.Info(event, fields...)
	return id, l.logger.Sync()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	_ = l.logger.Sync()
	return l.file.Close()
}
