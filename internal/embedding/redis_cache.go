package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache shares embeddings between processes. Keys are prefix + sha256(text)
// so that long chunk texts do not become long keys.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to addr and verifies the connection with PING.
func NewRedisCache(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: logger}, nil
}

// Get returns the cached embedding; Redis errors are logged and reported as misses.
func (r *RedisCache) Get(ctx context.Context, text string) ([]float32, bool) {
	b, err := r.client.Get(ctx, r.Key(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("embedding cache get failed", zap.Error(err))
		}
		return nil, false
	}
	return decodeVector(b), true
}

// Set stores the embedding with the configured TTL (0 = no expiry).
func (r *RedisCache) Set(ctx context.Context, text string, value []float32) {
	if err := r.client.Set(ctx, r.Key(text), encodeVector(value), r.ttl).Err(); err != nil {
		r.logger.Warn("embedding cache set failed", zap.Error(err))
	}
}

// Key returns the Redis key for text.
func (r *RedisCache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return r.prefix + hex.EncodeToString(sum[:])
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
