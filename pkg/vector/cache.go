package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OFFIS-RIT/quill/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// kv is the subset of the redis client the cache needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder memoises embeddings in Redis, keyed by model and a hash of
// the text. Re-indexing an unchanged chapter then costs no model calls.
// Redis failures are logged and treated as cache misses.
type CachedEmbedder struct {
	next   Embedder
	store  kv
	prefix string
	ttl    time.Duration
}

// NewCachedEmbedder wraps next. model namespaces the keys so switching
// embedding models never returns stale vectors.
func NewCachedEmbedder(next Embedder, client kv, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		next:   next,
		store:  client,
		prefix: "quill:emb:" + model + ":",
		ttl:    ttl,
	}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		raw, err := c.store.Get(ctx, c.key(t)).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Debug("[Vector] embedding cache read failed", "err", err)
			}
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
			continue
		}
		vec, ok := decodeVector(raw)
		if !ok {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
			continue
		}
		out[i] = vec
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.store.Set(ctx, c.key(missTexts[j]), encodeVector(vecs[j]), c.ttl).Err(); err != nil {
			logger.Debug("[Vector] embedding cache write failed", "err", err)
		}
	}
	return out, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, true
}
