package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// CachedGateway memoizes Embed/EmbedBatch results keyed by a SHA-256 hash
// of the input text, in an embedded Badger store. Grounded on the
// teacher's BadgerProceduralStore (internal/memory/procedural.go), which
// keeps workflow patterns in prefix-keyed Badger entries; here the prefix
// keys content hashes instead of pattern signatures, but the open/close
// and key-encoding shape is unchanged. The same content re-embedded twice
// (common across a user's repeated phrasing) costs one model call instead
// of two.
type CachedGateway struct {
	inner Gateway
	db    *badger.DB
}

const cacheKeyPrefix = "embedcache:"

func NewCachedGateway(inner Gateway, path string) (*CachedGateway, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("embedding: expand cache path: %w", err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("embedding: create cache dir: %w", err)
	}

	opts := badger.DefaultOptions(expanded).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embedding: open cache: %w", err)
	}

	return &CachedGateway{inner: inner, db: db}, nil
}

func (c *CachedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	if cached, ok := c.lookup(key); ok {
		return cached, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(key, vec)
	return vec, nil
}

func (c *CachedGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if cached, ok := c.lookup(cacheKey(t)); ok {
			out[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
		c.store(cacheKey(missTexts[j]), fresh[j])
	}

	return out, nil
}

func (c *CachedGateway) Dims() int { return c.inner.Dims() }

func (c *CachedGateway) Health(ctx context.Context) error { return c.inner.Health(ctx) }

func (c *CachedGateway) Close() error { return c.db.Close() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedGateway) lookup(key string) ([]float32, bool) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec = decodeFloats(val)
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	return vec, true
}

func (c *CachedGateway) store(key string, vec []float32) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodeFloats(vec))
	})
}

func encodeFloats(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// expandPath expands a leading "~" to the user's home directory, matching
// the teacher's BadgerProceduralStore.expandPath.
func expandPath(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
