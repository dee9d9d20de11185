package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codeready-toolchain/remedy/pkg/metrics"
)

// DefaultCacheSize bounds the in-memory vector cache.
const DefaultCacheSize = 4096

// Cache wraps a provider with an LRU of computed vectors plus an
// optional disk directory that survives restarts. Keys are the SHA-256
// of (provider, model, text), so switching either invalidates cleanly.
type Cache struct {
	inner Provider
	model string
	lru   *lru.Cache[string, []float32]
	dir   string
	reg   *metrics.Registry

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheConfig tunes the cache. Dir empty disables the disk layer.
type CacheConfig struct {
	Model string
	Size  int
	Dir   string
}

// NewCache creates the cache. reg may be nil.
func NewCache(inner Provider, cfg CacheConfig, reg *metrics.Registry) (*Cache, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheSize
	}
	l, err := lru.New[string, []float32](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding lru: %w", err)
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create embedding cache directory %s: %w", cfg.Dir, err)
		}
	}
	return &Cache{inner: inner, model: cfg.Model, lru: l, dir: cfg.Dir, reg: reg}, nil
}

func (c *Cache) Name() string    { return c.inner.Name() }
func (c *Cache) Dimensions() int { return c.inner.Dimensions() }

// Stats reports lifetime hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed serves what it can from cache and batches the rest to the
// provider.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := c.key(text)
		if vec, ok := c.lru.Get(key); ok {
			c.hits.Add(1)
			out[i] = vec
			continue
		}
		if vec, ok := c.readDisk(key); ok {
			c.hits.Add(1)
			c.lru.Add(key, vec)
			out[i] = vec
			continue
		}
		c.misses.Add(1)
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	start := time.Now()
	vectors, err := c.inner.Embed(ctx, missTexts)
	if c.reg != nil {
		c.reg.EmbeddingLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("provider %s returned %d vectors for %d inputs", c.inner.Name(), len(vectors), len(missTexts))
	}

	for j, vec := range vectors {
		i := missIdx[j]
		out[i] = vec
		key := c.key(missTexts[j])
		c.lru.Add(key, vec)
		c.writeDisk(key, vec)
	}
	return out, nil
}

func (c *Cache) diskPath(key string) string {
	return filepath.Join(c.dir, key+".gob")
}

func (c *Cache) readDisk(key string) ([]float32, bool) {
	if c.dir == "" {
		return nil, false
	}
	f, err := os.Open(c.diskPath(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var vec []float32
	if err := gob.NewDecoder(f).Decode(&vec); err != nil {
		slog.Warn("Discarding unreadable cached embedding", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

func (c *Cache) writeDisk(key string, vec []float32) {
	if c.dir == "" {
		return
	}
	tmp := c.diskPath(key) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		slog.Warn("Failed to persist embedding", "key", key, "error", err)
		return
	}
	if err := gob.NewEncoder(f).Encode(vec); err != nil {
		f.Close()
		os.Remove(tmp)
		slog.Warn("Failed to encode embedding", "key", key, "error", err)
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return
	}
	// Rename keeps concurrent readers off half-written files.
	if err := os.Rename(tmp, c.diskPath(key)); err != nil {
		os.Remove(tmp)
	}
}
