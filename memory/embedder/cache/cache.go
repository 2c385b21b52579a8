// Package cache wraps a memory.Embedder with an in-process LRU/LFU cache.
//
// Recall, merge and save all embed the same user text within one turn; the
// cache turns those into a single upstream call. Concurrent misses for the
// same text are collapsed with singleflight.
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

// DefaultMaxBytes bounds the cached vectors.
const DefaultMaxBytes = 64 << 20

// Embedder caches embeddings by text.
type Embedder struct {
	next   memory.Embedder
	cache  *ristretto.Cache
	group  singleflight.Group
	logger *slog.Logger
}

var _ memory.Embedder = (*Embedder)(nil)

// New wraps next. maxBytes <= 0 uses DefaultMaxBytes.
func New(next memory.Embedder, maxBytes int64, logger *slog.Logger) (*Embedder, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		// About 10x the number of vectors expected at 1536 dims.
		NumCounters: maxBytes / 600,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{
		next:   next,
		cache:  c,
		logger: logging.OrNop(logger).With("component", "embedder.cache"),
	}, nil
}

// Embed implements memory.Embedder. Errors are never cached.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return clone(v.([]float32)), nil
	}

	v, err, shared := e.group.Do(text, func() (interface{}, error) {
		if v, ok := e.cache.Get(text); ok {
			return v, nil
		}
		emb, err := e.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		stored := clone(emb)
		e.cache.Set(text, stored, int64(len(stored)*4))
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.logger.Debug("embedding shared with concurrent caller")
	}
	return clone(v.([]float32)), nil
}

// Dimensions implements memory.Embedder.
func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
