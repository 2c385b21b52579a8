// Package chromem implements memory.Index on chromem-go.
//
// chromem-go is a pure Go, embedded vector database. Its query is an
// exhaustive cosine scan spread across CPUs, so results match the exact scan
// of the file store.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

const collectionName = "memories"

// Index keeps record embeddings in a chromem collection.
type Index struct {
	mu     sync.RWMutex
	db     *chromem.DB
	col    *chromem.Collection
	logger *slog.Logger
}

var _ memory.Index = (*Index)(nil)

// New creates an empty index.
func New(logger *slog.Logger) (*Index, error) {
	idx := &Index{logger: logging.OrNop(logger).With("component", "memory.chromem")}
	if err := idx.reset(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) reset() error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(
		collectionName,
		nil, // No metadata
		nil, // No embedding func (we provide embeddings)
	)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	i.mu.Lock()
	i.db, i.col = db, col
	i.mu.Unlock()
	return nil
}

// Upsert implements memory.Index.
func (i *Index) Upsert(ctx context.Context, rec memory.Record) error {
	i.mu.RLock()
	col := i.col
	i.mu.RUnlock()

	// Remove first so an update never leaves the old vector behind.
	if err := col.Delete(ctx, nil, nil, rec.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	err := col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: append([]float32(nil), rec.Embedding...),
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove implements memory.Index.
func (i *Index) Remove(ctx context.Context, id string) error {
	i.mu.RLock()
	col := i.col
	i.mu.RUnlock()

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query implements memory.Index. chromem-go requires nResults <= collection
// size, so k is clamped to the document count.
func (i *Index) Query(ctx context.Context, embedding []float32, k int) ([]memory.IndexHit, error) {
	i.mu.RLock()
	col := i.col
	i.mu.RUnlock()

	n := col.Count()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, append([]float32(nil), embedding...), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	i.logger.Debug("chromem query", "requested", k, "returned", len(results))

	hits := make([]memory.IndexHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.IndexHit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Reset implements memory.Index.
func (i *Index) Reset(_ context.Context) error {
	return i.reset()
}
