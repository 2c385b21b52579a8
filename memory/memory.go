package memory

import (
	"context"
	"time"
)

// Record is one remembered fact.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias store memory.
func (r Record) Clone() Record {
	r.Embedding = append([]float32(nil), r.Embedding...)
	return r
}

// Result is a search hit.
type Result struct {
	Record Record

	// Similarity is the cosine similarity to the query embedding.
	Similarity float64

	// Score is the final relevance used for ordering. It equals Similarity
	// unless a reranker scored the hit.
	Score float64
}

// Store is the durable memory collection.
// Implementation: file.Store, optionally ranking through a chromem-go Index.
//
// Stores are safe for concurrent use. Searches never observe a record mid-update.
type Store interface {
	// Add embeds text and persists a new record. If embedding fails the add
	// is aborted and the error wraps core.ErrEmbeddingUnavailable.
	Add(ctx context.Context, text string) (string, error)

	// Update re-embeds text, replaces the record text and bumps UpdatedAt.
	// Returns core.ErrNotFound for an unknown id.
	Update(ctx context.Context, id string, text string) error

	// Delete removes a record. Returns core.ErrNotFound for an unknown id.
	Delete(ctx context.Context, id string) error

	// Get returns a copy of a record.
	Get(ctx context.Context, id string) (Record, error)

	// List returns copies of every record, oldest first.
	List(ctx context.Context) ([]Record, error)

	// Search ranks every record by cosine similarity to embedding and returns
	// the top k. Ties are broken by most recent UpdatedAt.
	Search(ctx context.Context, embedding []float32, k int) ([]Result, error)

	// Len returns the number of records.
	Len() int

	// Load replaces the in-memory state with the persisted snapshot. A
	// corrupt snapshot leaves the store empty and returns an error wrapping
	// core.ErrCorruptSnapshot.
	Load(ctx context.Context) error

	// Save atomically persists the whole store.
	Save(ctx context.Context) error

	// Close flushes and releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: openai (API), onnx (local model), mock (deterministic),
// cache (decorator).
type Embedder interface {
	// Embed converts a single text to an embedding vector. Failures wrap
	// core.ErrEmbeddingUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size, or 0 when unknown until the
	// first call.
	Dimensions() int
}

// RerankResult is one reranked candidate.
type RerankResult struct {
	Index int     // Index into the documents passed to Rerank
	Score float32 // Relevance score, higher is better
}

// Reranker reorders candidate documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
}

// IndexHit is a candidate returned by an Index.
type IndexHit struct {
	ID         string
	Similarity float64
}

// Index is an optional search structure a Store keeps in sync with its
// records. The store stays the source of truth; the index only ranks ids.
// Implementations: chromem.Index.
type Index interface {
	Upsert(ctx context.Context, rec Record) error
	Remove(ctx context.Context, id string) error
	Query(ctx context.Context, embedding []float32, k int) ([]IndexHit, error)
	Reset(ctx context.Context) error
}
