package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
)

const (
	DefaultRecallLimit     = 5
	defaultOverFetchFactor = 3
)

// Retriever runs the two-stage search: an over-fetching cosine scan followed
// by an optional rerank.
type Retriever struct {
	store         Store
	embedder      Embedder
	reranker      Reranker
	limit         int
	overFetch     int
	minSimilarity float64
	logger        *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithReranker enables the second stage.
func WithReranker(r Reranker) RetrieverOption {
	return func(rt *Retriever) {
		rt.reranker = r
	}
}

// WithLimit sets the number of final results (k2).
func WithLimit(k int) RetrieverOption {
	return func(rt *Retriever) {
		rt.limit = k
	}
}

// WithOverFetch sets the number of stage-one candidates (k1).
func WithOverFetch(k int) RetrieverOption {
	return func(rt *Retriever) {
		rt.overFetch = k
	}
}

// WithMinSimilarity drops stage-one candidates below the given cosine
// similarity. Values <= 0 keep every candidate.
func WithMinSimilarity(min float64) RetrieverOption {
	return func(rt *Retriever) {
		rt.minSimilarity = min
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(rt *Retriever) {
		rt.logger = l
	}
}

// NewRetriever creates a Retriever.
func NewRetriever(store Store, embedder Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:    store,
		embedder: embedder,
		limit:    DefaultRecallLimit,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limit <= 0 {
		r.limit = DefaultRecallLimit
	}
	if r.overFetch < r.limit {
		r.overFetch = r.limit * defaultOverFetchFactor
	}
	r.logger = r.logger.With("component", "memory.retriever")
	return r
}

// Limit returns k2.
func (r *Retriever) Limit() int { return r.limit }

// OverFetch returns k1.
func (r *Retriever) OverFetch() int { return r.overFetch }

// Retrieve returns up to Limit() records relevant to query, best first.
// An empty store yields an empty slice. Embedding failures are returned and
// wrap core.ErrEmbeddingUnavailable; rerank failures are logged and fall back
// to cosine order.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	if r.store.Len() == 0 {
		return []Result{}, nil
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, core.Unavailable(core.ErrEmbeddingUnavailable, fmt.Errorf("embed query: %w", err))
	}

	candidates, err := r.store.Search(ctx, emb, r.overFetch)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}
	if r.minSimilarity > 0 {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Similarity >= r.minSimilarity {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	r.logger.Debug("stage one", "query", truncateLog(query, 50), "candidates", len(candidates))
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	if r.reranker != nil {
		reranked, err := r.rerank(ctx, query, candidates)
		if err == nil {
			return truncate(reranked, r.limit), nil
		}
		r.logger.Warn("rerank failed, using cosine order", "error", err)
	}
	return truncate(candidates, r.limit), nil
}

// rerank reorders candidates by the reranker's score. Candidates the reranker
// did not return follow in stage-one order; equal scores keep stage-one order.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []Result) ([]Result, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Record.Text
	}

	scored, err := r.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		return nil, core.Unavailable(core.ErrRerankUnavailable, err)
	}

	type ranked struct {
		Result
		stage1 int
	}
	seen := make([]bool, len(candidates))
	head := make([]ranked, 0, len(scored))
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(candidates) || seen[s.Index] {
			continue
		}
		seen[s.Index] = true
		res := candidates[s.Index]
		res.Score = float64(s.Score)
		head = append(head, ranked{Result: res, stage1: s.Index})
	}
	if len(head) == 0 {
		return nil, core.Unavailable(core.ErrRerankUnavailable, fmt.Errorf("reranker returned no usable results"))
	}
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Score != head[j].Score {
			return head[i].Score > head[j].Score
		}
		return head[i].stage1 < head[j].stage1
	})

	out := make([]Result, 0, len(candidates))
	for _, h := range head {
		out = append(out, h.Result)
	}
	for i, c := range candidates {
		if !seen[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

func truncate(results []Result, k int) []Result {
	if len(results) > k {
		return results[:k]
	}
	return results
}

// truncateLog truncates text to maxLen runes for logging.
func truncateLog(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
