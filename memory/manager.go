package memory

import (
	"context"
	"log/slog"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/logging"
)

// Manager is the memory interface the engine uses.
//
// The engine is opinionated about WHEN memory runs (recall before the model
// call, record after the reply is appended). The Manager decides HOW.
type Manager interface {
	// Recall injects memories relevant to query into conv and returns how
	// many were injected.
	Recall(ctx context.Context, conv *core.Conversation, query string) (int, error)

	// Record extracts facts from the latest turns of conv and stores them.
	Record(ctx context.Context, conv *core.Conversation) (SaveReport, error)
}

// SimpleManager wires Retriever, MergePolicy, Recaller and Saver over one
// Store.
type SimpleManager struct {
	store     Store
	retriever *Retriever
	policy    *MergePolicy
	recaller  *Recaller
	saver     *Saver
	config    *Config
	logger    *slog.Logger
}

var _ Manager = (*SimpleManager)(nil)

// Option configures a SimpleManager.
type Option func(*managerOptions)

type managerOptions struct {
	reranker Reranker
	logger   *slog.Logger
}

// WithManagerReranker enables the rerank stage of retrieval.
func WithManagerReranker(r Reranker) Option {
	return func(o *managerOptions) {
		o.reranker = r
	}
}

// WithManagerLogger sets the logger for every component of the manager.
func WithManagerLogger(l *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// NewSimpleManager creates a SimpleManager. generator is used for fact
// extraction.
func NewSimpleManager(store Store, embedder Embedder, generator llm.Generator, config *Config, opts ...Option) *SimpleManager {
	if config == nil {
		config = DefaultConfig()
	}
	o := &managerOptions{logger: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	rOpts := []RetrieverOption{
		WithLimit(config.RecallLimit),
		WithOverFetch(config.OverFetch),
		WithMinSimilarity(config.MinSimilarity),
		WithRetrieverLogger(o.logger),
	}
	if o.reranker != nil {
		rOpts = append(rOpts, WithReranker(o.reranker))
	}
	retriever := NewRetriever(store, embedder, rOpts...)
	policy := NewMergePolicy(store, embedder, config.MergeThreshold, config.MergeMode, o.logger)

	return &SimpleManager{
		store:     store,
		retriever: retriever,
		policy:    policy,
		recaller:  NewRecaller(retriever, o.logger),
		saver:     NewSaver(generator, store, policy, config.SaverTurns, o.logger),
		config:    config,
		logger:    o.logger.With("component", "memory.manager"),
	}
}

// Recall implements Manager.
func (m *SimpleManager) Recall(ctx context.Context, conv *core.Conversation, query string) (int, error) {
	if !m.config.Enabled {
		return 0, nil
	}
	return m.recaller.Recall(ctx, conv, query)
}

// Record implements Manager.
func (m *SimpleManager) Record(ctx context.Context, conv *core.Conversation) (SaveReport, error) {
	if !m.config.Enabled {
		return SaveReport{}, nil
	}
	return m.saver.Save(ctx, conv.Recent(m.saver.Turns()))
}

// Retriever exposes the two-stage search, e.g. for a search command.
func (m *SimpleManager) Retriever() *Retriever { return m.retriever }

// Policy exposes the merge policy, e.g. for a manual add command.
func (m *SimpleManager) Policy() *MergePolicy { return m.policy }

// Store returns the underlying store.
func (m *SimpleManager) Store() Store { return m.store }

// Config holds SimpleManager configuration.
type Config struct {
	// Enabled toggles the memory system on/off.
	Enabled bool

	// MinSimilarity is the minimum cosine similarity for recall [0.0-1.0].
	// Tiny models (all-MiniLM-L6-v2) produce lower scores (~0.35 for similar
	// text) than API models (0.7-0.85).
	MinSimilarity float64

	// RecallLimit is the number of memories injected per turn (k2).
	RecallLimit int

	// OverFetch is the number of cosine candidates handed to the reranker
	// (k1). Values below RecallLimit default to 3x RecallLimit.
	OverFetch int

	// MergeThreshold is the cosine similarity at or above which a new fact
	// merges into the closest existing one.
	MergeThreshold float64

	// MergeMode is MergeReplace or MergeConcatenate.
	MergeMode MergeMode

	// SaverTurns is how many recent messages the saver reads.
	SaverTurns int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		MinSimilarity:  0.3,
		RecallLimit:    DefaultRecallLimit,
		OverFetch:      DefaultRecallLimit * defaultOverFetchFactor,
		MergeThreshold: DefaultMergeThreshold,
		MergeMode:      MergeReplace,
		SaverTurns:     DefaultSaverTurns,
	}
}
