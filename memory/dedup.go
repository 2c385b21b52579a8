package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
)

// MergeMode selects how a near-duplicate fact is folded into the existing
// record.
type MergeMode string

const (
	// MergeReplace overwrites the existing text with the newer fact.
	MergeReplace MergeMode = "replace"

	// MergeConcatenate appends the newer fact to the existing text.
	MergeConcatenate MergeMode = "concatenate"
)

// DefaultMergeThreshold is conservative: a false merge loses data, a missed
// merge only costs a near-duplicate record.
const DefaultMergeThreshold = 0.85

// Decision actions.
const (
	ActionAdded  = "added"
	ActionMerged = "merged"
)

// Decision records what MergePolicy did with a candidate.
type Decision struct {
	Action     string
	ID         string
	Similarity float64
}

// MergePolicy inserts new facts or merges them into the closest existing
// record when it is similar enough.
type MergePolicy struct {
	store     Store
	embedder  Embedder
	threshold float64
	mode      MergeMode
	logger    *slog.Logger
}

// NewMergePolicy creates a policy. threshold <= 0 uses DefaultMergeThreshold
// and an empty mode uses MergeReplace.
func NewMergePolicy(store Store, embedder Embedder, threshold float64, mode MergeMode, logger *slog.Logger) *MergePolicy {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	if mode == "" {
		mode = MergeReplace
	}
	return &MergePolicy{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		mode:      mode,
		logger:    logging.OrNop(logger).With("component", "memory.merge"),
	}
}

// Threshold returns the similarity at or above which facts merge.
func (p *MergePolicy) Threshold() float64 { return p.threshold }

// Apply saves text, merging into the best match when its similarity reaches
// the threshold.
func (p *MergePolicy) Apply(ctx context.Context, text string) (Decision, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Decision{}, fmt.Errorf("empty memory text")
	}

	emb, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return Decision{}, core.Unavailable(core.ErrEmbeddingUnavailable, err)
	}
	best, err := p.store.Search(ctx, emb, 1)
	if err != nil {
		return Decision{}, fmt.Errorf("search for duplicate: %w", err)
	}

	if len(best) == 1 && best[0].Similarity >= p.threshold {
		match := best[0]
		merged := p.merge(match.Record.Text, text)
		if err := p.store.Update(ctx, match.Record.ID, merged); err != nil {
			return Decision{}, fmt.Errorf("merge into %s: %w", match.Record.ID, err)
		}
		p.logger.Debug("merged memory", "id", match.Record.ID, "similarity", match.Similarity)
		return Decision{Action: ActionMerged, ID: match.Record.ID, Similarity: match.Similarity}, nil
	}

	id, err := p.store.Add(ctx, text)
	if err != nil {
		return Decision{}, fmt.Errorf("add memory: %w", err)
	}
	d := Decision{Action: ActionAdded, ID: id}
	if len(best) == 1 {
		d.Similarity = best[0].Similarity
	}
	p.logger.Debug("added memory", "id", id, "closest", d.Similarity)
	return d, nil
}

func (p *MergePolicy) merge(existing, candidate string) string {
	if p.mode != MergeConcatenate {
		return candidate
	}
	if strings.Contains(existing, candidate) {
		return existing
	}
	return existing + "; " + candidate
}
