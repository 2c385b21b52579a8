package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
)

// RecallHeader opens every injected recall block.
const RecallHeader = "=== RELEVANT MEMORIES ==="

// Recaller injects memories relevant to the current message into the
// conversation.
type Recaller struct {
	retriever *Retriever
	logger    *slog.Logger
}

// NewRecaller creates a Recaller.
func NewRecaller(retriever *Retriever, logger *slog.Logger) *Recaller {
	return &Recaller{
		retriever: retriever,
		logger:    logging.OrNop(logger).With("component", "memory.recaller"),
	}
}

// Recall retrieves memories for query and appends one injected recall block
// to conv, removing the previous block first so only one is ever live.
// Nothing is injected when there are no results. It returns the number of
// memories injected.
func (r *Recaller) Recall(ctx context.Context, conv *core.Conversation, query string) (int, error) {
	if strings.TrimSpace(query) == "" {
		return 0, nil
	}

	results, err := r.retriever.Retrieve(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("retrieve memories: %w", err)
	}
	r.logger.Debug("retrieved memories", "query", truncateLog(query, 50), "count", len(results))
	if len(results) == 0 {
		return 0, nil
	}

	if n := conv.RemoveKind(core.KindRecall); n > 0 {
		r.logger.Debug("superseded recall block", "removed", n)
	}
	conv.Append(core.NewInjectedMessage(core.KindRecall, FormatRecall(results)))
	return len(results), nil
}

// FormatRecall renders results as a numbered block.
func FormatRecall(results []Result) string {
	var b strings.Builder
	b.WriteString(RecallHeader)
	b.WriteString("\n")
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, res.Record.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
