// Package tokens counts model tokens for budgeting prompts.
package tokens

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
)

// DefaultEncoding is the BPE shared by current OpenAI chat models. It is a
// close enough proxy for other providers when budgeting.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	CountTokens(text string) int
}

// Estimator approximates 4 characters per token. It needs no data files.
type Estimator struct{}

// CountTokens implements Counter.
func (Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// Tiktoken counts exactly with a tiktoken encoding.
type Tiktoken struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. The BPE ranks are downloaded on
// first use unless TIKTOKEN_CACHE_DIR holds them.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// CountTokens implements Counter.
func (t *Tiktoken) CountTokens(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// New returns a tiktoken counter, or the Estimator when the encoding cannot
// be loaded (e.g. offline).
func New(logger *slog.Logger) Counter {
	tok, err := NewTiktoken(DefaultEncoding)
	if err != nil {
		logging.OrNop(logger).Warn("token counting falls back to estimation", "error", err)
		return Estimator{}
	}
	return tok
}

// perMessageOverhead approximates role and separator tokens.
const perMessageOverhead = 4

// CountMessages returns the approximate prompt size of messages.
func CountMessages(c Counter, messages []core.Message) int {
	total := 0
	for _, m := range messages {
		total += c.CountTokens(m.Content) + perMessageOverhead
	}
	return total
}
