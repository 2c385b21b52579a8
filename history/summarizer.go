package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/tokens"
)

//go:embed prompt/summarize.md
var summarizePrompt string

// DefaultMaxInputTokens bounds the transcript sent for summarization.
const DefaultMaxInputTokens = 8000

// ErrEmptySummary is returned when the model answers with no text.
var ErrEmptySummary = errors.New("empty summary")

// LLMSummarizer summarizes with a language model.
type LLMSummarizer struct {
	generator      llm.Generator
	counter        tokens.Counter
	maxInputTokens int
	maxTokens      int64
	logger         *slog.Logger
}

// SummarizerOption configures an LLMSummarizer.
type SummarizerOption func(*LLMSummarizer)

// WithTokenCounter sets the counter used to enforce the input budget.
func WithTokenCounter(c tokens.Counter) SummarizerOption {
	return func(s *LLMSummarizer) {
		s.counter = c
	}
}

// WithMaxInputTokens sets the transcript budget.
func WithMaxInputTokens(n int) SummarizerOption {
	return func(s *LLMSummarizer) {
		s.maxInputTokens = n
	}
}

// WithSummarizerLogger sets the logger.
func WithSummarizerLogger(l *slog.Logger) SummarizerOption {
	return func(s *LLMSummarizer) {
		s.logger = l
	}
}

// NewLLMSummarizer creates a summarizer.
func NewLLMSummarizer(generator llm.Generator, opts ...SummarizerOption) *LLMSummarizer {
	s := &LLMSummarizer{
		generator:      generator,
		counter:        tokens.Estimator{},
		maxInputTokens: DefaultMaxInputTokens,
		maxTokens:      512,
		logger:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "history.summarizer")
	return s
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, span []core.Message) (string, error) {
	if len(span) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	transcript, dropped := s.render(span)
	if dropped > 0 {
		s.logger.Warn("summary input over budget, oldest turns left out",
			"dropped", dropped, "budget", s.maxInputTokens)
	}

	resp, err := s.generator.Generate(ctx, &llm.Request{
		System:    summarizePrompt,
		Messages:  []core.Message{core.NewMessage(core.RoleUser, transcript)},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", core.Unavailable(core.ErrModelUnavailable, err)
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return "", ErrEmptySummary
	}
	s.logger.Debug("summarized", "messages", len(span), "chars", len(summary))
	return summary, nil
}

// render builds the transcript. Earlier summaries always stay; when the
// budget is exceeded the oldest chat turns are left out first.
func (s *LLMSummarizer) render(span []core.Message) (string, int) {
	var head, turns []string
	for _, m := range span {
		if m.Injected && m.Kind == core.KindSummary {
			head = append(head, "Previous summary: "+strings.TrimSpace(strings.TrimPrefix(m.Content, SummaryHeader)))
			continue
		}
		turns = append(turns, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}

	budget := s.maxInputTokens
	for _, h := range head {
		budget -= s.counter.CountTokens(h)
	}
	start := len(turns)
	for start > 0 {
		cost := s.counter.CountTokens(turns[start-1])
		if budget-cost < 0 && start < len(turns) {
			break
		}
		budget -= cost
		start--
	}

	var b strings.Builder
	for _, h := range head {
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	for _, t := range turns[start:] {
		b.WriteString(t)
		b.WriteString("\n")
	}
	return b.String(), start
}
