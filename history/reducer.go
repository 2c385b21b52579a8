// Package history keeps a conversation inside a bounded context window.
//
// The Reducer evicts the oldest turns once the window overflows and folds
// them into a single injected summary produced by a Summarizer.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
)

// SummaryHeader opens every injected summary message.
const SummaryHeader = "=== Previous Conversation Summary ==="

// Defaults for Config.
const (
	DefaultWindowSize = 20
	DefaultBufferSize = 4
)

// State is the reducer state of a conversation.
type State int

const (
	// StateNormal means the window holds at most WindowSize+BufferSize
	// messages.
	StateNormal State = iota

	// StateOverBuffer means the next Reduce evicts.
	StateOverBuffer
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateOverBuffer:
		return "over_buffer"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Summarizer condenses an evicted span into prose.
type Summarizer interface {
	Summarize(ctx context.Context, span []core.Message) (string, error)
}

// Config bounds the window. Only messages that are neither pinned nor
// injected count toward it.
type Config struct {
	WindowSize int
	BufferSize int
}

// Validate checks the window bounds.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be at least 1, got %d", c.WindowSize)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer size must not be negative, got %d", c.BufferSize)
	}
	return nil
}

// Outcome reports what one Reduce call did.
type Outcome struct {
	Triggered  bool
	Evicted    int
	Stripped   int
	Summarized bool
}

// Reducer implements the sliding window. It keeps no per-conversation
// state and may be shared across sessions.
type Reducer struct {
	cfg        Config
	summarizer Summarizer
	logger     *slog.Logger
}

// NewReducer creates a Reducer. summarizer may be nil, in which case evicted
// spans are dropped.
func NewReducer(cfg Config, summarizer Summarizer, logger *slog.Logger) (*Reducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reducer{
		cfg:        cfg,
		summarizer: summarizer,
		logger:     logging.OrNop(logger).With("component", "history.reducer"),
	}, nil
}

// Config returns the window bounds.
func (r *Reducer) Config() Config { return r.cfg }

// StateOf reports the state conv is in.
func (r *Reducer) StateOf(conv *core.Conversation) State {
	if conv.WindowCount() > r.cfg.WindowSize+r.cfg.BufferSize {
		return StateOverBuffer
	}
	return StateNormal
}

// Append adds m to conv and reduces.
func (r *Reducer) Append(ctx context.Context, conv *core.Conversation, m core.Message) (core.Message, Outcome) {
	stored := conv.Append(m)
	return stored, r.Reduce(ctx, conv)
}

// Reduce brings an over-buffer conversation back to WindowSize.
//
// Every injected message except the latest recall block is stripped. The
// oldest windowed messages are then evicted and, together with any stripped
// summary, handed to the summarizer. On success one summary message takes
// the place where the evicted span began; on failure the span is dropped.
// Pinned messages and the latest recall block are never removed.
func (r *Reducer) Reduce(ctx context.Context, conv *core.Conversation) Outcome {
	count := conv.WindowCount()
	if count <= r.cfg.WindowSize+r.cfg.BufferSize {
		return Outcome{}
	}
	out := Outcome{Triggered: true}

	msgs := conv.Messages()
	liveRecall := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Injected && msgs[i].Kind == core.KindRecall {
			liveRecall = i
			break
		}
	}

	var priorSummaries []core.Message
	kept := make([]core.Message, 0, len(msgs))
	for i, m := range msgs {
		if m.Injected && i != liveRecall {
			out.Stripped++
			if m.Kind == core.KindSummary {
				priorSummaries = append(priorSummaries, m)
			}
			continue
		}
		kept = append(kept, m)
	}

	excess := count - r.cfg.WindowSize
	insertAt := -1
	var evicted []core.Message
	retained := make([]core.Message, 0, len(kept))
	for _, m := range kept {
		if excess > 0 && m.IsWindowed() {
			if insertAt < 0 {
				insertAt = len(retained)
			}
			evicted = append(evicted, m)
			excess--
			continue
		}
		retained = append(retained, m)
	}
	out.Evicted = len(evicted)

	span := make([]core.Message, 0, len(priorSummaries)+len(evicted))
	span = append(span, priorSummaries...)
	span = append(span, evicted...)

	summary, err := r.summarize(ctx, span)
	conv.Replace(retained)
	if err != nil {
		r.logger.Warn("summarization failed, evicted turns are dropped",
			"evicted", len(evicted), "error", err)
		return out
	}

	msg := core.NewInjectedMessage(core.KindSummary, SummaryHeader+"\n"+summary)
	msg.Timestamp = evicted[0].Timestamp
	conv.InsertAt(insertAt, msg)
	out.Summarized = true

	r.logger.Info("conversation reduced",
		"evicted", out.Evicted, "stripped", out.Stripped, "window", conv.WindowCount())
	return out
}

func (r *Reducer) summarize(ctx context.Context, span []core.Message) (string, error) {
	if r.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	return r.summarizer.Summarize(ctx, span)
}
