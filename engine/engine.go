package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/history"
	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/metrics"
)

// ErrEmptyMessage is returned by Run for a blank user message.
var ErrEmptyMessage = errors.New("empty user message")

// Snapshots persists conversations between runs.
type Snapshots interface {
	// Load returns the session's conversation, or an empty one.
	Load(ctx context.Context, sessionID string) *core.Conversation
	Save(ctx context.Context, conv *core.Conversation) error
}

// Engine runs conversation turns: recall, generate, append, save, reduce.
type Engine struct {
	generator    llm.Generator
	memory       memory.Manager  // Optional: long-term memory
	reducer      *history.Reducer // Optional: sliding window
	snapshots    Snapshots        // Optional: conversation persistence
	metrics      *metrics.Metrics // Optional
	logger       *slog.Logger
	systemPrompt string
	maxTokens    int64
	syncPost     bool

	mu       sync.Mutex
	sessions map[string]*session
	post     sync.WaitGroup
}

// Option configures the engine.
type Option func(*Engine)

// WithMemory configures the engine with a memory manager.
func WithMemory(m memory.Manager) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithReducer bounds conversations with a sliding window.
func WithReducer(r *history.Reducer) Option {
	return func(e *Engine) {
		e.reducer = r
	}
}

// WithSnapshots persists each session's conversation after every turn.
func WithSnapshots(s Snapshots) Option {
	return func(e *Engine) {
		e.snapshots = s
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSystemPrompt sets the prompt pinned at the top of new sessions.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		e.systemPrompt = prompt
	}
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		e.maxTokens = n
	}
}

// WithSyncPostProcessing makes Run return only after memories are saved and
// history is reduced. By default that work runs in the background and the
// next turn of the session waits for it.
func WithSyncPostProcessing() Option {
	return func(e *Engine) {
		e.syncPost = true
	}
}

// NewEngine creates a new engine around a chat model.
func NewEngine(generator llm.Generator, opts ...Option) *Engine {
	e := &Engine{
		generator:    generator,
		logger:       logging.Nop(),
		systemPrompt: DefaultSystemPrompt,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Input represents one user turn.
type Input struct {
	// SessionID selects the conversation. Empty uses "default".
	SessionID string

	// UserMessage is the user's message to process.
	UserMessage string

	// StreamCallback is an optional callback for streaming responses.
	StreamCallback func(chunk string, done bool)
}

// Output represents the result of a turn.
type Output struct {
	// Text is the reply that was appended to the conversation. After a
	// cancellation it holds the partial reply, if any.
	Text string

	// Recalled is the number of memories injected for this turn.
	Recalled int

	// Cancelled is set when generation stopped because ctx was cancelled.
	Cancelled bool

	// TokensUsed tracks model token consumption for the reply.
	TokensUsed core.TokenUsage
}

// Run executes one turn. It blocks until the previous turn of the same
// session has finished post-processing.
//
// Memory failures never fail a turn; they are logged and the turn continues
// without memories. A model failure returns an error wrapping
// core.ErrModelUnavailable. Cancelling ctx stops generation; whatever was
// streamed so far is kept and post-processed.
func (e *Engine) Run(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.UserMessage) == "" {
		return nil, ErrEmptyMessage
	}
	start := time.Now()
	s := e.session(ctx, input.SessionID)
	logger := e.logger.With("session", s.id)

	if err := s.acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for previous turn: %w", err)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			s.release()
		}
	}()

	out := &Output{}

	// === PHASE 0: RECALL MEMORIES ===
	if e.memory != nil {
		n, err := e.memory.Recall(ctx, s.conv, input.UserMessage)
		e.metrics.Recall(n, err)
		if err != nil {
			logger.Warn("recall failed, continuing without memories", "error", err)
		} else {
			out.Recalled = n
		}
	}
	s.conv.Append(core.NewMessage(core.RoleUser, input.UserMessage))
	if e.reducer != nil {
		// The window is checked after every append, so the model never sees
		// more than window+buffer windowed messages.
		e.metrics.Reduce(e.reducer.Reduce(context.WithoutCancel(ctx), s.conv))
	}

	// === PHASE 1: GENERATE ===
	var partial strings.Builder
	streamed := false
	resp, genErr := e.generator.Generate(ctx, &llm.Request{
		Messages:  s.conv.Messages(),
		MaxTokens: e.maxTokens,
		StreamCallback: func(chunk string, done bool) {
			partial.WriteString(chunk)
			if chunk != "" {
				streamed = true
			}
			if input.StreamCallback != nil && !done {
				input.StreamCallback(chunk, false)
			}
		},
	})

	text := partial.String()
	if genErr == nil {
		text = resp.Text
		out.TokensUsed = resp.Usage
	} else if ctx.Err() != nil {
		out.Cancelled = true
		logger.Info("generation cancelled", "partial_chars", len(text))
	}
	if input.StreamCallback != nil {
		if !streamed && text != "" {
			input.StreamCallback(text, false)
		}
		input.StreamCallback("", true)
	}

	// === PHASE 2: APPEND RESPONSE ===
	appended := false
	if strings.TrimSpace(text) != "" {
		s.conv.Append(core.NewMessage(core.RoleAssistant, text))
		out.Text = text
		appended = true
	}

	// === PHASE 3: POST-PROCESS ===
	// The session gate stays held until post-processing finishes so the
	// next turn never recalls from a store or history that is mid-update.
	handedOff = true
	postCtx := context.WithoutCancel(ctx)
	if e.syncPost {
		e.postProcess(postCtx, s, appended)
		s.release()
	} else {
		e.post.Add(1)
		go func() {
			defer e.post.Done()
			defer s.release()
			e.postProcess(postCtx, s, appended)
		}()
	}

	switch {
	case out.Cancelled:
		e.metrics.Turn(metrics.OutcomeCancelled, time.Since(start))
	case genErr != nil:
		e.metrics.Turn(metrics.OutcomeError, time.Since(start))
		logger.Error("generation failed", "error", genErr)
		return out, core.Unavailable(core.ErrModelUnavailable, genErr)
	default:
		e.metrics.Turn(metrics.OutcomeOK, time.Since(start))
	}
	logger.Debug("turn complete",
		"recalled", out.Recalled,
		"input_tokens", out.TokensUsed.InputTokens,
		"output_tokens", out.TokensUsed.OutputTokens)
	return out, nil
}

// postProcess saves memories, reduces history and persists the
// conversation, in that order. Saving and reducing are skipped when no
// reply was appended. Failures are logged.
func (e *Engine) postProcess(ctx context.Context, s *session, appended bool) {
	start := time.Now()
	logger := e.logger.With("session", s.id)

	if appended {
		// === PHASE 4: SAVE MEMORIES ===
		if e.memory != nil {
			report, err := e.memory.Record(ctx, s.conv)
			e.metrics.Save(report, err)
			if err != nil {
				logger.Warn("memory save skipped", "error", err)
			}
		}

		// === PHASE 5: REDUCE HISTORY ===
		if e.reducer != nil {
			outcome := e.reducer.Reduce(ctx, s.conv)
			e.metrics.Reduce(outcome)
		}
	}

	if e.snapshots != nil {
		if err := e.snapshots.Save(ctx, s.conv); err != nil {
			logger.Error("conversation snapshot failed", "error", err)
		}
	}
	e.metrics.PostProcessing(time.Since(start))
}

// Wait blocks until the session has no turn or post-processing in flight.
func (e *Engine) Wait(ctx context.Context, sessionID string) error {
	s := e.session(ctx, sessionID)
	if err := s.acquire(ctx); err != nil {
		return err
	}
	s.release()
	return nil
}

// Conversation returns a copy of the session's messages once in-flight
// post-processing has finished.
func (e *Engine) Conversation(ctx context.Context, sessionID string) ([]core.Message, error) {
	s := e.session(ctx, sessionID)
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.conv.Messages(), nil
}

// Close waits for all background post-processing to finish.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.post.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for post-processing: %w", ctx.Err())
	}
}

// DefaultSystemPrompt is the default system prompt for the agent.
const DefaultSystemPrompt = `You are a helpful assistant with a long-term memory.

GUIDELINES:
- Be conversational and helpful
- Ask clarifying questions when needed
- Keep answers short unless the user asks for detail

MEMORY:
Messages wrapped in <context> are written by the memory system, not by the user.
- "RELEVANT MEMORIES" lists facts remembered from earlier conversations. Use them when they help, and do not mention the list itself.
- "Previous Conversation Summary" condenses turns that no longer fit in the conversation.
If a remembered fact conflicts with what the user says now, trust the user.`
