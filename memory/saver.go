package memory

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/tools"
)

//go:embed prompt/saver.md
var saverPrompt string

const (
	DefaultSaverTurns = 6

	// saverContextMemories is how many existing memories the model sees so it
	// can reference their ids.
	saverContextMemories = 10
)

// ErrUnparsableOperations means the model answer did not match the
// operations contract. The whole batch is discarded.
var ErrUnparsableOperations = errors.New("unparsable memory operations")

// Operation is one change the model asked for.
type Operation struct {
	Operation string `json:"operation"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// OperationsInput is the record_memory_operations tool input.
type OperationsInput struct {
	core.BaseInput
	Operations []Operation `json:"operations"`
}

// SaveReport counts what a save pass did.
type SaveReport struct {
	Added   int
	Merged  int
	Updated int
	Deleted int
	Skipped int
}

// Total returns the number of applied operations.
func (r SaveReport) Total() int {
	return r.Added + r.Merged + r.Updated + r.Deleted
}

// Saver extracts facts from the latest turns and writes them to the store.
type Saver struct {
	generator llm.Generator
	store     Store
	policy    *MergePolicy
	turns     int
	logger    *slog.Logger
}

// NewSaver creates a Saver. Adds go through policy; explicit updates and
// deletes go straight to store.
func NewSaver(generator llm.Generator, store Store, policy *MergePolicy, turns int, logger *slog.Logger) *Saver {
	if turns <= 0 {
		turns = DefaultSaverTurns
	}
	return &Saver{
		generator: generator,
		store:     store,
		policy:    policy,
		turns:     turns,
		logger:    logging.OrNop(logger).With("component", "memory.saver"),
	}
}

// Turns returns how many recent messages the saver reads.
func (s *Saver) Turns() int { return s.turns }

// Save analyzes recent (un-injected messages, oldest first) and applies the
// resulting operations. A model failure or an unparsable answer skips the
// whole pass and returns the error; store errors on single operations are
// logged and counted as skipped.
func (s *Saver) Save(ctx context.Context, recent []core.Message) (SaveReport, error) {
	var report SaveReport
	if len(recent) == 0 {
		return report, nil
	}

	ops, err := s.extract(ctx, recent)
	if err != nil {
		return report, err
	}
	if len(ops) == 0 {
		s.logger.Debug("nothing worth remembering")
		return report, nil
	}

	for _, op := range ops {
		switch op.Operation {
		case tools.OpAdd:
			d, err := s.policy.Apply(ctx, op.Text)
			if err != nil {
				s.logger.Warn("add memory failed", "error", err)
				report.Skipped++
				continue
			}
			if d.Action == ActionMerged {
				report.Merged++
			} else {
				report.Added++
			}
		case tools.OpUpdate:
			if err := s.store.Update(ctx, op.ID, strings.TrimSpace(op.Text)); err != nil {
				s.logSkip("update", op.ID, err)
				report.Skipped++
				continue
			}
			report.Updated++
		case tools.OpDelete:
			if err := s.store.Delete(ctx, op.ID); err != nil {
				s.logSkip("delete", op.ID, err)
				report.Skipped++
				continue
			}
			report.Deleted++
		}
	}

	s.logger.Info("memories saved",
		"added", report.Added, "merged", report.Merged,
		"updated", report.Updated, "deleted", report.Deleted, "skipped", report.Skipped)
	return report, nil
}

func (s *Saver) logSkip(op, id string, err error) {
	if errors.Is(err, core.ErrNotFound) {
		s.logger.Info("ignoring stale memory reference", "operation", op, "id", id)
		return
	}
	s.logger.Warn("memory operation failed", "operation", op, "id", id, "error", err)
}

func (s *Saver) extract(ctx context.Context, recent []core.Message) ([]Operation, error) {
	transcript := renderTranscript(recent)

	prompt := "Recent conversation:\n\n" + transcript
	if existing := s.existingMemories(ctx, recent); existing != "" {
		prompt += "\n\nExisting memories (id: text):\n" + existing
	}

	resp, err := s.generator.Generate(ctx, &llm.Request{
		System:     saverPrompt,
		Messages:   []core.Message{core.NewMessage(core.RoleUser, prompt)},
		Tools:      tools.MemoryToolDefinitions(),
		ToolChoice: tools.RecordMemoryOperations,
		MaxTokens:  1024,
	})
	if err != nil {
		return nil, core.Unavailable(core.ErrModelUnavailable, err)
	}

	var raw []byte
	if tc, ok := resp.FindToolCall(tools.RecordMemoryOperations); ok {
		raw = tc.Input
	} else {
		raw = []byte(stripCodeFence(resp.Text))
	}
	return ParseOperations(raw)
}

// existingMemories lists the memories closest to the user's recent messages.
func (s *Saver) existingMemories(ctx context.Context, recent []core.Message) string {
	if s.store.Len() == 0 {
		return ""
	}

	var query []string
	for _, m := range recent {
		if m.Role == core.RoleUser {
			query = append(query, m.Content)
		}
	}
	if len(query) == 0 {
		return ""
	}

	emb, err := s.policy.embedder.Embed(ctx, strings.Join(query, "\n"))
	if err != nil {
		s.logger.Warn("embedding recent turns failed, saving without existing memories", "error", err)
		return ""
	}
	results, err := s.store.Search(ctx, emb, saverContextMemories)
	if err != nil {
		s.logger.Warn("listing existing memories failed", "error", err)
		return ""
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Record.ID, r.Record.Text)
	}
	return b.String()
}

// ParseOperations decodes and validates an operations payload. Either every
// operation is valid or an error wrapping ErrUnparsableOperations is returned.
func ParseOperations(raw []byte) ([]Operation, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("%w: empty answer", ErrUnparsableOperations)
	}

	var input OperationsInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparsableOperations, err)
	}

	for i, op := range input.Operations {
		op.Operation = strings.ToLower(strings.TrimSpace(op.Operation))
		input.Operations[i] = op
		switch op.Operation {
		case tools.OpAdd:
			if strings.TrimSpace(op.Text) == "" {
				return nil, fmt.Errorf("%w: operation %d: add without text", ErrUnparsableOperations, i)
			}
		case tools.OpUpdate:
			if op.ID == "" || strings.TrimSpace(op.Text) == "" {
				return nil, fmt.Errorf("%w: operation %d: update needs id and text", ErrUnparsableOperations, i)
			}
		case tools.OpDelete:
			if op.ID == "" {
				return nil, fmt.Errorf("%w: operation %d: delete without id", ErrUnparsableOperations, i)
			}
		default:
			return nil, fmt.Errorf("%w: operation %d: unknown operation %q", ErrUnparsableOperations, i, op.Operation)
		}
	}
	return input.Operations, nil
}

func renderTranscript(messages []core.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// stripCodeFence removes a surrounding ```json fence from a plain-text answer.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
