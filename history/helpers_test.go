package history_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
)

// recordingSummarizer returns one line per message it saw.
type recordingSummarizer struct {
	mu    sync.Mutex
	spans [][]core.Message
	err   error
}

func (s *recordingSummarizer) Summarize(_ context.Context, span []core.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, append([]core.Message(nil), span...))
	if s.err != nil {
		return "", s.err
	}
	parts := make([]string, len(span))
	for i, m := range span {
		parts[i] = m.Content
	}
	return "covers " + strings.Join(parts, " | "), nil
}

type fakeGenerator struct {
	requests []*llm.Request
	text     string
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Text: g.text}, nil
}

var errDown = errors.New("model down")

func chat(i int) core.Message {
	role := core.RoleUser
	if i%2 == 0 {
		role = core.RoleAssistant
	}
	return core.NewMessage(role, fmt.Sprintf("m%d", i))
}
