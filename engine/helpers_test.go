package engine_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/memory"
)

// eventLog records pipeline steps in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(e string) int {
	n := 0
	for _, got := range l.list() {
		if got == e {
			n++
		}
	}
	return n
}

// fakeManager is a memory.Manager that logs calls.
type fakeManager struct {
	log       *eventLog
	recallErr error
	recalled  int
	// block, when set, is waited on inside Record.
	block     chan struct{}
	recordCtx []error
	mu        sync.Mutex
}

var _ memory.Manager = (*fakeManager)(nil)

func (m *fakeManager) Recall(_ context.Context, conv *core.Conversation, query string) (int, error) {
	m.log.add("recall")
	if m.recallErr != nil {
		return 0, m.recallErr
	}
	if m.recalled > 0 {
		conv.RemoveKind(core.KindRecall)
		conv.Append(core.NewInjectedMessage(core.KindRecall, memory.RecallHeader+"\n1. about "+query))
	}
	return m.recalled, nil
}

func (m *fakeManager) Record(ctx context.Context, _ *core.Conversation) (memory.SaveReport, error) {
	m.log.add("save")
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.recordCtx = append(m.recordCtx, ctx.Err())
	m.mu.Unlock()
	return memory.SaveReport{Added: 1}, nil
}

// scriptedGenerator streams a reply word by word.
type scriptedGenerator struct {
	log      *eventLog
	reply    string
	err      error
	mu       sync.Mutex
	requests []*llm.Request
	// hang, when set, streams the first word and then waits for ctx.
	hang bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if g.log != nil {
		g.log.add("generate")
	}
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}
	words := strings.SplitAfter(g.reply, " ")
	if g.hang {
		if req.StreamCallback != nil && len(words) > 0 && words[0] != "" {
			req.StreamCallback(words[0], false)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if req.StreamCallback != nil {
		for _, w := range words {
			req.StreamCallback(w, false)
		}
		req.StreamCallback("", true)
	}
	return &llm.Response{Text: g.reply, Usage: core.TokenUsage{InputTokens: 10, OutputTokens: 3}}, nil
}

func (g *scriptedGenerator) lastRequest() *llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

// logSummarizer records when the reducer summarizes.
type logSummarizer struct{ log *eventLog }

func (s logSummarizer) Summarize(_ context.Context, span []core.Message) (string, error) {
	s.log.add("summarize")
	return fmt.Sprintf("summary of %d messages", len(span)), nil
}

// memSnapshots keeps conversations in memory.
type memSnapshots struct {
	mu    sync.Mutex
	saved map[string][]core.Message
}

func (m *memSnapshots) Load(_ context.Context, id string) *core.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.RestoreConversation(id, m.saved[id])
}

func (m *memSnapshots) Save(_ context.Context, conv *core.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string][]core.Message{}
	}
	m.saved[conv.ID] = conv.Messages()
	return nil
}

// fakeFrontend feeds inputs and records output.
type fakeFrontend struct {
	mu     sync.Mutex
	inputs []string
	chunks []string
	states []core.State
	cancel chan struct{}
	// onChunk, when set, runs after each non-final chunk.
	onChunk func(chunk string)
}

func newFakeFrontend(inputs ...string) *fakeFrontend {
	return &fakeFrontend{inputs: inputs, cancel: make(chan struct{})}
}

func (f *fakeFrontend) WaitReady(context.Context) error { return nil }

func (f *fakeFrontend) ReadInput(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(f.inputs) == 0 {
		return "", io.EOF
	}
	in := f.inputs[0]
	f.inputs = f.inputs[1:]
	return in, nil
}

func (f *fakeFrontend) EmitChunk(chunk string, done bool) error {
	f.mu.Lock()
	if done {
		f.chunks = append(f.chunks, "<done>")
	} else {
		f.chunks = append(f.chunks, chunk)
	}
	hook := f.onChunk
	f.mu.Unlock()
	if hook != nil && !done {
		hook(chunk)
	}
	return nil
}

func (f *fakeFrontend) EmitState(s core.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return nil
}

func (f *fakeFrontend) Cancellation() <-chan struct{} { return f.cancel }
