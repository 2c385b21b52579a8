package memory_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/memory"
)

// staticEmbedder returns fixed vectors per text.
type staticEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	err   error
	calls int
}

func newStaticEmbedder(vecs map[string][]float32) *staticEmbedder {
	return &staticEmbedder{vecs: vecs}
}

func (e *staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return append([]float32(nil), v...), nil
}

func (e *staticEmbedder) Dimensions() int { return 2 }

// fakeReranker scores documents with a func field.
type fakeReranker struct {
	rerank func(query string, docs []string, topN int) ([]memory.RerankResult, error)
	calls  int
}

func (r *fakeReranker) Rerank(_ context.Context, query string, docs []string, topN int) ([]memory.RerankResult, error) {
	r.calls++
	return r.rerank(query, docs, topN)
}

// fakeGenerator answers model calls with a func field and records requests.
type fakeGenerator struct {
	mu       sync.Mutex
	generate func(req *llm.Request) (*llm.Response, error)
	requests []*llm.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.generate(req)
}

// toolAnswer builds a response carrying a record_memory_operations call.
func toolAnswer(input string) func(*llm.Request) (*llm.Response, error) {
	return func(*llm.Request) (*llm.Response, error) {
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:    "call_1",
			Name:  "record_memory_operations",
			Input: []byte(input),
		}}}, nil
	}
}

// tickingClock returns strictly increasing times.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}
