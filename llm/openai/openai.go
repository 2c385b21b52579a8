// Package openai implements llm.Generator on any OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
)

const DefaultModel = openai.GPT4oMini

// Config configures the generator.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// Generator calls a chat completions endpoint.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

// New creates a generator.
func New(cfg Config) *Generator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Generator{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Generate implements llm.Generator. Streaming is used only when no tools
// are requested.
func (g *Generator) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq := g.buildRequest(req)

	if req.StreamCallback != nil && len(req.Tools) == 0 {
		return g.stream(ctx, chatReq, req.StreamCallback)
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, core.Unavailable(core.ErrModelUnavailable, fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, core.Unavailable(core.ErrModelUnavailable, errors.New("chat completion returned no choices"))
	}

	choice := resp.Choices[0].Message
	out := &llm.Response{
		Text: choice.Content,
		Usage: core.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	if req.StreamCallback != nil {
		req.StreamCallback(out.Text, false)
		req.StreamCallback("", true)
	}
	return out, nil
}

func (g *Generator) stream(ctx context.Context, chatReq openai.ChatCompletionRequest, callback func(string, bool)) (*llm.Response, error) {
	chatReq.Stream = true
	stream, err := g.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, core.Unavailable(core.ErrModelUnavailable, fmt.Errorf("chat completion stream: %w", err))
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.Unavailable(core.ErrModelUnavailable, fmt.Errorf("chat completion stream: %w", err))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			text.WriteString(delta)
			callback(delta, false)
		}
	}
	callback("", true)
	return &llm.Response{Text: text.String()}, nil
}

func (g *Generator) buildRequest(req *llm.Request) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.maxTokens
	}

	system, messages := llm.SplitSystem(req.System, req.Messages)
	chatReq := openai.ChatCompletionRequest{
		Model:     g.model,
		MaxTokens: int(maxTokens),
	}
	if system != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    toRole(m.Role),
			Content: m.Content,
		})
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if req.ToolChoice != "" {
		chatReq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}
	}
	return chatReq
}

func toRole(r core.Role) string {
	switch r {
	case core.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
