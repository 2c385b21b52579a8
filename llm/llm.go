// Package llm defines the language-model capability the pipeline depends on.
//
// The capability is opaque: given a system prompt, a message history and
// optional tools it returns text and/or tool calls. It is used for chat
// replies, for memory extraction and for summarization, each with its own
// prompt contract.
package llm

import (
	"context"
	"encoding/json"

	"github.com/becomeliminal/nim-recall/core"
)

// Generator produces a model response.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Request is one model call.
type Request struct {
	// System is the system prompt. Pinned system messages in Messages are
	// appended to it by the adapters.
	System string

	Messages []core.Message

	Tools []ToolDefinition

	// ToolChoice forces the named tool when set.
	ToolChoice string

	// MaxTokens caps the response. Zero uses the adapter default.
	MaxTokens int64

	// StreamCallback receives text deltas as they arrive. The final call has
	// done == true and an empty chunk.
	StreamCallback func(chunk string, done bool)
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Response is the model's answer.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     core.TokenUsage
}

// FindToolCall returns the first call to the named tool.
func (r *Response) FindToolCall(name string) (ToolCall, bool) {
	for _, tc := range r.ToolCalls {
		if tc.Name == name {
			return tc, true
		}
	}
	return ToolCall{}, false
}

// SplitSystem separates the system prompt material from the conversational
// messages. Pinned system messages join the system prompt; injected system
// messages are returned as context blocks in conversation order.
func SplitSystem(system string, messages []core.Message) (string, []core.Message) {
	var rest []core.Message
	for _, m := range messages {
		if m.Role == core.RoleSystem && m.Pinned && !m.Injected {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
