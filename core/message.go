package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Kind tags messages the pipeline authored itself.
type Kind string

const (
	// KindChat is an ordinary user, assistant or system message.
	KindChat Kind = ""

	// KindRecall is a block of recalled memories.
	KindRecall Kind = "recall"

	// KindSummary replaces an evicted span of the conversation.
	KindSummary Kind = "summary"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Injected marks recall blocks and summaries. They are never authored by
	// the user or the model and may be stripped at any time.
	Injected bool `json:"injected,omitempty"`

	// Pinned messages survive eviction (e.g. the system prompt).
	Pinned bool `json:"pinned,omitempty"`

	Kind Kind `json:"kind,omitempty"`
}

// NewMessage creates a chat message. The timestamp is assigned when the
// message is appended to a Conversation.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:      uuid.New().String(),
		Role:    role,
		Content: content,
	}
}

// NewPinnedMessage creates a message that is never evicted.
func NewPinnedMessage(role Role, content string) Message {
	m := NewMessage(role, content)
	m.Pinned = true
	return m
}

// NewInjectedMessage creates a pipeline-authored system message.
func NewInjectedMessage(kind Kind, content string) Message {
	m := NewMessage(RoleSystem, content)
	m.Injected = true
	m.Kind = kind
	return m
}

// IsWindowed reports whether the message counts toward the sliding window.
func (m Message) IsWindowed() bool {
	return !m.Pinned && !m.Injected
}

// TokenUsage tracks model token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
