package core

import "time"

// Conversation is the ordered message history of one session.
//
// A Conversation is owned by exactly one pipeline at a time and is not safe
// for concurrent use.
type Conversation struct {
	ID       string
	messages []Message
	now      func() time.Time
}

// NewConversation creates an empty conversation.
func NewConversation(id string) *Conversation {
	return &Conversation{ID: id, now: time.Now}
}

// RestoreConversation rebuilds a conversation from persisted messages.
// Messages are kept as given; the caller is responsible for their order.
func RestoreConversation(id string, messages []Message) *Conversation {
	c := NewConversation(id)
	c.messages = append(c.messages, messages...)
	return c
}

// Append stamps the message and adds it to the end of the conversation.
// Timestamps are strictly increasing even when the clock is coarse.
func (c *Conversation) Append(m Message) Message {
	ts := c.now()
	if n := len(c.messages); n > 0 {
		if last := c.messages[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}
	m.Timestamp = ts
	c.messages = append(c.messages, m)
	return m
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages, pinned and injected included.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// WindowCount returns the number of messages subject to eviction.
func (c *Conversation) WindowCount() int {
	n := 0
	for _, m := range c.messages {
		if m.IsWindowed() {
			n++
		}
	}
	return n
}

// Replace swaps the whole history.
func (c *Conversation) Replace(messages []Message) {
	c.messages = append(c.messages[:0:0], messages...)
}

// InsertAt places m at index i, shifting later messages right.
func (c *Conversation) InsertAt(i int, m Message) {
	if i < 0 {
		i = 0
	}
	if i >= len(c.messages) {
		c.messages = append(c.messages, m)
		return
	}
	c.messages = append(c.messages, Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
}

// RemoveKind drops every injected message of the given kind and returns how
// many were removed.
func (c *Conversation) RemoveKind(kind Kind) int {
	kept := c.messages[:0]
	removed := 0
	for _, m := range c.messages {
		if m.Injected && m.Kind == kind {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	return removed
}

// Recent returns up to n of the latest windowed messages, oldest first.
func (c *Conversation) Recent(n int) []Message {
	var out []Message
	for i := len(c.messages) - 1; i >= 0 && len(out) < n; i-- {
		if c.messages[i].IsWindowed() {
			out = append(out, c.messages[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
