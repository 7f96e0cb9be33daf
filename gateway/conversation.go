package gateway

import (
	"sync"

	"github.com/richinex/tutor/llm"
)

// Conversation is the ordered message history Resolve reads and appends to.
// Safe for concurrent use, though interleaved Resolve calls on one
// conversation produce an interleaved history.
type Conversation struct {
	mu       sync.Mutex
	messages []llm.ChatMessage
}

// NewConversation starts a conversation from an existing history.
func NewConversation(history ...llm.ChatMessage) *Conversation {
	c := &Conversation{}
	c.messages = append(c.messages, history...)
	return c
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []llm.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]llm.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds messages to the end of the history.
func (c *Conversation) Append(msgs ...llm.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
