package storage

import (
	"context"
	"sync"

	"github.com/richinex/tutor/internal/dsa"
	"github.com/richinex/tutor/llm"
)

// InMemoryStorage implements ConversationStorage on a radix tree keyed by
// session ID. Data is lost when the process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions *dsa.Trie[[]llm.ChatMessage]
}

// NewInMemoryStorage creates an empty store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{sessions: dsa.NewTrie[[]llm.ChatMessage]()}
}

// Save replaces the history for a session.
func (s *InMemoryStorage) Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions.Put(sessionID, copyHistory(history))
	return nil
}

// Load returns a copy of the session's history, empty if it is unknown.
func (s *InMemoryStorage) Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions.Search(sessionID)
	if !ok {
		return []llm.ChatMessage{}, nil
	}
	return copyHistory(history), nil
}

// Delete forgets a session.
func (s *InMemoryStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions.Delete(sessionID)
	return nil
}

// ListSessions lists session IDs in lexical order.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Keys(), nil
}

// Exists reports whether a session has been saved.
func (s *InMemoryStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions.Search(sessionID)
	return ok, nil
}

// copyHistory copies messages including their function-call directives, so
// neither side can mutate the other's view.
func copyHistory(history []llm.ChatMessage) []llm.ChatMessage {
	copied := make([]llm.ChatMessage, len(history))
	for i, msg := range history {
		copied[i] = msg
		if msg.FunctionCall != nil {
			fc := *msg.FunctionCall
			fc.Output = cloneRaw(fc.Output)
			copied[i].FunctionCall = &fc
		}
	}
	return copied
}

var _ ConversationStorage = (*InMemoryStorage)(nil)
