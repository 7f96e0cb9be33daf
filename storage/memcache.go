package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/richinex/tutor/internal/dsa"
)

// MemoryCache is a process-local Cache on a radix tree.
// Contents are lost when the process exits.
type MemoryCache struct {
	mu      sync.RWMutex
	entries *dsa.Trie[json.RawMessage]
	closed  bool
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: dsa.NewTrie[json.RawMessage]()}
}

// Get returns a copy of the value stored under key.
func (c *MemoryCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, ErrClosed
	}
	v, ok := c.entries.Search(key)
	if !ok {
		return nil, false, nil
	}
	return cloneRaw(v), true, nil
}

// Put stores value under key unless key already holds a non-empty value.
func (c *MemoryCache) Put(ctx context.Context, key string, value json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if old, ok := c.entries.Search(key); ok && !emptyValue(old) {
		return nil
	}
	c.entries.Put(key, cloneRaw(value))
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClosed
	}
	return c.entries.Len(), nil
}

// Walk visits entries under prefix in key order. fn runs without the lock
// held, on a snapshot taken when the walk starts.
func (c *MemoryCache) Walk(ctx context.Context, prefix string, fn func(key string, value json.RawMessage) error) error {
	type entry struct {
		key   string
		value json.RawMessage
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	var snapshot []entry
	c.entries.WalkPrefix(prefix, func(k string, v json.RawMessage) bool {
		snapshot = append(snapshot, entry{k, cloneRaw(v)})
		return true
	})
	c.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the cache closed.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ Cache = (*MemoryCache)(nil)
