// Package dsa provides the prefix tree backing the in-memory stores.
package dsa

import (
	"github.com/armon/go-radix"
)

// Trie wraps go-radix for a compressed prefix tree (radix tree).
// Cache keys share the long "responseCache." + prompt-template prefix, which
// the radix tree stores once instead of per key.
//
// Not safe for concurrent use; callers hold their own lock.
type Trie[V any] struct {
	tree *radix.Tree
}

// NewTrie creates a new empty radix tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{tree: radix.New()}
}

// InsertIfAbsent stores value under key unless key is already present.
// Reports whether the value was stored.
func (t *Trie[V]) InsertIfAbsent(key string, value V) bool {
	if _, found := t.tree.Get(key); found {
		return false
	}
	t.tree.Insert(key, value)
	return true
}

// Put stores value under key, replacing any previous value.
func (t *Trie[V]) Put(key string, value V) {
	t.tree.Insert(key, value)
}

// Delete removes key. Reports whether it was present.
func (t *Trie[V]) Delete(key string) bool {
	_, deleted := t.tree.Delete(key)
	return deleted
}

// Search looks up a key in the tree.
// Time Complexity: O(k) where k is key length.
func (t *Trie[V]) Search(key string) (V, bool) {
	val, found := t.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// WalkPrefix calls fn for every key starting with prefix, in lexical order,
// until fn returns false.
func (t *Trie[V]) WalkPrefix(prefix string, fn func(key string, value V) bool) {
	t.tree.WalkPrefix(prefix, func(k string, v interface{}) bool {
		val, ok := v.(V)
		if !ok {
			return false
		}
		return !fn(k, val)
	})
}

// Keys returns every key in lexical order.
func (t *Trie[V]) Keys() []string {
	keys := make([]string, 0, t.tree.Len())
	t.tree.Walk(func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}

// Len returns the number of keys in the tree.
func (t *Trie[V]) Len() int {
	return t.tree.Len()
}

// ToMap returns a copy of every entry.
func (t *Trie[V]) ToMap() map[string]V {
	out := make(map[string]V, t.tree.Len())
	t.tree.Walk(func(k string, v interface{}) bool {
		if val, ok := v.(V); ok {
			out[k] = val
		}
		return false
	})
	return out
}
