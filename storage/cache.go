// Package storage persists the response cache and chat sessions.
//
// Information Hiding:
// - Backend data structures and file formats hidden behind Cache
// - Write-once semantics enforced by every backend, not by callers
// - Log lines carry key digests, never prompt text

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache is closed")

// Cache maps a composite request key to the response recorded for it.
//
// Entries are never invalidated: once a key holds a value, Put for that key
// is ignored and Get keeps returning the first value. A stored "" or null
// counts as no value and is replaced by the next Put.
type Cache interface {
	// Get returns the value stored under key. found is false for a miss.
	Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error)

	// Put stores value under key unless key already holds a non-empty value.
	Put(ctx context.Context, key string, value json.RawMessage) error

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Walk calls fn for every entry whose key starts with prefix, in key
	// order. A non-nil error from fn stops the walk and is returned.
	Walk(ctx context.Context, prefix string, fn func(key string, value json.RawMessage) error) error

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// Copy writes every entry of src into dst and returns how many entries were
// visited. Keys already holding a value in dst keep it.
func Copy(ctx context.Context, dst, src Cache) (int, error) {
	n := 0
	err := src.Walk(ctx, "", func(key string, value json.RawMessage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dst.Put(ctx, key, value); err != nil {
			return fmt.Errorf("failed to copy entry %s: %w", Digest(key), err)
		}
		n++
		return nil
	})
	return n, err
}

// Digest returns a short stable fingerprint of a cache key for logs and
// indexed lookups.
func Digest(key string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(key))
	return hex.EncodeToString(buf[:])
}

// emptyValue reports whether a stored value is "", null or blank, which
// callers treat as a miss.
func emptyValue(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
