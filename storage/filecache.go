package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/richinex/tutor/internal/dsa"
)

// DefaultCacheFile is the cache file name used when no path is configured.
const DefaultCacheFile = "responseCache.json"

// FileCache is a Cache persisted as a single JSON object file mapping each
// key to its value. The whole file is read once and rewritten after every
// successful Put, via a temp file and rename.
type FileCache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries *dsa.Trie[json.RawMessage]
	loaded  bool
	closed  bool
}

// NewFileCache creates a cache backed by path. Nothing is read until Init or
// the first operation.
func NewFileCache(path string, logger *slog.Logger) *FileCache {
	if path == "" {
		path = DefaultCacheFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCache{
		path:    path,
		logger:  logger,
		entries: dsa.NewTrie[json.RawMessage](),
	}
}

// Path returns the backing file path.
func (c *FileCache) Path() string {
	return c.path
}

// Init loads the file. A missing, unreadable or malformed file leaves the
// cache empty and logs a warning; it is never an error.
func (c *FileCache) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.loadLocked()
	return nil
}

func (c *FileCache) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("cache file not found, starting empty", "path", c.path)
		return
	}
	if err != nil {
		c.logger.Warn("couldn't read cache, starting empty", "path", c.path, "error", err)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}

	var stored map[string]json.RawMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		c.logger.Warn("couldn't decode cache, starting empty", "path", c.path, "error", err)
		return
	}
	for k, v := range stored {
		c.entries.InsertIfAbsent(k, v)
	}
	c.logger.Debug("cache loaded", "path", c.path, "entries", len(stored))
}

// Get returns the value stored under key.
func (c *FileCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}
	c.loadLocked()

	v, ok := c.entries.Search(key)
	if !ok {
		return nil, false, nil
	}
	return cloneRaw(v), true, nil
}

// Put stores value under key and rewrites the file. Keys already holding a
// non-empty value are left alone and do not trigger a write. If the write fails the entry is still
// served from memory for the rest of the process.
func (c *FileCache) Put(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.loadLocked()

	if old, ok := c.entries.Search(key); ok && !emptyValue(old) {
		return nil
	}
	c.entries.Put(key, cloneRaw(value))
	return c.persistLocked()
}

func (c *FileCache) persistLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.entries.ToMap()); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	payload := bytes.TrimRight(buf.Bytes(), "\n")

	if dir := filepath.Dir(c.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}

	tmpFile := c.path + ".tmp"
	if err := os.WriteFile(tmpFile, payload, 0o644); err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := os.Rename(tmpFile, c.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (c *FileCache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.loadLocked()
	return c.entries.Len(), nil
}

// Walk visits entries under prefix in key order on a snapshot.
func (c *FileCache) Walk(ctx context.Context, prefix string, fn func(key string, value json.RawMessage) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.loadLocked()
	var keys []string
	var values []json.RawMessage
	c.entries.WalkPrefix(prefix, func(k string, v json.RawMessage) bool {
		keys = append(keys, k)
		values = append(values, cloneRaw(v))
		return true
	})
	c.mu.Unlock()

	for i, k := range keys {
		if err := fn(k, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the cache closed. Every write was already persisted.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ Cache = (*FileCache)(nil)
