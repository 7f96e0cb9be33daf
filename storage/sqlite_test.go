package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/richinex/tutor/llm"
)

func TestSqliteStorageSaveAndLoad(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	messages := []llm.ChatMessage{
		llm.UserMessage("我今天去学校了"),
		{
			Role: llm.RoleAssistant,
			FunctionCall: &llm.FunctionCall{
				Name:      "reply",
				Arguments: `{"replyText":"很好！"}`,
				Output:    json.RawMessage(`"很好！"`),
			},
		},
		llm.AssistantMessage("plain text"),
	}

	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded))
	}
	if loaded[0].Role != llm.RoleUser || loaded[0].Content != "我今天去学校了" {
		t.Errorf("unexpected first message: %+v", loaded[0])
	}
	fc := loaded[1].FunctionCall
	if fc == nil || fc.Name != "reply" || fc.Arguments != `{"replyText":"很好！"}` {
		t.Errorf("function call not round-tripped: %+v", fc)
	}
	if fc != nil && string(fc.Output) != `"很好！"` {
		t.Errorf("unexpected output: %s", fc.Output)
	}
	if loaded[2].FunctionCall != nil {
		t.Errorf("expected no function call on plain message, got %+v", loaded[2].FunctionCall)
	}
}

func TestSqliteStorageSaveReplacesHistory(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()
	_ = storage.Save(ctx, "s", []llm.ChatMessage{llm.UserMessage("a"), llm.UserMessage("b")})
	if err := storage.Save(ctx, "s", []llm.ChatMessage{llm.UserMessage("c")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _ := storage.Load(ctx, "s")
	if len(loaded) != 1 || loaded[0].Content != "c" {
		t.Errorf("expected history to be replaced, got %+v", loaded)
	}
}

func TestSqliteStorageLoadNonexistentSession(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	loaded, err := storage.Load(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("expected empty slice, got %v", loaded)
	}
}

func TestSqliteStorageDeleteCascades(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()
	if err := storage.Save(ctx, "test-session", []llm.ChatMessage{llm.UserMessage("Test")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := storage.Delete(ctx, "test-session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := storage.Exists(ctx, "test-session")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected session to not exist after deletion")
	}

	var orphans int
	if err := storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&orphans); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if orphans != 0 {
		t.Errorf("expected messages to be deleted with session, found %d", orphans)
	}
}

func TestSqliteStorageListSessions(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()
	msg := []llm.ChatMessage{llm.UserMessage("Test")}
	for _, id := range []string{"session-1", "session-2"} {
		if err := storage.Save(ctx, id, msg); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestSqliteCachePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "tutor.db")

	first, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	key := "responseCache.Translate: 你好[][]"
	if err := first.Put(ctx, key, json.RawMessage(`"Hello"`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	first.Close()

	second, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	got, found, err := second.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected hit after reopen, found=%v err=%v", found, err)
	}
	if string(got) != `"Hello"` {
		t.Errorf("expected \"Hello\", got %s", got)
	}

	var hash string
	if err := second.db.QueryRowContext(ctx,
		"SELECT key_hash FROM response_cache WHERE cache_key = ?", key).Scan(&hash); err != nil {
		t.Fatalf("hash lookup failed: %v", err)
	}
	if hash != Digest(key) {
		t.Errorf("expected stored digest %s, got %s", Digest(key), hash)
	}
}
