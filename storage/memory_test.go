package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/richinex/tutor/llm"
)

func TestInMemoryStorageRoundTripsFunctionCalls(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	history := []llm.ChatMessage{
		llm.UserMessage("你好"),
		{
			Role: llm.RoleAssistant,
			FunctionCall: &llm.FunctionCall{
				Name:      "reply",
				Arguments: `{"replyText":"你好！"}`,
				Output:    json.RawMessage(`"你好！"`),
			},
		},
	}

	if err := storage.Save(ctx, "s1", history); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// mutate the caller's directive after saving
	history[1].FunctionCall.Name = "changed"

	loaded, err := storage.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[1].FunctionCall == nil || loaded[1].FunctionCall.Name != "reply" {
		t.Errorf("stored directive should be isolated, got %+v", loaded[1].FunctionCall)
	}
	if string(loaded[1].FunctionCall.Output) != `"你好！"` {
		t.Errorf("unexpected output: %s", loaded[1].FunctionCall.Output)
	}
}

func TestInMemoryStorageMissingSession(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	loaded, err := storage.Load(ctx, "missing")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", loaded)
	}

	exists, err := storage.Exists(ctx, "missing")
	if err != nil || exists {
		t.Errorf("expected missing session to not exist, got %v (%v)", exists, err)
	}
}

func TestInMemoryStorageListAndDelete(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()
	msg := []llm.ChatMessage{llm.UserMessage("Test")}

	for _, id := range []string{"b", "a"} {
		if err := storage.Save(ctx, id, msg); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "a" || sessions[1] != "b" {
		t.Errorf("expected sorted sessions [a b], got %v", sessions)
	}

	if err := storage.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ := storage.Exists(ctx, "a"); exists {
		t.Error("expected session to not exist after deletion")
	}
}
