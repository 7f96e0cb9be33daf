package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/richinex/tutor/llm"
	"github.com/richinex/tutor/storage"
)

func TestResolveTranslateServedFromCache(t *testing.T) {
	ctx := context.Background()
	provider := newScripted(text("Hello"))
	g := newTestGateway(provider, Options{})

	got, err := g.Resolve(ctx, Request{Prompt: "Translate: 你好"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Kind != KindText || got.Text != "Hello" {
		t.Errorf("expected text Hello, got %+v", got)
	}

	n, _ := g.Cache().Len(ctx)
	if n != 1 {
		t.Errorf("expected one cache entry, got %d", n)
	}

	again, err := g.Resolve(ctx, Request{Prompt: "Translate: 你好"})
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if again.Text != "Hello" {
		t.Errorf("expected cached Hello, got %+v", again)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected exactly one network call, got %d", provider.callCount())
	}

	stats, err := g.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.LiveCalls != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestResolveWithoutShapesSendsNoTools(t *testing.T) {
	provider := newScripted(text("free text"))
	g := newTestGateway(provider, Options{})

	got, err := g.Resolve(context.Background(), Request{Prompt: "hi", Handlers: Handlers{"reply": evalHandler}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Text != "free text" {
		t.Errorf("expected free-text result, got %+v", got)
	}
	if len(provider.tools[0]) != 0 {
		t.Errorf("expected no tools advertised, got %v", provider.tools[0])
	}
}

func TestResolveDispatchesEvaluateShape(t *testing.T) {
	ctx := context.Background()
	provider := newScripted(call("evaluateCorrectness", `{"correct": true, "reason": "ok"}`))
	g := newTestGateway(provider, Options{ValidateArguments: true})
	conv := NewConversation()

	got, err := g.Resolve(ctx, Request{
		Prompt:       "Evaluate this",
		Shapes:       []Shape{evaluateShape},
		Handlers:     Handlers{"evaluateCorrectness": evalHandler},
		Conversation: conv,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want, _ := evalHandler(ctx, map[string]any{"correct": true, "reason": "ok"})
	var decoded map[string]any
	if err := got.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Kind != KindStructured || decoded["correct"] != true || decoded["reason"] != want.(map[string]any)["reason"] {
		t.Errorf("expected handler result, got %s", got.Raw)
	}

	tools := provider.tools[0]
	if len(tools) != 1 || tools[0].Name != "evaluateCorrectness" {
		t.Errorf("expected shape advertised, got %+v", tools)
	}

	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "Evaluate this" {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	fc := msgs[1].FunctionCall
	if msgs[1].Role != llm.RoleAssistant || fc == nil || fc.Name != "evaluateCorrectness" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
	if string(fc.Output) != `{"correct":true,"reason":"ok"}` {
		t.Errorf("expected handler output recorded, got %s", fc.Output)
	}
}

func TestResolveUnknownFunction(t *testing.T) {
	ctx := context.Background()
	provider := newScripted(call("nonexistent", `{}`))
	g := newTestGateway(provider, Options{})

	_, err := g.Resolve(ctx, Request{
		Prompt:   "Evaluate this",
		Shapes:   []Shape{evaluateShape},
		Handlers: Handlers{"evaluateCorrectness": evalHandler},
	})

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected *DispatchError, got %v", err)
	}
	if !errors.Is(err, ErrUnknownFunction) || dispatchErr.Function != "nonexistent" {
		t.Errorf("unexpected dispatch error: %v", err)
	}
	if n, _ := g.Cache().Len(ctx); n != 0 {
		t.Errorf("expected no cache write, got %d entries", n)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	ctx := context.Background()
	provider := newScripted(text("never"))
	t.Setenv("TUTOR_TEST_API_KEY", "")
	g := newTestGateway(provider, Options{Credential: EnvCredential("TUTOR_TEST_API_KEY")})

	conv := NewConversation(llm.UserMessage("earlier"))
	_, err := g.Resolve(ctx, Request{Prompt: "Translate: 你好", Conversation: conv})

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected *ConfigError wrapping ErrMissingCredential, got %v", err)
	}
	if provider.callCount() != 0 {
		t.Errorf("expected no network call, got %d", provider.callCount())
	}
	if conv.Len() != 1 {
		t.Errorf("conversation should be unchanged, has %d messages", conv.Len())
	}
	if n, _ := g.Cache().Len(ctx); n != 0 {
		t.Errorf("expected no cache write, got %d entries", n)
	}
}

func TestResolveCacheHitSkipsCredentialAndConversation(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryCache()
	key, _ := CacheKey("Translate: 你好", nil, nil)
	_ = cache.Put(ctx, key, json.RawMessage(`"Hello"`))

	provider := newScripted()
	g := newTestGateway(provider, Options{Cache: cache, Credential: StaticCredential("")})
	conv := NewConversation()

	got, err := g.Resolve(ctx, Request{Prompt: "Translate: 你好", Conversation: conv})
	if err != nil {
		t.Fatalf("cache hit should not need a credential: %v", err)
	}
	if got.Text != "Hello" {
		t.Errorf("expected Hello, got %+v", got)
	}
	if conv.Len() != 0 {
		t.Errorf("cache hit should not mutate conversation, has %d messages", conv.Len())
	}
}

func TestResolveEmptyCachedValueIsMiss(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryCache()
	key, _ := CacheKey("p", nil, nil)
	_ = cache.Put(ctx, key, json.RawMessage(`""`))

	provider := newScripted(text("fresh"))
	g := newTestGateway(provider, Options{Cache: cache})

	got, err := g.Resolve(ctx, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Text != "fresh" || provider.callCount() != 1 {
		t.Errorf("expected live call for empty cached value, got %+v after %d calls", got, provider.callCount())
	}

	again, err := g.Resolve(ctx, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if again.Text != "fresh" || provider.callCount() != 1 {
		t.Errorf("expected fresh value to replace the empty one, got %+v after %d calls", again, provider.callCount())
	}
}

func TestResolveEmptyValueInCacheFileIsReplaced(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "responseCache.json")
	key, _ := CacheKey("Translate: 你好", nil, nil)
	legacy, _ := json.Marshal(map[string]string{key: ""})
	if err := os.WriteFile(path, legacy, 0o644); err != nil {
		t.Fatal(err)
	}

	provider := newScripted(text("Hello"))
	g := newTestGateway(provider, Options{Cache: storage.NewFileCache(path, quietLogger())})

	for i := 0; i < 3; i++ {
		got, err := g.Resolve(ctx, Request{Prompt: "Translate: 你好"})
		if err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}
		if got.Text != "Hello" {
			t.Errorf("Resolve %d: expected Hello, got %+v", i, got)
		}
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 live call for 3 identical requests, got %d", provider.callCount())
	}
}

func TestResolveEmptyResultNotCached(t *testing.T) {
	ctx := context.Background()
	provider := newScripted(text(""))
	g := newTestGateway(provider, Options{})

	got, err := g.Resolve(ctx, Request{Prompt: "say nothing"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !got.Empty() {
		t.Errorf("expected empty result, got %+v", got)
	}
	if n, _ := g.Cache().Len(ctx); n != 0 {
		t.Errorf("expected empty result to skip the cache, got %d entries", n)
	}
}

func TestResolveHistoryIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	provider := newScripted(text("first"), text("second"))
	g := newTestGateway(provider, Options{})

	if _, err := g.Resolve(ctx, Request{Prompt: "same"}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got, err := g.Resolve(ctx, Request{Prompt: "same", Conversation: NewConversation(llm.UserMessage("context"))})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Text != "second" || provider.callCount() != 2 {
		t.Errorf("different history should miss the cache, got %+v after %d calls", got, provider.callCount())
	}
}

func TestResolveSendsFullHistory(t *testing.T) {
	provider := newScripted(text("ok"))
	g := newTestGateway(provider, Options{})
	conv := NewConversation(llm.UserMessage("你好"), llm.AssistantMessage("你好！"))

	if _, err := g.Resolve(context.Background(), Request{Prompt: "再见", Conversation: conv}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	sent := provider.history[0]
	if len(sent) != 3 || sent[2].Content != "再见" {
		t.Errorf("expected prior history plus prompt, got %+v", sent)
	}
	if conv.Len() != 4 {
		t.Errorf("expected user and assistant appended, got %d messages", conv.Len())
	}
}

func TestResolveUpstreamErrorReturnedUnchanged(t *testing.T) {
	ctx := context.Background()
	upstream := errors.New("invalid request: model not found")
	provider := newScripted(failure(upstream))
	g := newTestGateway(provider, Options{Retry: &RetryPolicy{MaxRetries: 3}})
	conv := NewConversation()

	_, err := g.Resolve(ctx, Request{Prompt: "hi", Conversation: conv})
	if err != upstream {
		t.Fatalf("expected upstream error unchanged, got %v", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("non-transient error should not be retried, got %d calls", provider.callCount())
	}
	// user message stays appended after a failed call
	if conv.Len() != 1 {
		t.Errorf("expected user message to remain, got %d messages", conv.Len())
	}
	if n, _ := g.Cache().Len(ctx); n != 0 {
		t.Errorf("expected no cache write, got %d entries", n)
	}
}

func TestResolveRetriesTransientError(t *testing.T) {
	provider := newScripted(
		failure(errors.New("error, status code: 503, message: overloaded")),
		text("Hello"),
	)
	g := newTestGateway(provider, Options{Retry: &RetryPolicy{MaxRetries: 2, BackoffBase: 1}})

	got, err := g.Resolve(context.Background(), Request{Prompt: "Translate: 你好"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got.Text != "Hello" || provider.callCount() != 2 {
		t.Errorf("expected success on second attempt, got %+v after %d calls", got, provider.callCount())
	}
}

func TestResolveArgumentErrors(t *testing.T) {
	tests := []struct {
		name      string
		arguments string
		validate  bool
	}{
		{"not json", "certainly not json", false},
		{"schema mismatch", `{"correct": "yes"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			provider := newScripted(call("evaluateCorrectness", tt.arguments))
			g := newTestGateway(provider, Options{ValidateArguments: tt.validate})

			_, err := g.Resolve(ctx, Request{
				Prompt:   "Evaluate this",
				Shapes:   []Shape{evaluateShape},
				Handlers: Handlers{"evaluateCorrectness": evalHandler},
			})

			var argErr *ArgumentError
			if !errors.As(err, &argErr) || argErr.Function != "evaluateCorrectness" {
				t.Fatalf("expected *ArgumentError, got %v", err)
			}
			if n, _ := g.Cache().Len(ctx); n != 0 {
				t.Errorf("expected no cache write, got %d entries", n)
			}
		})
	}
}

func TestResolveLenientArguments(t *testing.T) {
	provider := newScripted(call("evaluateCorrectness", "```json\n{\"correct\": false, \"reason\": \"tense\"}\n```"))
	g := newTestGateway(provider, Options{})

	got, err := g.Resolve(context.Background(), Request{
		Prompt:   "Evaluate this",
		Shapes:   []Shape{evaluateShape},
		Handlers: Handlers{"evaluateCorrectness": evalHandler},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(got.Raw) != `{"correct":false,"reason":"tense"}` {
		t.Errorf("unexpected result: %s", got.Raw)
	}
}

func TestResolveEmptyArgumentsBecomeEmptyObject(t *testing.T) {
	var received map[string]any
	provider := newScripted(call("ping", ""))
	g := newTestGateway(provider, Options{})

	_, err := g.Resolve(context.Background(), Request{
		Prompt: "ping",
		Shapes: []Shape{{Name: "ping"}},
		Handlers: Handlers{"ping": func(_ context.Context, args map[string]any) (any, error) {
			received = args
			return "pong", nil
		}},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if received == nil || len(received) != 0 {
		t.Errorf("expected empty argument map, got %v", received)
	}
}

func TestResolveHandlerError(t *testing.T) {
	boom := errors.New("boom")
	provider := newScripted(call("reply", `{"replyText":"x"}`))
	g := newTestGateway(provider, Options{})

	_, err := g.Resolve(context.Background(), Request{
		Prompt: "hi",
		Shapes: []Shape{{Name: "reply"}},
		Handlers: Handlers{"reply": func(context.Context, map[string]any) (any, error) {
			return nil, boom
		}},
	})

	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) || !errors.Is(err, boom) {
		t.Errorf("expected *HandlerError wrapping boom, got %v", err)
	}
}

func TestResolveEmptyPrompt(t *testing.T) {
	g := newTestGateway(newScripted(), Options{})
	if _, err := g.Resolve(context.Background(), Request{Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestResolvePersistsAcrossFileCacheInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "responseCache.json")

	first := newTestGateway(newScripted(text("Hello")), Options{Cache: storage.NewFileCache(path, quietLogger())})
	if _, err := first.Resolve(ctx, Request{Prompt: "Translate: 你好"}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	_ = first.Cache().Close()

	provider := newScripted()
	second := newTestGateway(provider, Options{Cache: storage.NewFileCache(path, quietLogger())})
	got, err := second.Resolve(ctx, Request{Prompt: "Translate: 你好"})
	if err != nil {
		t.Fatalf("Resolve after reload failed: %v", err)
	}
	if got.Text != "Hello" || provider.callCount() != 0 {
		t.Errorf("expected hit after reload, got %+v after %d calls", got, provider.callCount())
	}
}

func TestFactoryRebuiltWhenCredentialChanges(t *testing.T) {
	ctx := context.Background()
	var keys []string
	key := "sk-one"

	g, err := New(Options{
		Factory: func(apiKey string) (llm.Provider, error) {
			keys = append(keys, apiKey)
			return newScripted(text("reply from " + apiKey)), nil
		},
		ProviderName: "openai",
		Credential:   func(context.Context) (string, error) { return key, nil },
		Logger:       quietLogger(),
		Retry:        noRetry,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := g.Resolve(ctx, Request{Prompt: "a"}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	key = "sk-two"
	got, err := g.Resolve(ctx, Request{Prompt: "b"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(keys) != 2 || keys[1] != "sk-two" {
		t.Errorf("expected provider rebuilt for new key, built with %v", keys)
	}
	if got.Text != "reply from sk-two" {
		t.Errorf("unexpected reply: %+v", got)
	}
}

func TestNewRequiresProvider(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without provider or factory")
	}
}
