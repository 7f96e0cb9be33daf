// Package gateway resolves prompts against a language model through a
// persistent response cache.
//
// Information Hiding:
// - Cache key construction and write-once persistence hidden behind Resolve
// - Function-call dispatch to local handlers hidden from call sites
// - Retry, timeout and credential lookup hidden from the provider layer
//
// Every distinct (prompt, shapes, history) triple reaches the network at most
// once per cache lifetime; later identical requests are answered from the
// cache without touching the conversation.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsonx "github.com/richinex/tutor/internal/json"
	"github.com/richinex/tutor/llm"
	"github.com/richinex/tutor/storage"
	"github.com/richinex/tutor/telemetry"
	"github.com/xeipuuv/gojsonschema"
)

// CredentialFunc returns the API key to use for the next live call.
type CredentialFunc func(ctx context.Context) (string, error)

// ProviderFactory builds a provider for an API key.
type ProviderFactory func(apiKey string) (llm.Provider, error)

// EnvCredential reads the key from an environment variable at call time.
func EnvCredential(envVar string) CredentialFunc {
	return func(context.Context) (string, error) {
		key := strings.TrimSpace(os.Getenv(envVar))
		if key == "" {
			return "", fmt.Errorf("%s not set", envVar)
		}
		return key, nil
	}
}

// StaticCredential always returns key. An empty key is reported as missing.
func StaticCredential(key string) CredentialFunc {
	return func(context.Context) (string, error) {
		if key == "" {
			return "", errors.New("no API key configured")
		}
		return key, nil
	}
}

// Options configures a Gateway.
type Options struct {
	// Provider is used as-is when Factory is nil.
	Provider llm.Provider
	// Factory builds the provider from the resolved credential. The built
	// provider is reused until the credential changes.
	Factory ProviderFactory
	// ProviderName labels errors, logs and metrics when Provider is nil.
	ProviderName string
	// Credential is consulted on every cache miss. Nil skips the check.
	Credential CredentialFunc

	// Cache defaults to an empty MemoryCache.
	Cache storage.Cache
	// Retry defaults to DefaultRetryPolicy. MaxRetries 0 disables retries.
	Retry *RetryPolicy
	// ValidateArguments checks function-call arguments against the shape's
	// parameter schema before dispatch.
	ValidateArguments bool

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Request is a single Resolve call.
type Request struct {
	Prompt   string
	Shapes   []Shape
	Handlers Handlers
	// Conversation is read for the cache key and appended to on a live
	// call. Nil means a fresh, empty history.
	Conversation *Conversation
}

// Stats summarizes gateway activity since construction.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	LiveCalls uint64
}

// Gateway resolves prompts through the cache and the model.
type Gateway struct {
	cache     storage.Cache
	factory   ProviderFactory
	name      string
	cred      CredentialFunc
	retry     RetryPolicy
	validate  bool
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	mu        sync.Mutex
	provider  llm.Provider
	builtWith string

	hits, misses, calls atomic.Uint64
}

// New creates a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Provider == nil && opts.Factory == nil {
		return nil, errors.New("gateway needs a provider or a provider factory")
	}

	g := &Gateway{
		cache:    opts.Cache,
		factory:  opts.Factory,
		name:     opts.ProviderName,
		cred:     opts.Credential,
		retry:    DefaultRetryPolicy(),
		validate: opts.ValidateArguments,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		provider: opts.Provider,
	}
	if g.cache == nil {
		g.cache = storage.NewMemoryCache()
	}
	if opts.Retry != nil {
		g.retry = *opts.Retry
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.name == "" && opts.Provider != nil {
		g.name = opts.Provider.Name()
	}
	if g.name == "" {
		g.name = "llm"
	}
	return g, nil
}

// Cache returns the backing cache.
func (g *Gateway) Cache() storage.Cache {
	return g.cache
}

// Resolve answers req from the cache or with a live call.
//
// On a miss the prompt is appended to the conversation as a user message
// before the call, and the assistant reply after it. If the model calls one
// of the shapes, the matching handler's return value is the result;
// otherwise the free-text reply is. Non-empty results are cached.
func (g *Gateway) Resolve(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, ErrEmptyPrompt
	}
	conv := req.Conversation
	if conv == nil {
		conv = NewConversation()
	}

	key, err := CacheKey(req.Prompt, req.Shapes, conv.Messages())
	if err != nil {
		return Result{}, err
	}
	digest := storage.Digest(key)
	log := g.logger.With("key", digest, "shapes", len(req.Shapes))

	kind := KindText
	if len(req.Shapes) > 0 {
		kind = KindStructured
	}

	if cached, ok := g.lookup(ctx, log, key); ok {
		g.hits.Add(1)
		g.metrics.RecordCacheLookup(kind.String(), true)
		log.Debug("cache hit", "kind", cached.Kind)
		return cached, nil
	}
	g.misses.Add(1)
	g.metrics.RecordCacheLookup(kind.String(), false)

	provider, err := g.connect(ctx)
	if err != nil {
		log.Warn("no credential for live call", "error", err)
		return Result{}, err
	}
	log = log.With("provider", provider.Name(), "model", provider.Model())

	conv.Append(llm.UserMessage(req.Prompt))

	definitions := make([]llm.FunctionDefinition, 0, len(req.Shapes))
	for _, s := range req.Shapes {
		definitions = append(definitions, s.definition())
	}

	resp, err := g.call(ctx, log, provider, conv.Messages(), definitions)
	if err != nil {
		log.Warn("llm call failed", "error", err)
		return Result{}, err
	}

	reply := llm.ChatMessage{Role: llm.RoleAssistant, Content: resp.Content}
	var result Result
	if resp.FunctionCall != nil {
		result, err = g.dispatch(ctx, log, req, resp.FunctionCall)
		if err != nil {
			return Result{}, err
		}
		fc := *resp.FunctionCall
		fc.Output = result.JSON()
		reply.FunctionCall = &fc
	} else {
		result = TextResult(resp.Content)
	}
	conv.Append(reply)

	if result.Empty() {
		log.Debug("empty result not cached")
		return result, nil
	}
	if err := g.cache.Put(ctx, key, result.JSON()); err != nil {
		// the result is still good; only later processes lose it
		log.Warn("failed to persist cache entry", "error", err)
	}
	return result, nil
}

func (g *Gateway) lookup(ctx context.Context, log *slog.Logger, key string) (Result, bool) {
	raw, found, err := g.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache lookup failed, treating as miss", "error", err)
		return Result{}, false
	}
	if !found {
		return Result{}, false
	}
	result := ResultFromJSON(raw)
	if result.Empty() {
		return Result{}, false
	}
	return result, true
}

// connect resolves the credential and returns a provider built for it.
func (g *Gateway) connect(ctx context.Context) (llm.Provider, error) {
	var key string
	if g.cred != nil {
		var err error
		key, err = g.cred(ctx)
		if err != nil {
			return nil, &ConfigError{Provider: g.name, Err: err}
		}
	}
	if g.factory == nil {
		return g.provider, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.provider != nil && g.builtWith == key {
		return g.provider, nil
	}
	p, err := g.factory(key)
	if err != nil {
		return nil, &ConfigError{Provider: g.name, Err: err}
	}
	g.provider, g.builtWith = p, key
	return p, nil
}

func (g *Gateway) call(ctx context.Context, log *slog.Logger, provider llm.Provider, history []llm.ChatMessage, definitions []llm.FunctionDefinition) (llm.LLMResponse, error) {
	start := time.Now()
	var resp llm.LLMResponse

	onRetry := func(attempt int, wait time.Duration, err error) {
		g.metrics.RecordRetry(provider.Name())
		log.Info("retrying llm call", "attempt", attempt, "wait", wait, "error", err)
	}
	err := g.retry.do(ctx, onRetry, func(ctx context.Context) error {
		g.calls.Add(1)
		var err error
		resp, err = provider.ChatWithTools(ctx, history, definitions)
		return err
	})

	g.metrics.RecordLLMCall(provider.Name(), provider.Model(), time.Since(start), err)
	if err != nil {
		return llm.LLMResponse{}, err
	}
	if resp.Usage != nil {
		g.metrics.RecordTokens(provider.Name(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	log.Debug("llm call complete", "duration", time.Since(start), "function_call", resp.FunctionCall != nil)
	return resp, nil
}

func (g *Gateway) dispatch(ctx context.Context, log *slog.Logger, req Request, call *llm.FunctionCall) (Result, error) {
	log = log.With("function", call.Name)

	handler, ok := req.Handlers[call.Name]
	if !ok || handler == nil {
		err := &DispatchError{Function: call.Name, Available: req.Handlers.names()}
		g.metrics.RecordDispatch(call.Name, err)
		log.Warn("no handler for function call")
		return Result{}, err
	}

	args, err := jsonx.Arguments(call.Arguments)
	if err != nil {
		err := &ArgumentError{Function: call.Name, Err: err}
		g.metrics.RecordDispatch(call.Name, err)
		return Result{}, err
	}

	if g.validate {
		if err := validateArguments(req.Shapes, call.Name, args); err != nil {
			g.metrics.RecordDispatch(call.Name, err)
			return Result{}, err
		}
	}

	value, err := handler(ctx, args)
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			if argErr.Function == "" {
				argErr.Function = call.Name
			}
		} else {
			err = &HandlerError{Function: call.Name, Err: err}
		}
		g.metrics.RecordDispatch(call.Name, err)
		log.Warn("handler failed", "error", err)
		return Result{}, err
	}

	raw, err := marshal(value)
	if err != nil {
		err = &HandlerError{Function: call.Name, Err: fmt.Errorf("result is not JSON-encodable: %w", err)}
		g.metrics.RecordDispatch(call.Name, err)
		return Result{}, err
	}
	g.metrics.RecordDispatch(call.Name, nil)
	log.Debug("function dispatched")
	return ResultFromJSON(raw), nil
}

// validateArguments checks args against the parameters of the shape named
// function. Shapes without a schema accept anything.
func validateArguments(shapes []Shape, function string, args map[string]any) error {
	var params map[string]any
	for _, s := range shapes {
		if s.Name == function {
			params = s.Parameters.Map()
			break
		}
	}
	if params == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(params), gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentError{Function: function, Err: fmt.Errorf("schema validation failed: %w", err)}
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return &ArgumentError{Function: function, Err: fmt.Errorf("arguments do not match schema: %s", strings.Join(errs, "; "))}
	}
	return nil
}

// Stats returns counters and the number of cached entries.
func (g *Gateway) Stats(ctx context.Context) (Stats, error) {
	n, err := g.cache.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return Stats{
		Entries:   n,
		Hits:      g.hits.Load(),
		Misses:    g.misses.Load(),
		LiveCalls: g.calls.Load(),
	}, nil
}
