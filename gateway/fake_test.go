package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/richinex/tutor/llm"
)

type step struct {
	resp llm.LLMResponse
	err  error
}

// scriptedProvider replays canned responses in order and records what it
// was sent.
type scriptedProvider struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	history [][]llm.ChatMessage
	tools   [][]llm.FunctionDefinition
}

func newScripted(steps ...step) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	return p.ChatWithTools(ctx, messages, nil)
}

func (p *scriptedProvider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, functions []llm.FunctionDefinition) (llm.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.history = append(p.history, messages)
	p.tools = append(p.tools, functions)

	if len(p.steps) == 0 {
		return llm.LLMResponse{}, errors.New("scripted provider exhausted")
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s.resp, s.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func text(content string) step {
	return step{resp: llm.LLMResponse{Content: content}}
}

func call(name, arguments string) step {
	return step{resp: llm.LLMResponse{FunctionCall: &llm.FunctionCall{Name: name, Arguments: arguments}}}
}

func failure(err error) step {
	return step{err: err}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var noRetry = &RetryPolicy{MaxRetries: 0}

func newTestGateway(p llm.Provider, opts Options) *Gateway {
	opts.Provider = p
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.Retry == nil {
		opts.Retry = noRetry
	}
	g, err := New(opts)
	if err != nil {
		panic(err)
	}
	return g
}

var evaluateShape = Shape{
	Name:        "evaluateCorrectness",
	Description: "Evaluates whether a response fulfils a criteria",
	Parameters: Object([]string{"correct", "reason"},
		Property{Name: "correct", Schema: Schema{Type: "boolean"}},
		Property{Name: "reason", Schema: Schema{Type: "string"}},
	),
}

func evalHandler(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{"correct": args["correct"], "reason": args["reason"]}, nil
}
