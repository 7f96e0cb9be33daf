package gateway

import (
	"context"
	"fmt"
)

// AskShape resolves prompt with a single shape and a typed handler on a fresh
// history. The handler receives the model's arguments decoded into A; the
// result, fresh or cached, is decoded into R.
func AskShape[A, R any](ctx context.Context, g *Gateway, prompt string, shape Shape, handler func(context.Context, A) (R, error)) (R, error) {
	var out R

	result, err := g.Resolve(ctx, Request{
		Prompt:   prompt,
		Shapes:   []Shape{shape},
		Handlers: Handlers{shape.Name: Typed(handler)},
	})
	if err != nil {
		return out, err
	}

	if err := result.Decode(&out); err != nil {
		return out, fmt.Errorf("%s: %w", shape.Name, err)
	}
	return out, nil
}
