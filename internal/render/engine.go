package render

import (
	"context"
)

// Engine renders one request, posting messages as it goes. Render must not
// return before it has posted everything it is going to post.
type Engine interface {
	Render(ctx context.Context, req Request, post func(Message)) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request, post func(Message)) error

// Render calls f.
func (f EngineFunc) Render(ctx context.Context, req Request, post func(Message)) error {
	return f(ctx, req, post)
}
