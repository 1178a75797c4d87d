package dispatch

import (
	"context"

	"github.com/leofalp/polychat/providers/ai"
)

// Call is one backend request as seen by the middleware chain. Options holds
// the already merged generation options.
type Call struct {
	Provider string
	Model    string
	Turns    []ai.Turn
	Options  ai.ChatOptions
	OnChunk  ai.ChunkHandler
}

// SendFunc performs a Call and returns the selected candidate. It is the unit
// threaded through the middleware chain.
type SendFunc func(ctx context.Context, call Call) (*ai.Response, error)

// Middleware wraps the next SendFunc in the chain. The first middleware
// passed to WithMiddleware is the outermost wrapper.
type Middleware func(next SendFunc) SendFunc

// buildChain wraps the backend call with middlewares, applied in reverse so
// that middlewares[0] runs first.
func buildChain(backend ai.Backend, middlewares []Middleware) SendFunc {
	var chain SendFunc = func(ctx context.Context, call Call) (*ai.Response, error) {
		return backend.RequestChatComplete(ctx, call.Model, call.Turns, call.Options, call.OnChunk)
	}

	for i := len(middlewares) - 1; i >= 0; i-- {
		chain = middlewares[i](chain)
	}
	return chain
}
