package ai

import "context"

// TokenCounter counts the tokens a turn list would consume for a model. It is
// consumed by callers for budgeting and never invoked by the orchestration
// loop itself.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, turns []Turn) (int, error)
}

// TokenCounterFunc adapts a plain function to TokenCounter.
type TokenCounterFunc func(ctx context.Context, model string, turns []Turn) (int, error)

// CountTokens implements TokenCounter.
func (f TokenCounterFunc) CountTokens(ctx context.Context, model string, turns []Turn) (int, error) {
	return f(ctx, model, turns)
}

// Backend is the contract every provider adapter satisfies. It translates the
// shared message model to a provider wire format, streams deltas to onChunk as
// they arrive and returns the first candidate that survived safety filtering.
type Backend interface {
	TokenCounter

	// RequestChatComplete sends the full turn list and returns the normalized
	// response. onChunk may be nil.
	RequestChatComplete(ctx context.Context, model string, turns []Turn, options ChatOptions, onChunk ChunkHandler) (*Response, error)
}
