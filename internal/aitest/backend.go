// Package aitest provides a scripted ai.Backend for tests of the packages
// that sit above the provider adapters.
package aitest

import (
	"context"
	"fmt"
	"sync"

	"github.com/leofalp/polychat/providers/ai"
)

// Step is one scripted backend answer. Chunks are streamed before Response
// is returned; Err fails the call after the chunks.
type Step struct {
	Chunks   []string
	Response *ai.Response
	Err      error
}

// Call is what the backend received.
type Call struct {
	Model   string
	Turns   []ai.Turn
	Options ai.ChatOptions
}

// Backend replays Steps in order and records every call.
type Backend struct {
	mu     sync.Mutex
	steps  []Step
	calls  []Call
	Tokens int
}

var _ ai.Backend = (*Backend)(nil)

// NewBackend returns a Backend that answers with steps, in order.
func NewBackend(steps ...Step) *Backend {
	return &Backend{steps: steps}
}

// Text is a Step answering with a plain text response streamed as chunks.
func Text(chunks ...string) Step {
	var text string
	for _, chunk := range chunks {
		text += chunk
	}
	return Step{
		Chunks:   chunks,
		Response: &ai.Response{Kind: ai.KindText, Text: text, FinishReason: ai.FinishStop},
	}
}

// FunctionCalls is a Step answering with function calls.
func FunctionCalls(calls ...ai.FunctionCallPart) Step {
	return Step{Response: &ai.Response{Kind: ai.KindFunction, FunctionCalls: calls, FinishReason: ai.FinishToolCalls}}
}

// Fail is a Step failing with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// RequestChatComplete implements ai.Backend.
func (b *Backend) RequestChatComplete(ctx context.Context, model string, turns []ai.Turn, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.calls = append(b.calls, Call{Model: model, Turns: ai.CloneTurns(turns), Options: options})
	if len(b.steps) == 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("aitest: no scripted step left for call %d", len(b.calls))
	}
	step := b.steps[0]
	b.steps = b.steps[1:]
	b.mu.Unlock()

	for _, chunk := range step.Chunks {
		ai.Emit(onChunk, ai.Chunk{Text: chunk})
	}
	if step.Err != nil {
		return nil, step.Err
	}
	ai.Emit(onChunk, ai.Chunk{Done: true})

	response := step.Response.Clone()
	response.Model = model
	return response, nil
}

// CountTokens returns Tokens.
func (b *Backend) CountTokens(_ context.Context, _ string, _ []ai.Turn) (int, error) {
	return b.Tokens, nil
}

// Calls returns the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount returns the number of calls received.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}
