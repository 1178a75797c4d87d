package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/leofalp/polychat/internal/utils"
)

// StreamEventType identifies the kind of delta carried by a StreamEvent.
type StreamEventType string

const (
	// StreamEventContent indicates a text content delta.
	StreamEventContent StreamEventType = "content"
	// StreamEventToolCall indicates an incremental function call delta (name or arguments chunk).
	StreamEventToolCall StreamEventType = "tool_call"
	// StreamEventParts carries complete non-text parts such as inline images.
	StreamEventParts StreamEventType = "parts"
	// StreamEventUsage carries token usage metadata (typically the final event).
	StreamEventUsage StreamEventType = "usage"
	// StreamEventDone signals that a candidate has finished.
	StreamEventDone StreamEventType = "done"
)

// ToolCallDelta represents an incremental update to a function call being
// streamed. Index identifies the call within its candidate. ID and Name are
// usually only present on the first fragment for an index and may be empty
// there too; Arguments fragments are concatenated by index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent represents a single delta yielded during response streaming.
// Candidate is the index of the parallel completion the event belongs to.
type StreamEvent struct {
	Type          StreamEventType `json:"type"`
	Candidate     int             `json:"candidate"`
	Content       string          `json:"content,omitempty"`
	ToolCall      *ToolCallDelta  `json:"tool_call,omitempty"`
	Parts         Parts           `json:"parts,omitempty"`
	Usage         *Usage          `json:"usage,omitempty"`
	FinishReason  FinishReason    `json:"finish_reason,omitempty"`
	SafetyRatings []SafetyRating  `json:"safety_ratings,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// ChatStream wraps a streaming iterator of StreamEvents.
//
// Callers must consume the stream, either by ranging over Iter() (breaking
// out early is fine) or by calling Collect. The producing adapter may hold an
// open HTTP body or socket slot that is only released when the iterator
// completes or is abandoned.
type ChatStream struct {
	iterator iter.Seq2[StreamEvent, error]
}

// NewChatStream creates a ChatStream from a raw streaming iterator.
// The iterator yields StreamEvent values with a nil error for normal deltas,
// and may yield a non-nil error to signal a mid-stream failure.
func NewChatStream(iterator iter.Seq2[StreamEvent, error]) *ChatStream {
	return &ChatStream{iterator: iterator}
}

// EventDecoder turns one SSE payload into StreamEvents.
type EventDecoder func(payload []byte) ([]StreamEvent, error)

// NewSSEStream reads body as Server-Sent Events, decoding every payload
// with decode. The stream closes body when it ends or is abandoned.
func NewSSEStream(ctx context.Context, body io.ReadCloser, decode EventDecoder) *ChatStream {
	scanner := utils.NewSSEScanner(body)
	return NewChatStream(func(yield func(StreamEvent, error) bool) {
		defer utils.CloseWithLog(body)

		for {
			if err := ctx.Err(); err != nil {
				yield(StreamEvent{}, err)
				return
			}
			payload, err := scanner.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(StreamEvent{}, err)
				return
			}

			events, err := decode([]byte(payload))
			if err != nil {
				yield(StreamEvent{}, err)
				return
			}
			for _, event := range events {
				if !yield(event, nil) {
					return
				}
			}
		}
	})
}

// NewSingleEventStream replays complete responses as a stream. It is used
// when a backend answered synchronously: each candidate is delivered as one
// content event, its parts, its calls and a done event.
func NewSingleEventStream(responses []Response) *ChatStream {
	iteratorFunc := func(yield func(StreamEvent, error) bool) {
		for _, response := range responses {
			if !yieldResponse(response, yield) {
				return
			}
		}
	}
	return NewChatStream(iteratorFunc)
}

func yieldResponse(response Response, yield func(StreamEvent, error) bool) bool {
	candidate := response.Index

	if response.Text != "" {
		if !yield(StreamEvent{Type: StreamEventContent, Candidate: candidate, Content: response.Text, Raw: response.Raw}, nil) {
			return false
		}
	}

	var extra Parts
	for _, part := range response.Parts {
		if _, ok := part.(ImagePart); ok {
			extra = append(extra, part)
		}
	}
	if len(extra) > 0 {
		if !yield(StreamEvent{Type: StreamEventParts, Candidate: candidate, Parts: extra}, nil) {
			return false
		}
	}

	for callIndex, call := range response.FunctionCalls {
		arguments, err := json.Marshal(call.Args)
		if err != nil {
			yield(StreamEvent{}, fmt.Errorf("encoding arguments of %q: %w", call.Name, err))
			return false
		}
		if !yield(StreamEvent{
			Type:      StreamEventToolCall,
			Candidate: candidate,
			ToolCall: &ToolCallDelta{
				Index:     callIndex,
				ID:        call.ID,
				Name:      call.Name,
				Arguments: string(arguments),
			},
		}, nil) {
			return false
		}
	}

	if response.Usage != nil {
		if !yield(StreamEvent{Type: StreamEventUsage, Candidate: candidate, Usage: response.Usage}, nil) {
			return false
		}
	}

	return yield(StreamEvent{
		Type:          StreamEventDone,
		Candidate:     candidate,
		FinishReason:  response.FinishReason,
		SafetyRatings: response.SafetyRatings,
		Raw:           response.Raw,
	}, nil)
}

// Iter returns the underlying iterator for use with range-over-func loops.
//
// Example:
//
//	for event, err := range stream.Iter() {
//	    if err != nil { handle error }
//	    fmt.Print(event.Content)
//	}
func (stream *ChatStream) Iter() iter.Seq2[StreamEvent, error] {
	return stream.iterator
}

// Collect consumes the stream, forwarding every delta to onChunk as it
// arrives, and returns one Response per candidate ordered by candidate index.
// A final Chunk with Done set is emitted once the stream ends normally.
// Malformed function call arguments yield a ProtocolViolation.
func (stream *ChatStream) Collect(onChunk ChunkHandler) ([]Response, error) {
	builders := map[int]*candidateBuilder{}
	var usage *Usage
	var lastRaw json.RawMessage

	builderFor := func(index int) *candidateBuilder {
		builder, ok := builders[index]
		if !ok {
			builder = &candidateBuilder{index: index}
			builders[index] = builder
		}
		return builder
	}

	for event, err := range stream.iterator {
		if err != nil {
			return nil, err
		}
		if event.Raw != nil {
			lastRaw = event.Raw
		}

		switch event.Type {
		case StreamEventContent:
			builder := builderFor(event.Candidate)
			builder.text.WriteString(event.Content)
			Emit(onChunk, Chunk{Index: event.Candidate, Text: event.Content})

		case StreamEventParts:
			builder := builderFor(event.Candidate)
			builder.parts = append(builder.parts, event.Parts...)
			Emit(onChunk, Chunk{Index: event.Candidate, Parts: event.Parts})

		case StreamEventToolCall:
			if event.ToolCall != nil {
				builder := builderFor(event.Candidate)
				calls, err := accumulateToolCallDelta(builder.calls, event.ToolCall)
				if err != nil {
					return nil, err
				}
				builder.calls = calls
			}

		case StreamEventUsage:
			if event.Usage != nil {
				usage = event.Usage
			}

		case StreamEventDone:
			builder := builderFor(event.Candidate)
			builder.finish = event.FinishReason
			if len(event.SafetyRatings) > 0 {
				builder.ratings = event.SafetyRatings
			}
		}
	}

	indices := make([]int, 0, len(builders))
	for index := range builders {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	responses := make([]Response, 0, len(indices))
	for _, index := range indices {
		response, err := builders[index].build()
		if err != nil {
			return nil, err
		}
		response.Usage = usage
		response.Raw = lastRaw
		responses = append(responses, response)
	}

	Emit(onChunk, Chunk{Done: true})
	return responses, nil
}

// candidateBuilder accumulates the deltas of one candidate.
type candidateBuilder struct {
	index   int
	text    strings.Builder
	parts   Parts
	calls   []*toolCallBuilder
	finish  FinishReason
	ratings []SafetyRating
}

func (b *candidateBuilder) build() (Response, error) {
	response := Response{
		Index:         b.index,
		Text:          b.text.String(),
		FinishReason:  b.finish,
		SafetyRatings: b.ratings,
	}

	if response.Text != "" {
		response.Parts = append(response.Parts, TextPart{Text: response.Text})
	}
	response.Parts = append(response.Parts, b.parts...)

	for callIndex, call := range b.calls {
		if call.name == "" {
			return Response{}, NewProtocolViolation("function call %d of candidate %d has no name", callIndex, b.index)
		}
		args, err := ParseArgs(call.arguments.String())
		if err != nil {
			return Response{}, NewProtocolViolation("malformed arguments for %q: %v", call.name, err)
		}
		part := FunctionCallPart{ID: call.id, Name: call.name, Args: args}
		response.FunctionCalls = append(response.FunctionCalls, part)
		response.Parts = append(response.Parts, part)
	}

	response.Kind, response.Truncated = Classify(b.finish, len(response.FunctionCalls) > 0)
	return response, nil
}

// ParseArgs decodes a provider argument string into ordered Args. An empty
// string yields no arguments. Slightly malformed JSON is repaired before
// giving up.
func ParseArgs(raw string) (Args, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return utils.DecodeLenientJSON[Args](raw)
}

// toolCallBuilder accumulates incremental function call deltas.
type toolCallBuilder struct {
	id        string
	name      string
	arguments strings.Builder
}

// accumulateToolCallDelta merges a ToolCallDelta into the running list of
// builders, growing the list when a new index appears. Fragments of
// different calls may interleave.
func accumulateToolCallDelta(builders []*toolCallBuilder, delta *ToolCallDelta) ([]*toolCallBuilder, error) {
	if delta.Index < 0 {
		return builders, NewProtocolViolation("function call delta has negative index %d", delta.Index)
	}
	for len(builders) <= delta.Index {
		builders = append(builders, &toolCallBuilder{})
	}

	builder := builders[delta.Index]
	if delta.ID != "" {
		builder.id = delta.ID
	}
	if delta.Name != "" {
		builder.name = delta.Name
	}
	if delta.Arguments != "" {
		builder.arguments.WriteString(delta.Arguments)
	}
	return builders, nil
}

// SelectCandidate returns the first candidate that was not safety-blocked.
// When every candidate is blocked it returns a SafetyError carrying each
// candidate's ratings; with no candidates at all it returns a ProviderError.
func SelectCandidate(provider string, responses []Response) (*Response, error) {
	if len(responses) == 0 {
		return nil, &ProviderError{Provider: provider, Message: "response contained no candidates"}
	}

	ratings := make([][]SafetyRating, 0, len(responses))
	for i := range responses {
		if responses[i].Kind != KindSafety {
			selected := responses[i]
			return &selected, nil
		}
		ratings = append(ratings, responses[i].SafetyRatings)
	}

	return nil, &SafetyError{Ratings: ratings}
}
