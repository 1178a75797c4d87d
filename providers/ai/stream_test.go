package ai

import (
	"errors"
	"iter"
	"testing"
)

// makeStream is a test helper that builds a ChatStream from a hand-crafted event
// slice. If midErr is non-nil and errAtIndex is a valid index, the error is
// injected at that position instead of a normal yield.
func makeStream(events []StreamEvent, midErr error, errAtIndex int) *ChatStream {
	iteratorFunc := func(yield func(StreamEvent, error) bool) {
		for i, event := range events {
			if midErr != nil && i == errAtIndex {
				yield(event, midErr)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
	return NewChatStream(iter.Seq2[StreamEvent, error](iteratorFunc))
}

// ========== Collect ==========

// TestCollect_ForwardsChunksInOrder verifies that text deltas reach the chunk
// handler as they arrive and that a final done chunk closes the stream.
func TestCollect_ForwardsChunksInOrder(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventContent, Content: "Hel"},
		{Type: StreamEventContent, Content: "lo"},
		{Type: StreamEventDone, FinishReason: FinishStop},
	}, nil, -1)

	var chunks []Chunk
	responses, err := stream.Collect(func(chunk Chunk) { chunks = append(chunks, chunk) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "Hel" || chunks[1].Text != "lo" || chunks[0].Done || chunks[1].Done {
		t.Errorf("unexpected delta chunks: %+v", chunks[:2])
	}
	if !chunks[2].Done {
		t.Errorf("expected final chunk to be done, got %+v", chunks[2])
	}

	if len(responses) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(responses))
	}
	if responses[0].Text != "Hello" || responses[0].Kind != KindText {
		t.Errorf("unexpected response: %+v", responses[0])
	}
}

// TestCollect_MultipleCandidates verifies that deltas are kept apart per
// candidate index and returned in index order.
func TestCollect_MultipleCandidates(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventContent, Candidate: 1, Content: "second "},
		{Type: StreamEventContent, Candidate: 0, Content: "first "},
		{Type: StreamEventContent, Candidate: 1, Content: "two"},
		{Type: StreamEventContent, Candidate: 0, Content: "one"},
		{Type: StreamEventDone, Candidate: 0, FinishReason: FinishStop},
		{Type: StreamEventDone, Candidate: 1, FinishReason: FinishLength},
	}, nil, -1)

	var indices []int
	responses, err := stream.Collect(func(chunk Chunk) {
		if !chunk.Done {
			indices = append(indices, chunk.Index)
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(responses) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(responses))
	}
	if responses[0].Text != "first one" || responses[1].Text != "second two" {
		t.Errorf("unexpected texts: %q / %q", responses[0].Text, responses[1].Text)
	}
	if !responses[1].Truncated {
		t.Error("expected second candidate to be truncated")
	}
	if len(indices) != 4 || indices[0] != 1 || indices[1] != 0 {
		t.Errorf("expected chunk indices in arrival order, got %v", indices)
	}
}

// TestCollect_ToolCallFragmentsByIndex verifies that argument fragments are
// joined by call index even when the name only arrives on a later fragment.
func TestCollect_ToolCallFragmentsByIndex(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, ID: "call_a", Arguments: `{"ci`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 1, ID: "call_b", Name: "time", Arguments: `{}`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, Name: "weather", Arguments: `ty":"Rome"}`}},
		{Type: StreamEventDone, FinishReason: FinishToolCalls},
	}, nil, -1)

	responses, err := stream.Collect(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	response := responses[0]
	if response.Kind != KindFunction {
		t.Fatalf("expected function kind, got %q", response.Kind)
	}
	if len(response.FunctionCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(response.FunctionCalls))
	}

	first := response.FunctionCalls[0]
	if first.ID != "call_a" || first.Name != "weather" {
		t.Errorf("unexpected first call: %+v", first)
	}
	if city, _ := first.Args.Get("city"); city != "Rome" {
		t.Errorf("expected city=Rome, got %v", city)
	}
}

// TestCollect_InterleavedToolCalls verifies that fragments of earlier calls
// keep accumulating after later indices grew the call list.
func TestCollect_InterleavedToolCalls(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, Name: "a", Arguments: `{"x":`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 1, Name: "b", Arguments: `{"y":`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 2, Name: "c", Arguments: `{}`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, Arguments: `1}`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 3, Name: "d"}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 1, Arguments: `2}`}},
		{Type: StreamEventDone, FinishReason: FinishToolCalls},
	}, nil, -1)

	responses, err := stream.Collect(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := responses[0].FunctionCalls
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}
	if x, _ := calls[0].Args.Get("x"); x != 1.0 {
		t.Errorf("expected x=1 on the first call, got %v", x)
	}
	if y, _ := calls[1].Args.Get("y"); y != 2.0 {
		t.Errorf("expected y=2 on the second call, got %v", y)
	}
	if calls[3].Name != "d" || len(calls[3].Args) != 0 {
		t.Errorf("unexpected fourth call %+v", calls[3])
	}
}

// TestCollect_NegativeToolCallIndex verifies that a negative call index from
// the wire is a ProtocolViolation.
func TestCollect_NegativeToolCallIndex(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: -1, Name: "f", Arguments: `{}`}},
		{Type: StreamEventDone, FinishReason: FinishToolCalls},
	}, nil, -1)

	if _, err := stream.Collect(nil); !IsProtocolViolation(err) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

// TestCollect_MalformedArguments verifies that unparseable arguments surface
// as a ProtocolViolation.
func TestCollect_MalformedArguments(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, Name: "f", Arguments: `[1, 2]`}},
		{Type: StreamEventDone, FinishReason: FinishToolCalls},
	}, nil, -1)

	_, err := stream.Collect(nil)
	if !IsProtocolViolation(err) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

// TestCollect_MidStreamError verifies that a mid-stream error stops collection
// without emitting the done chunk.
func TestCollect_MidStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := makeStream([]StreamEvent{
		{Type: StreamEventContent, Content: "partial"},
		{Type: StreamEventContent, Content: "lost"},
	}, boom, 1)

	var sawDone bool
	_, err := stream.Collect(func(chunk Chunk) { sawDone = sawDone || chunk.Done })
	if !errors.Is(err, boom) {
		t.Fatalf("expected mid-stream error, got %v", err)
	}
	if sawDone {
		t.Error("done chunk must not be emitted after a failed stream")
	}
}

// ========== NewSingleEventStream ==========

// TestNewSingleEventStream_RoundTrip verifies that replaying complete
// responses through Collect reproduces them.
func TestNewSingleEventStream_RoundTrip(t *testing.T) {
	responses := []Response{
		{Index: 0, Text: "hello", FinishReason: FinishStop},
		{Index: 1, FunctionCalls: []FunctionCallPart{{ID: "c1", Name: "sum", Args: Args{{Name: "a", Value: 1.0}}}}, FinishReason: FinishToolCalls},
	}

	collected, err := NewSingleEventStream(responses).Collect(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(collected) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(collected))
	}
	if collected[0].Text != "hello" || collected[0].Kind != KindText {
		t.Errorf("unexpected first candidate: %+v", collected[0])
	}
	if collected[1].Kind != KindFunction || collected[1].FunctionCalls[0].Name != "sum" {
		t.Errorf("unexpected second candidate: %+v", collected[1])
	}
}

// ========== SelectCandidate ==========

// TestSelectCandidate covers partial blocking, full blocking and empty lists.
func TestSelectCandidate(t *testing.T) {
	blocked := Response{Index: 0, Kind: KindSafety, SafetyRatings: []SafetyRating{{Category: "HARM_CATEGORY_HARASSMENT", Blocked: true}}}
	allowed := Response{Index: 1, Kind: KindText, Text: "fine"}

	t.Run("drops blocked candidates", func(t *testing.T) {
		selected, err := SelectCandidate("test", []Response{blocked, allowed})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected.Text != "fine" {
			t.Errorf("expected surviving candidate, got %+v", selected)
		}
	})

	t.Run("all blocked", func(t *testing.T) {
		_, err := SelectCandidate("test", []Response{blocked, blocked})
		var safetyErr *SafetyError
		if !errors.As(err, &safetyErr) {
			t.Fatalf("expected SafetyError, got %v", err)
		}
		if len(safetyErr.Ratings) != 2 || safetyErr.Ratings[0][0].Category != "HARM_CATEGORY_HARASSMENT" {
			t.Errorf("expected per-candidate ratings, got %+v", safetyErr.Ratings)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := SelectCandidate("test", nil)
		var providerErr *ProviderError
		if !errors.As(err, &providerErr) {
			t.Fatalf("expected ProviderError, got %v", err)
		}
	})
}
