package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leofalp/polychat/internal/utils"
	"github.com/leofalp/polychat/providers/ai"
)

// openStream sends request with stream=true and returns a ChatStream that
// yields deltas as SSE events arrive.
func (p *OpenAIProvider) openStream(ctx context.Context, request chatCompletionRequest) (*ai.ChatStream, error) {
	request.Stream = true
	if p.capabilities.SupportsUsage {
		request.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	httpResponse, err := utils.DoPostStream(ctx, p.client, p.baseURL+chatCompletionsEndpoint, p.apiKey, request)
	if err != nil {
		return nil, err
	}

	return ai.NewSSEStream(ctx, httpResponse.Body, decodeStreamChunk), nil
}

func decodeStreamChunk(payload []byte) ([]ai.StreamEvent, error) {
	var chunk chatCompletionStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("decode stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return nil, &ai.ProviderError{Provider: providerName, Message: chunk.Error.Message}
	}
	return chunkToStreamEvents(&chunk, json.RawMessage(payload)), nil
}

// chunkToStreamEvents converts one streaming chunk into StreamEvents. A chunk
// can carry content, tool calls and a finish reason for several choices.
func chunkToStreamEvents(chunk *chatCompletionStreamChunk, raw json.RawMessage) []ai.StreamEvent {
	var events []ai.StreamEvent

	// The usage chunk usually has no choices.
	if chunk.Usage != nil {
		events = append(events, ai.StreamEvent{Type: ai.StreamEventUsage, Usage: usageFromWire(chunk.Usage)})
	}

	for _, choice := range chunk.Choices {
		delta := choice.Delta

		if delta.Content != nil && *delta.Content != "" {
			events = append(events, ai.StreamEvent{
				Type:      ai.StreamEventContent,
				Candidate: choice.Index,
				Content:   *delta.Content,
			})
		}

		for _, toolCallPart := range delta.ToolCalls {
			events = append(events, ai.StreamEvent{
				Type:      ai.StreamEventToolCall,
				Candidate: choice.Index,
				ToolCall: &ai.ToolCallDelta{
					Index:     toolCallPart.Index,
					ID:        toolCallPart.ID,
					Name:      toolCallPart.Function.Name,
					Arguments: toolCallPart.Function.Arguments,
				},
			})
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			events = append(events, ai.StreamEvent{
				Type:          ai.StreamEventDone,
				Candidate:     choice.Index,
				FinishReason:  mapFinishReason(*choice.FinishReason),
				SafetyRatings: safetyRatings(choice.ContentFilterResults),
				Raw:           raw,
			})
		}
	}

	return events
}
