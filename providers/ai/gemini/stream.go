package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leofalp/polychat/internal/utils"
	"github.com/leofalp/polychat/providers/ai"
)

// openStream posts request to streamGenerateContent with alt=sse. Every SSE
// event carries a generateContentResponse holding only the new parts of each
// candidate.
func (p *GeminiProvider) openStream(ctx context.Context, model string, request generateContentRequest) (*ai.ChatStream, error) {
	streamURL := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)

	httpResponse, err := utils.DoPostStream(
		ctx,
		p.client,
		streamURL,
		"", // no Bearer auth, the key travels in x-goog-api-key
		request,
		utils.H("x-goog-api-key", p.apiKey),
	)
	if err != nil {
		return nil, err
	}

	state := newStreamState()
	return ai.NewSSEStream(ctx, httpResponse.Body, state.decode), nil
}

func (s *streamState) decode(payload []byte) ([]ai.StreamEvent, error) {
	var chunk generateContentResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("decode gemini stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return nil, &ai.ProviderError{Provider: providerName, StatusCode: chunk.Error.Code, Message: chunk.Error.Message}
	}
	if err := promptBlocked(chunk.PromptFeedback); err != nil {
		return nil, err
	}
	return s.events(&chunk, json.RawMessage(payload)), nil
}

// streamState numbers function calls per candidate across chunks, since
// Gemini sends each call whole and without an index.
type streamState struct {
	calls map[int]int
}

func newStreamState() *streamState {
	return &streamState{calls: map[int]int{}}
}

// events converts one chunk into StreamEvents.
func (s *streamState) events(chunk *generateContentResponse, raw json.RawMessage) []ai.StreamEvent {
	var events []ai.StreamEvent

	for _, cand := range chunk.Candidates {
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				switch {
				case p.Thought:
					continue

				case p.FunctionCall != nil:
					index := s.calls[cand.Index]
					s.calls[cand.Index]++
					events = append(events, ai.StreamEvent{
						Type:      ai.StreamEventToolCall,
						Candidate: cand.Index,
						ToolCall: &ai.ToolCallDelta{
							Index:     index,
							ID:        p.FunctionCall.ID,
							Name:      p.FunctionCall.Name,
							Arguments: string(p.FunctionCall.Args),
						},
					})

				case p.InlineData != nil:
					events = append(events, ai.StreamEvent{
						Type:      ai.StreamEventParts,
						Candidate: cand.Index,
						Parts:     ai.Parts{ai.ImagePart{Data: p.InlineData.Data, MIMEType: p.InlineData.MimeType}},
					})

				case p.Text != "":
					events = append(events, ai.StreamEvent{
						Type:      ai.StreamEventContent,
						Candidate: cand.Index,
						Content:   p.Text,
					})
				}
			}
		}

		if cand.FinishReason != "" {
			events = append(events, ai.StreamEvent{
				Type:          ai.StreamEventDone,
				Candidate:     cand.Index,
				FinishReason:  mapFinishReason(cand.FinishReason),
				SafetyRatings: toSafetyRatings(cand.SafetyRatings),
				Raw:           raw,
			})
		}
	}

	if chunk.UsageMetadata != nil {
		events = append(events, ai.StreamEvent{
			Type: ai.StreamEventUsage,
			Usage: &ai.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			},
		})
	}

	return events
}
