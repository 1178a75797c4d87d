package openai

import (
	"encoding/json"
	"fmt"

	"github.com/leofalp/polychat/providers/ai"
)

/*
	CHAT COMPLETIONS API - INPUT
*/

// chatCompletionRequest represents the /chat/completions request format.
type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	N             *int           `json:"n,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Tools         []chatTool     `json:"tools,omitempty"`
	ToolChoice    string         `json:"tool_choice,omitempty"`
}

// streamOptions configures streaming behavior in the request.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`              // system, user, assistant, tool
	Content    any            `json:"content,omitempty"` // string or []contentPart for multimodal
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

// contentPart represents a chat completions multimodal content part.
type contentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *contentPartImage `json:"image_url,omitempty"`
}

type contentPartImage struct {
	URL string `json:"url"`
}

type chatTool struct {
	Type     string       `json:"type"` // "function"
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON string
	} `json:"function"`
}

/*
	CHAT COMPLETIONS API - OUTPUT
*/

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index                int                       `json:"index"`
	Message              chatResponseMessage       `json:"message"`
	FinishReason         string                    `json:"finish_reason"` // "stop", "length", "tool_calls", "content_filter"
	ContentFilterResults *chatContentFilterResults `json:"content_filter_results,omitempty"`
}

type chatResponseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
	Refusal   string         `json:"refusal,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatContentFilterResults is reported by Azure deployments per choice.
type chatContentFilterResults struct {
	Hate     *chatFilterResult `json:"hate,omitempty"`
	SelfHarm *chatFilterResult `json:"self_harm,omitempty"`
	Sexual   *chatFilterResult `json:"sexual,omitempty"`
	Violence *chatFilterResult `json:"violence,omitempty"`
}

type chatFilterResult struct {
	Filtered bool   `json:"filtered"`
	Severity string `json:"severity"`
}

// apiError is the error object some hosts send with a 200 status, either as
// the body or as an SSE payload.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

/*
	CHAT COMPLETIONS STREAMING API
*/

// chatCompletionStreamChunk represents a single SSE chunk from the streaming
// chat completions endpoint.
type chatCompletionStreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *chatUsage     `json:"usage,omitempty"` // final chunk only, when include_usage is set
	Error   *apiError      `json:"error,omitempty"`
}

type streamChoice struct {
	Index                int                       `json:"index"`
	Delta                streamDelta               `json:"delta"`
	FinishReason         *string                   `json:"finish_reason"` // nil until the final chunk for this choice
	ContentFilterResults *chatContentFilterResults `json:"content_filter_results,omitempty"`
}

type streamDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   *string              `json:"content,omitempty"`
	ToolCalls []streamToolCallPart `json:"tool_calls,omitempty"`
}

// streamToolCallPart is an incremental tool call delta. The first chunk for a
// call carries its ID and name; later chunks carry argument fragments.
type streamToolCallPart struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

/*
	CONVERSION FUNCTIONS
*/

// emptyParameters is sent for functions declared without parameters.
var emptyParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// buildRequest translates turns and options into a chat completions request.
// Remote images must already be inlined when the host cannot fetch them.
func buildRequest(model string, turns []ai.Turn, options ai.ChatOptions, caps Capabilities) (chatCompletionRequest, error) {
	request := chatCompletionRequest{Model: model}

	messages, err := turnsToMessages(turns)
	if err != nil {
		return request, err
	}
	request.Messages = messages

	gen := options.Generation
	request.Temperature = gen.Temperature
	request.TopP = gen.TopP
	request.MaxTokens = gen.MaxTokens
	request.Stop = gen.StopSequences
	if caps.SupportsCandidates && gen.CandidateCount != nil && *gen.CandidateCount > 1 {
		request.N = gen.CandidateCount
	}

	for _, spec := range options.Functions {
		parameters := spec.Parameters
		if len(parameters) == 0 {
			parameters = emptyParameters
		}
		request.Tools = append(request.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  parameters,
			},
		})
	}
	if len(request.Tools) > 0 {
		request.ToolChoice = "auto"
	}

	return request, nil
}

// turnsToMessages maps every Turn to one or more chat messages. Calls without
// an ID get a synthetic one so that the tool messages answering them can
// reference it.
func turnsToMessages(turns []ai.Turn) ([]chatMessage, error) {
	var messages []chatMessage
	var pending map[string][]string // call name -> unanswered synthetic IDs

	for turnIndex, turn := range turns {
		switch turn.Role {
		case ai.RoleSystem:
			messages = append(messages, chatMessage{Role: "system", Content: turn.Text()})

		case ai.RoleUser:
			messages = append(messages, chatMessage{Role: "user", Content: userContent(turn.Parts)})

		case ai.RoleGuidance:
			// Partial assistant prefix the model should continue.
			messages = append(messages, chatMessage{Role: "assistant", Content: turn.Text()})

		case ai.RoleAssistant:
			message := chatMessage{Role: "assistant"}
			if text := turn.Text(); text != "" {
				message.Content = text
			}
			pending = map[string][]string{}
			for callIndex, call := range turn.FunctionCalls() {
				id := call.ID
				if id == "" {
					id = fmt.Sprintf("call_%d_%d", turnIndex, callIndex)
					pending[call.Name] = append(pending[call.Name], id)
				}
				arguments, err := json.Marshal(call.Args)
				if err != nil {
					return nil, fmt.Errorf("encoding arguments of %q: %w", call.Name, err)
				}
				toolCall := chatToolCall{ID: id, Type: "function"}
				toolCall.Function.Name = call.Name
				toolCall.Function.Arguments = string(arguments)
				message.ToolCalls = append(message.ToolCalls, toolCall)
			}
			messages = append(messages, message)

		case ai.RoleFunction:
			for _, response := range turn.FunctionResponses() {
				id := response.ID
				if id == "" && len(pending[response.Name]) > 0 {
					id = pending[response.Name][0]
					pending[response.Name] = pending[response.Name][1:]
				}
				content := string(response.Result)
				if content == "" {
					content = "null"
				}
				messages = append(messages, chatMessage{Role: "tool", ToolCallID: id, Content: content})
			}

		default:
			return nil, ai.NewValidationError("unknown role %q", turn.Role)
		}
	}

	return messages, nil
}

// userContent returns a plain string for text-only turns and a content part
// list when images are present.
func userContent(parts ai.Parts) any {
	hasImage := false
	for _, part := range parts {
		if _, ok := part.(ai.ImagePart); ok {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return ai.Turn{Parts: parts}.Text()
	}

	content := make([]contentPart, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case ai.TextPart:
			content = append(content, contentPart{Type: "text", Text: p.Text})
		case ai.ImagePart:
			url := imageURL(p)
			if url == "" {
				continue
			}
			content = append(content, contentPart{Type: "image_url", ImageURL: &contentPartImage{URL: url}})
		}
	}
	return content
}

// imageURL returns the remote URL of an image or a base64 data URL.
func imageURL(image ai.ImagePart) string {
	if mimeType, data, ok := image.Base64(); ok {
		if mimeType == "" {
			mimeType = "image/png"
		}
		return "data:" + mimeType + ";base64," + data
	}
	return image.URL
}

// mapFinishReason normalizes an OpenAI finish_reason.
func mapFinishReason(reason string) ai.FinishReason {
	switch reason {
	case "stop":
		return ai.FinishStop
	case "length":
		return ai.FinishLength
	case "tool_calls", "function_call":
		return ai.FinishToolCalls
	case "content_filter":
		return ai.FinishSafety
	case "":
		return ""
	default:
		return ai.FinishOther
	}
}

// safetyRatings flattens Azure content filter results.
func safetyRatings(results *chatContentFilterResults) []ai.SafetyRating {
	if results == nil {
		return nil
	}
	var ratings []ai.SafetyRating
	add := func(category string, result *chatFilterResult) {
		if result != nil {
			ratings = append(ratings, ai.SafetyRating{Category: category, Probability: result.Severity, Blocked: result.Filtered})
		}
	}
	add("hate", results.Hate)
	add("self_harm", results.SelfHarm)
	add("sexual", results.Sexual)
	add("violence", results.Violence)
	return ratings
}

// choiceToResponse converts a non-streaming choice to a candidate Response.
func choiceToResponse(choice chatChoice, raw json.RawMessage) (ai.Response, error) {
	response := ai.Response{
		Index:         choice.Index,
		Text:          choice.Message.Content,
		FinishReason:  mapFinishReason(choice.FinishReason),
		SafetyRatings: safetyRatings(choice.ContentFilterResults),
		Raw:           raw,
	}
	if response.Text == "" && choice.Message.Refusal != "" {
		response.Text = choice.Message.Refusal
	}

	for _, toolCall := range choice.Message.ToolCalls {
		args, err := ai.ParseArgs(toolCall.Function.Arguments)
		if err != nil {
			return ai.Response{}, ai.NewProtocolViolation("malformed arguments for %q: %v", toolCall.Function.Name, err)
		}
		response.FunctionCalls = append(response.FunctionCalls, ai.FunctionCallPart{
			ID:   toolCall.ID,
			Name: toolCall.Function.Name,
			Args: args,
		})
	}

	return response, nil
}

func usageFromWire(usage *chatUsage) *ai.Usage {
	if usage == nil {
		return nil
	}
	return &ai.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
}
