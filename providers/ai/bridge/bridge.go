package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/ratelimit"
)

const (
	providerName = "bridge"

	// limiterCredential keys the cooldown, since the bridge has no API key.
	limiterCredential = "bridge"
)

const functionPreamble = `You can call the functions listed below. To call one, reply with
<FUNCTION_CALL>name(arg1, arg2)</FUNCTION_CALL>
where the arguments are JSON values in the listed order. Optional arguments may be omitted from the end.
Results come back as <FUNCTION_RESULT name="name">json</FUNCTION_RESULT>.

Functions:
`

// Bridge implements ai.Backend by forwarding requests to the browser client
// attached to a Hub. Only one request may be outstanding per Hub.
type Bridge struct {
	hub     *Hub
	client  *http.Client
	limiter *ratelimit.Limiter
	counter ai.TokenCounter
	logger  *slog.Logger
}

var _ ai.Backend = (*Bridge)(nil)

// New creates a Bridge serving requests through hub.
func New(hub *Hub) *Bridge {
	return &Bridge{
		hub:    hub,
		client: &http.Client{},
	}
}

// WithHttpClient sets the client used to fetch remote images.
func (b *Bridge) WithHttpClient(httpClient *http.Client) *Bridge {
	b.client = httpClient
	return b
}

// WithLimiter sets the cooldown limiter consulted before every request.
func (b *Bridge) WithLimiter(limiter *ratelimit.Limiter) *Bridge {
	b.limiter = limiter
	return b
}

// WithTokenCounter sets the collaborator used by CountTokens.
func (b *Bridge) WithTokenCounter(counter ai.TokenCounter) *Bridge {
	b.counter = counter
	return b
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func (b *Bridge) WithLogger(logger *slog.Logger) *Bridge {
	b.logger = logger
	return b
}

func (b *Bridge) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// RequestChatComplete implements ai.Backend. It fails with ErrBusy while
// another request is waiting on the same Hub.
func (b *Bridge) RequestChatComplete(ctx context.Context, model string, turns []ai.Turn, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	if err := ai.ValidateConversation(turns); err != nil {
		return nil, err
	}

	if !b.hub.acquire() {
		return nil, ErrBusy
	}
	defer b.hub.release()

	if err := b.limiter.Wait(ctx, limiterCredential, model); err != nil {
		return nil, err
	}

	inlined, err := ai.InlineImages(ctx, b.client, turns)
	if err != nil {
		return nil, ai.WrapProviderError(providerName, err)
	}

	messages, err := buildMessages(inlined, options.Functions)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	request, err := newEnvelope(typeCompletionRequest, id, completionRequest{
		Model:    model,
		Messages: messages,
		Options:  options.Generation,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding bridge request: %w", err)
	}

	b.log().DebugContext(ctx, "bridge request", "id", id, "model", model, "messages", len(messages), "functions", len(options.Functions))

	p, err := b.hub.open(id, request)
	if err != nil {
		return nil, ai.WrapProviderError(providerName, err)
	}
	defer b.hub.close(id, p)

	responses, err := b.stream(ctx, p, options.Functions).Collect(onChunk)
	if err != nil {
		return nil, ai.WrapProviderError(providerName, err)
	}

	selected, err := ai.SelectCandidate(providerName, responses)
	if err != nil {
		return nil, err
	}
	selected.Model = model
	return selected, nil
}

// RequestCompletion sends text as a single user Turn.
func (b *Bridge) RequestCompletion(ctx context.Context, model string, text string, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	return b.RequestChatComplete(ctx, model, []ai.Turn{ai.TextTurn(ai.RoleUser, text)}, options, onChunk)
}

// CountTokens delegates to the configured TokenCounter.
func (b *Bridge) CountTokens(ctx context.Context, model string, turns []ai.Turn) (int, error) {
	if b.counter == nil {
		return 0, ai.NewConfigurationError("bridge backend has no token counter")
	}
	return b.counter.CountTokens(ctx, model, turns)
}

// stream turns the envelopes of one request into StreamEvents. Marker text
// is lexed out of the chunks; the calls are yielded once the response
// arrives.
func (b *Bridge) stream(ctx context.Context, p *pending, functions []ai.FunctionSpec) *ai.ChatStream {
	iteratorFunc := func(yield func(ai.StreamEvent, error) bool) {
		var lexer markerLexer

		emit := func(text string) bool {
			if text == "" {
				return true
			}
			return yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: text}, nil)
		}

		for {
			var env envelope
			select {
			case <-ctx.Done():
				yield(ai.StreamEvent{}, ctx.Err())
				return
			case env = <-p.events:
			}

			switch env.Type {
			case typeCompletionChunk:
				var chunk chunkPayload
				if err := json.Unmarshal(env.Payload, &chunk); err != nil {
					yield(ai.StreamEvent{}, fmt.Errorf("failed to parse bridge chunk: %w", err))
					return
				}
				visible, err := lexer.Feed(chunk.Text)
				if err != nil {
					yield(ai.StreamEvent{}, err)
					return
				}
				if !emit(visible) {
					return
				}

			case typeCompletionResponse:
				var response responsePayload
				if len(env.Payload) > 0 {
					if err := json.Unmarshal(env.Payload, &response); err != nil {
						yield(ai.StreamEvent{}, fmt.Errorf("failed to parse bridge response: %w", err))
						return
					}
				}
				b.finish(&lexer, response, functions, emit, yield)
				return

			case typeError:
				var payload errorPayload
				_ = json.Unmarshal(env.Payload, &payload)
				if payload.Message == "" {
					payload.Message = "browser client reported an error"
				}
				yield(ai.StreamEvent{}, &ai.ProviderError{Provider: providerName, Message: payload.Message})
				return

			default:
				b.log().Warn("ignoring unexpected bridge envelope", "type", env.Type, "id", env.ID)
			}
		}
	}
	return ai.NewChatStream(iteratorFunc)
}

// finish flushes the lexer and yields the calls and the done event.
func (b *Bridge) finish(lexer *markerLexer, response responsePayload, functions []ai.FunctionSpec, emit func(string) bool, yield func(ai.StreamEvent, error) bool) {
	visible, err := lexer.Feed(response.Text)
	if err != nil {
		yield(ai.StreamEvent{}, err)
		return
	}
	if !emit(visible) {
		return
	}

	tail, calls, err := lexer.Close()
	if err != nil {
		yield(ai.StreamEvent{}, err)
		return
	}
	if !emit(tail) {
		return
	}

	for i, call := range calls {
		arguments, err := namedArgs(call, functions)
		if err != nil {
			yield(ai.StreamEvent{}, err)
			return
		}
		if !yield(ai.StreamEvent{
			Type: ai.StreamEventToolCall,
			ToolCall: &ai.ToolCallDelta{
				Index:     i,
				ID:        fmt.Sprintf("call_%d", i),
				Name:      call.Name,
				Arguments: arguments,
			},
		}, nil) {
			return
		}
	}

	yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: mapFinishReason(response.FinishReason)}, nil)
}

func mapFinishReason(reason string) ai.FinishReason {
	switch reason {
	case "length":
		return ai.FinishLength
	case "safety":
		return ai.FinishSafety
	default:
		return ai.FinishStop
	}
}

// buildMessages renders turns as plain-text messages. Function calls become
// markers, function results become user messages, and guidance becomes an
// assistant prefill. Consecutive messages of one role are merged.
func buildMessages(turns []ai.Turn, functions []ai.FunctionSpec) ([]message, error) {
	system, rest := ai.SplitSystem(turns)
	if len(functions) > 0 {
		if system != "" {
			system += "\n\n"
		}
		system += functionPreamble + ai.FunctionListing(functions)
	}

	var messages []message
	if system != "" {
		messages = append(messages, message{Role: "system", Content: system})
	}

	for _, turn := range rest {
		msg, err := toMessage(turn)
		if err != nil {
			return nil, err
		}

		if n := len(messages); n > 0 && messages[n-1].Role == msg.Role && msg.Role != "system" {
			last := &messages[n-1]
			last.Content = joinText(last.Content, msg.Content)
			last.Images = append(last.Images, msg.Images...)
			last.Prefill = last.Prefill || msg.Prefill
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func toMessage(turn ai.Turn) (message, error) {
	msg := message{Role: "user"}
	switch turn.Role {
	case ai.RoleAssistant:
		msg.Role = "assistant"
	case ai.RoleGuidance:
		msg.Role = "assistant"
		msg.Prefill = true
	case ai.RoleSystem:
		msg.Role = "system"
	}

	var texts []string
	for _, part := range turn.Parts {
		switch p := part.(type) {
		case ai.TextPart:
			texts = append(texts, p.Text)
		case ai.ImagePart:
			mimeType, data, ok := p.Base64()
			if !ok {
				return message{}, ai.NewValidationError("image part without data after inlining")
			}
			msg.Images = append(msg.Images, image{MimeType: mimeType, Data: data})
		case ai.FunctionCallPart:
			rendered, err := renderCall(p)
			if err != nil {
				return message{}, err
			}
			texts = append(texts, rendered)
		case ai.FunctionResponsePart:
			result := string(p.Result)
			if result == "" {
				result = "null"
			}
			texts = append(texts, fmt.Sprintf("<FUNCTION_RESULT name=%q>%s</FUNCTION_RESULT>", p.Name, result))
		}
	}
	msg.Content = strings.Join(texts, "\n")
	return msg, nil
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
