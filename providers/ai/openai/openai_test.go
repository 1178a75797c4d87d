package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leofalp/polychat/providers/ai"
)

// sseHandler replies with one SSE event per payload followed by [DONE] and
// records the decoded request body.
func sseHandler(t *testing.T, captured *chatCompletionRequest, payloads ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatCompletionsEndpoint {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, captured); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, payload := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func newTestProvider(server *httptest.Server) *OpenAIProvider {
	return New().
		WithAPIKey("test-key").
		WithBaseURL(server.URL).
		WithHttpClient(server.Client()).
		WithCapabilities(Capabilities{
			RequiresAPIKey:     true,
			SupportsStreaming:  true,
			SupportsCandidates: true,
			SupportsImageURLs:  true,
		})
}

func userTurns(text string) []ai.Turn {
	return []ai.Turn{ai.TextTurn(ai.RoleUser, text)}
}

func TestRequestChatComplete_StreamsText(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(sseHandler(t, &captured,
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
	))
	defer server.Close()

	var chunks []ai.Chunk
	response, err := newTestProvider(server).RequestChatComplete(context.Background(), "gpt-4o", userTurns("hi"), ai.ChatOptions{}, func(c ai.Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if response.Kind != ai.KindText || response.Text != "Hello" || response.Truncated {
		t.Errorf("unexpected response %+v", response)
	}
	if response.Model != "gpt-4o" {
		t.Errorf("expected model to be recorded, got %q", response.Model)
	}
	if response.Usage == nil || response.Usage.TotalTokens != 5 {
		t.Errorf("expected usage to be collected, got %+v", response.Usage)
	}
	if len(chunks) != 3 || chunks[0].Text != "Hel" || chunks[1].Text != "lo" || !chunks[2].Done {
		t.Errorf("unexpected chunks %+v", chunks)
	}
	if !captured.Stream || captured.Model != "gpt-4o" || len(captured.Messages) != 1 {
		t.Errorf("unexpected request %+v", captured)
	}
}

func TestRequestChatComplete_StreamsToolCallFragments(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"b\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2,\"a\":1}"}}]},"finish_reason":"tool_calls"}]}`,
	))
	defer server.Close()

	options := ai.ChatOptions{Functions: []ai.FunctionSpec{{Name: "add", Description: "adds"}}}
	response, err := newTestProvider(server).RequestChatComplete(context.Background(), "gpt-4o", userTurns("1+2"), options, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if response.Kind != ai.KindFunction || len(response.FunctionCalls) != 1 {
		t.Fatalf("expected one function call, got %+v", response)
	}
	call := response.FunctionCalls[0]
	if call.ID != "call_1" || call.Name != "add" {
		t.Errorf("unexpected call %+v", call)
	}
	if got := strings.Join(call.Args.Names(), ","); got != "b,a" {
		t.Errorf("expected argument order b,a, got %s", got)
	}
}

func TestRequestChatComplete_CandidateSelection(t *testing.T) {
	tests := []struct {
		name       string
		payloads   []string
		wantText   string
		wantSafety int
	}{
		{
			name: "first filtered second kept",
			payloads: []string{
				`{"choices":[{"index":0,"delta":{},"finish_reason":"content_filter"},{"index":1,"delta":{"content":"ok"}}]}`,
				`{"choices":[{"index":1,"delta":{},"finish_reason":"stop"}]}`,
			},
			wantText: "ok",
		},
		{
			name: "all filtered",
			payloads: []string{
				`{"choices":[{"index":0,"delta":{},"finish_reason":"content_filter","content_filter_results":{"hate":{"filtered":true,"severity":"high"}}}]}`,
				`{"choices":[{"index":1,"delta":{},"finish_reason":"content_filter"}]}`,
			},
			wantSafety: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(sseHandler(t, nil, tt.payloads...))
			defer server.Close()

			n := 2
			options := ai.ChatOptions{Generation: ai.GenerationOptions{CandidateCount: &n}}
			response, err := newTestProvider(server).RequestChatComplete(context.Background(), "gpt-4o", userTurns("x"), options, nil)

			if tt.wantSafety > 0 {
				var safetyErr *ai.SafetyError
				if !errors.As(err, &safetyErr) {
					t.Fatalf("expected SafetyError, got %v", err)
				}
				if len(safetyErr.Ratings) != tt.wantSafety {
					t.Errorf("expected %d rating sets, got %d", tt.wantSafety, len(safetyErr.Ratings))
				}
				if len(safetyErr.Ratings[0]) != 1 || !safetyErr.Ratings[0][0].Blocked {
					t.Errorf("expected the hate rating to be carried, got %+v", safetyErr.Ratings[0])
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if response.Text != tt.wantText || response.Index != 1 {
				t.Errorf("unexpected response %+v", response)
			}
		})
	}
}

func TestRequestChatComplete_LengthIsTruncated(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil,
		`{"choices":[{"index":0,"delta":{"content":"partial"},"finish_reason":"length"}]}`,
	))
	defer server.Close()

	response, err := newTestProvider(server).RequestChatComplete(context.Background(), "gpt-4o", userTurns("x"), ai.ChatOptions{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Kind != ai.KindText || !response.Truncated {
		t.Errorf("expected truncated text, got %+v", response)
	}
}

func TestRequestChatComplete_StreamErrorPayload(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil,
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"error":{"message":"overloaded"}}`,
	))
	defer server.Close()

	_, err := newTestProvider(server).RequestChatComplete(context.Background(), "gpt-4o", userTurns("x"), ai.ChatOptions{}, nil)
	var providerErr *ai.ProviderError
	if !errors.As(err, &providerErr) || !strings.Contains(providerErr.Error(), "overloaded") {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestRequestChatComplete_SyncPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request chatCompletionRequest
		json.NewDecoder(r.Body).Decode(&request)
		if request.Stream {
			t.Error("expected a non-streaming request")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "", "tool_calls": [
					{"id": "call_9", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}}
				]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	}))
	defer server.Close()

	provider := newTestProvider(server).WithCapabilities(Capabilities{RequiresAPIKey: true, SupportsImageURLs: true})

	var done bool
	response, err := provider.RequestChatComplete(context.Background(), "gpt-4o", userTurns("x"), ai.ChatOptions{}, func(c ai.Chunk) {
		done = done || c.Done
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Kind != ai.KindFunction || response.FunctionCalls[0].ID != "call_9" {
		t.Errorf("unexpected response %+v", response)
	}
	if q, _ := response.FunctionCalls[0].Args.Get("q"); q != "go" {
		t.Errorf("unexpected args %+v", response.FunctionCalls[0].Args)
	}
	if !done {
		t.Error("expected a done chunk from the replayed stream")
	}
}

func TestRequestChatComplete_Errors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		provider := New().WithAPIKey("").WithBaseURL(defaultBaseURL)
		_, err := provider.RequestChatComplete(context.Background(), "gpt-4o", userTurns("x"), ai.ChatOptions{}, nil)
		if !ai.IsConfiguration(err) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := newTestProvider(server).RequestChatComplete(context.Background(), "gpt-4o", userTurns("x"), ai.ChatOptions{}, nil)
		var providerErr *ai.ProviderError
		if !errors.As(err, &providerErr) || providerErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 ProviderError, got %v", err)
		}
		if providerErr.Provider != "openai" || !strings.Contains(providerErr.Body, "bad key") {
			t.Errorf("unexpected provider error %+v", providerErr)
		}
	})

	t.Run("invalid conversation", func(t *testing.T) {
		turns := []ai.Turn{ai.TextTurn(ai.RoleGuidance, "x"), ai.TextTurn(ai.RoleUser, "y")}
		_, err := New().WithAPIKey("k").RequestChatComplete(context.Background(), "gpt-4o", turns, ai.ChatOptions{}, nil)
		if !ai.IsProtocolViolation(err) {
			t.Fatalf("expected ProtocolViolation, got %v", err)
		}
	})
}

func TestRequestChatComplete_InlinesImagesWhenHostCannotFetch(t *testing.T) {
	var captured chatCompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/cat.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc(chatCompletionsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a cat\"},\"finish_reason\":\"stop\"}]}\n\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider := newTestProvider(server).WithCapabilities(Capabilities{SupportsStreaming: true})
	turns := []ai.Turn{{Role: ai.RoleUser, Parts: ai.Parts{
		ai.TextPart{Text: "what is this"},
		ai.ImagePart{URL: server.URL + "/cat.png"},
	}}}

	if _, err := provider.RequestChatComplete(context.Background(), "llava", turns, ai.ChatOptions{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, ok := captured.Messages[0].Content.([]any)
	if !ok || len(content) != 2 {
		t.Fatalf("expected two content parts, got %#v", captured.Messages[0].Content)
	}
	image := content[1].(map[string]any)["image_url"].(map[string]any)
	if !strings.HasPrefix(image["url"].(string), "data:image/png;base64,") {
		t.Errorf("expected an inlined data URL, got %v", image["url"])
	}
}

func TestCountTokens(t *testing.T) {
	provider := New()
	if _, err := provider.CountTokens(context.Background(), "gpt-4o", userTurns("x")); !ai.IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError without a counter, got %v", err)
	}

	provider.WithTokenCounter(ai.TokenCounterFunc(func(ctx context.Context, model string, turns []ai.Turn) (int, error) {
		return len(turns) * 10, nil
	}))
	count, err := provider.CountTokens(context.Background(), "gpt-4o", userTurns("x"))
	if err != nil || count != 10 {
		t.Errorf("expected 10, got %d (%v)", count, err)
	}
}

func TestRequestCompletion(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(sseHandler(t, &captured,
		`{"choices":[{"index":0,"delta":{"content":"pong"},"finish_reason":"stop"}]}`,
	))
	defer server.Close()

	response, err := newTestProvider(server).RequestCompletion(context.Background(), "gpt-4o", "ping", ai.ChatOptions{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Text != "pong" {
		t.Errorf("expected pong, got %q", response.Text)
	}
	if captured.Messages[0].Role != "user" || captured.Messages[0].Content != "ping" {
		t.Errorf("unexpected request messages %+v", captured.Messages)
	}
}

func TestDetectCapabilities(t *testing.T) {
	tests := []struct {
		baseURL string
		want    Capabilities
	}{
		{"https://api.openai.com/v1", Capabilities{RequiresAPIKey: true, SupportsStreaming: true, SupportsUsage: true, SupportsCandidates: true, SupportsImageURLs: true}},
		{"http://localhost:11434/v1", Capabilities{SupportsStreaming: true}},
		{"https://openrouter.ai/api/v1", Capabilities{RequiresAPIKey: true, SupportsStreaming: true, SupportsUsage: true, SupportsImageURLs: true}},
		{"https://example.com/v1", Capabilities{SupportsStreaming: true, SupportsImageURLs: true}},
	}

	for _, tt := range tests {
		if got := detectCapabilities(tt.baseURL); got != tt.want {
			t.Errorf("detectCapabilities(%q) = %+v, want %+v", tt.baseURL, got, tt.want)
		}
	}
}
