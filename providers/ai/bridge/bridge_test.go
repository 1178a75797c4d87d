package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leofalp/polychat/providers/ai"
)

// browser is a fake websocket client standing in for the browser page.
type browser struct {
	t    *testing.T
	conn *websocket.Conn
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, server
}

func connect(t *testing.T, hub *Hub, server *httptest.Server) *browser {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("hub never saw the client")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return &browser{t: t, conn: conn}
}

// serve answers the next request with the given envelopes and returns the
// decoded request.
func (b *browser) serve(replies ...envelope) <-chan completionRequest {
	requests := make(chan completionRequest, 1)
	go func() {
		var env envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			b.t.Errorf("browser read failed: %v", err)
			close(requests)
			return
		}
		var request completionRequest
		json.Unmarshal(env.Payload, &request)
		requests <- request

		for _, reply := range replies {
			reply.ID = env.ID
			if err := b.conn.WriteJSON(reply); err != nil {
				b.t.Errorf("browser write failed: %v", err)
				return
			}
		}
	}()
	return requests
}

func chunk(text string) envelope {
	env, _ := newEnvelope(typeCompletionChunk, "", chunkPayload{Text: text})
	return env
}

func done(text, finish string) envelope {
	env, _ := newEnvelope(typeCompletionResponse, "", responsePayload{Text: text, FinishReason: finish})
	return env
}

func weatherSpec() ai.FunctionSpec {
	return ai.FunctionSpec{
		Name:        "weather",
		Description: "Current weather for a city",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"},"unit":{"type":"string"}},"required":["city"]}`),
		Params: []ai.ParamSpec{
			{Name: "city", Type: "string", Description: "city name", Required: true},
			{Name: "unit", Type: "string", Description: "c or f", Default: "c", HasDefault: true},
		},
	}
}

func TestHub_SingleClient(t *testing.T) {
	hub, server := startHub(t)
	connect(t, hub, server)

	_, response, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err == nil {
		t.Fatal("expected the second client to be rejected")
	}
	if response == nil || response.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %+v", response)
	}
}

func TestRequestChatComplete_StreamsText(t *testing.T) {
	hub, server := startHub(t)
	client := connect(t, hub, server)
	requests := client.serve(chunk("Ahoy"), chunk(", matey"), done("!", "stop"))

	turns := []ai.Turn{ai.TextTurn(ai.RoleSystem, "pirate"), ai.TextTurn(ai.RoleUser, "hi")}

	var streamed strings.Builder
	response, err := New(hub).RequestChatComplete(context.Background(), "gemini-nano", turns, ai.ChatOptions{}, func(c ai.Chunk) {
		streamed.WriteString(c.Text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if response.Text != "Ahoy, matey!" || response.Kind != ai.KindText || response.Model != "gemini-nano" {
		t.Errorf("unexpected response %+v", response)
	}
	if streamed.String() != "Ahoy, matey!" {
		t.Errorf("unexpected streamed text %q", streamed.String())
	}

	request := <-requests
	if request.Model != "gemini-nano" || len(request.Messages) != 2 || request.Messages[0].Content != "pirate" {
		t.Errorf("unexpected request %+v", request)
	}
}

func TestRequestChatComplete_FunctionMarkers(t *testing.T) {
	hub, server := startHub(t)
	client := connect(t, hub, server)
	requests := client.serve(
		chunk("Let me check. <FUNCTION_CALL>weather(\"Ro"),
		chunk("me\")</FUNCTION_CALL>"),
		done("", "stop"),
	)

	var streamed strings.Builder
	options := ai.ChatOptions{Functions: []ai.FunctionSpec{weatherSpec()}}
	response, err := New(hub).RequestCompletion(context.Background(), "m", "weather in Rome?", options, func(c ai.Chunk) {
		streamed.WriteString(c.Text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(streamed.String(), "FUNCTION_CALL") {
		t.Errorf("marker text leaked to the chunk handler: %q", streamed.String())
	}
	if response.Kind != ai.KindFunction || len(response.FunctionCalls) != 1 {
		t.Fatalf("expected one function call, got %+v", response)
	}
	call := response.FunctionCalls[0]
	if city, _ := call.Args.Get("city"); call.Name != "weather" || city != "Rome" {
		t.Errorf("unexpected call %+v", call)
	}

	request := <-requests
	system := request.Messages[0]
	if system.Role != "system" || !strings.Contains(system.Content, "<FUNCTION_CALL>") || !strings.Contains(system.Content, "weather(city: string") {
		t.Errorf("expected the function listing in the system prompt, got %q", system.Content)
	}
}

func TestRequestChatComplete_Errors(t *testing.T) {
	t.Run("malformed marker", func(t *testing.T) {
		hub, server := startHub(t)
		client := connect(t, hub, server)
		client.serve(chunk("<FUNCTION_CALL>weather(Rome)</FUNCTION_CALL>"), done("", "stop"))

		_, err := New(hub).RequestCompletion(context.Background(), "m", "x", ai.ChatOptions{Functions: []ai.FunctionSpec{weatherSpec()}}, nil)
		if !ai.IsProtocolViolation(err) {
			t.Fatalf("expected ProtocolViolation, got %v", err)
		}
	})

	t.Run("error envelope", func(t *testing.T) {
		hub, server := startHub(t)
		client := connect(t, hub, server)
		failure, _ := newEnvelope(typeError, "", errorPayload{Message: "model not loaded"})
		client.serve(failure)

		_, err := New(hub).RequestCompletion(context.Background(), "m", "x", ai.ChatOptions{}, nil)
		var providerErr *ai.ProviderError
		if !errors.As(err, &providerErr) || providerErr.Message != "model not loaded" {
			t.Fatalf("expected ProviderError, got %v", err)
		}
	})

	t.Run("safety", func(t *testing.T) {
		hub, server := startHub(t)
		client := connect(t, hub, server)
		client.serve(done("", "safety"))

		_, err := New(hub).RequestCompletion(context.Background(), "m", "x", ai.ChatOptions{}, nil)
		if !ai.IsSafety(err) {
			t.Fatalf("expected SafetyError, got %v", err)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		hub, _ := startHub(t)
		_, err := New(hub).RequestCompletion(context.Background(), "m", "x", ai.ChatOptions{}, nil)
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("busy", func(t *testing.T) {
		hub, _ := startHub(t)
		if !hub.acquire() {
			t.Fatal("expected to claim the slot")
		}
		defer hub.release()

		_, err := New(hub).RequestCompletion(context.Background(), "m", "x", ai.ChatOptions{}, nil)
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", err)
		}
	})

	t.Run("client disconnects", func(t *testing.T) {
		hub, server := startHub(t)
		client := connect(t, hub, server)
		go func() {
			var env envelope
			client.conn.ReadJSON(&env)
			client.conn.Close()
		}()

		_, err := New(hub).RequestCompletion(context.Background(), "m", "x", ai.ChatOptions{}, nil)
		var providerErr *ai.ProviderError
		if !errors.As(err, &providerErr) || !strings.Contains(providerErr.Message, "disconnected") {
			t.Fatalf("expected disconnect ProviderError, got %v", err)
		}
		if !hub.acquire() {
			t.Error("expected the request slot to be released")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		hub, server := startHub(t)
		connect(t, hub, server)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := New(hub).RequestCompletion(ctx, "m", "x", ai.ChatOptions{}, nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
	})
}

func TestBuildMessages(t *testing.T) {
	var args ai.Args
	args.Set("city", "Rome")

	turns := []ai.Turn{
		ai.TextTurn(ai.RoleSystem, "pirate"),
		ai.TextTurn(ai.RoleUser, "weather?"),
		{Role: ai.RoleAssistant, Parts: ai.Parts{ai.FunctionCallPart{ID: "call_0", Name: "weather", Args: args}}},
		{Role: ai.RoleFunction, Parts: ai.Parts{ai.FunctionResponsePart{ID: "call_0", Name: "weather", Result: json.RawMessage(`{"temp":21}`)}}},
		{Role: ai.RoleUser, Parts: ai.Parts{ai.TextPart{Text: "and this?"}, ai.ImagePart{Bytes: []byte("hi"), MIMEType: "image/png"}}},
		ai.TextTurn(ai.RoleGuidance, "Arr"),
	}

	messages, err := buildMessages(turns, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantRoles := []string{"system", "user", "assistant", "user", "assistant"}
	if len(messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %+v", len(wantRoles), messages)
	}
	for i, role := range wantRoles {
		if messages[i].Role != role {
			t.Errorf("message %d: expected role %s, got %s", i, role, messages[i].Role)
		}
	}

	if messages[2].Content != `<FUNCTION_CALL>weather("Rome")</FUNCTION_CALL>` {
		t.Errorf("unexpected rendered call %q", messages[2].Content)
	}
	merged := messages[3]
	if !strings.HasPrefix(merged.Content, `<FUNCTION_RESULT name="weather">{"temp":21}</FUNCTION_RESULT>`) || !strings.HasSuffix(merged.Content, "and this?") {
		t.Errorf("expected result and follow-up merged, got %q", merged.Content)
	}
	if len(merged.Images) != 1 || merged.Images[0].Data != "aGk=" {
		t.Errorf("unexpected images %+v", merged.Images)
	}
	if last := messages[4]; !last.Prefill || last.Content != "Arr" {
		t.Errorf("expected guidance as prefill, got %+v", last)
	}
}
