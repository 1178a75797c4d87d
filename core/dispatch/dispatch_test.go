package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leofalp/polychat/core/sessionlog"
	"github.com/leofalp/polychat/internal/aitest"
	"github.com/leofalp/polychat/internal/utils"
	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/cache/memstore"
)

func pirateRequest(caching bool) Request {
	return Request{
		Messages: []ai.Turn{
			ai.TextTurn(ai.RoleSystem, "You are a pirate."),
			ai.TextTurn(ai.RoleUser, "Hello"),
		},
		EnableCaching: caching,
	}
}

func collect(chunks *[]ai.Chunk) ai.ChunkHandler {
	return func(c ai.Chunk) { *chunks = append(*chunks, c) }
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(); !ai.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError without backends, got %v", err)
	}
	if _, err := New(WithBackend("x", aitest.NewBackend()), WithMiddleware(nil)); !ai.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for a nil middleware, got %v", err)
	}
}

func TestRequestChatCompletion_UnknownProvider(t *testing.T) {
	d, _ := New(WithBackend("openai", aitest.NewBackend()))
	_, err := d.RequestChatCompletion(context.Background(), "claude", "m", pirateRequest(false), nil)
	if !ai.IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRequestChatCompletion_ValidatesBeforeNetwork(t *testing.T) {
	tests := map[string]Request{
		"array parameters": {
			Messages:  []ai.Turn{ai.TextTurn(ai.RoleUser, "x")},
			Functions: []ai.FunctionSpec{{Name: "f", Description: "d", Parameters: json.RawMessage(`[1,2]`)}},
		},
		"missing description": {
			Messages:  []ai.Turn{ai.TextTurn(ai.RoleUser, "x")},
			Functions: []ai.FunctionSpec{{Name: "f"}},
		},
		"empty conversation": {},
		"guidance not last": {
			Messages: []ai.Turn{ai.TextTurn(ai.RoleGuidance, "Arr"), ai.TextTurn(ai.RoleUser, "x")},
		},
	}

	for name, request := range tests {
		t.Run(name, func(t *testing.T) {
			backend := aitest.NewBackend(aitest.Text("never"))
			d, _ := New(WithBackend("openai", backend))

			if _, err := d.RequestChatCompletion(context.Background(), "openai", "m", request, nil); err == nil {
				t.Fatal("expected an error")
			}
			if backend.CallCount() != 0 {
				t.Errorf("backend was called %d times", backend.CallCount())
			}
		})
	}
}

func TestValidateFunctions(t *testing.T) {
	err := ValidateFunctions([]ai.FunctionSpec{{Name: "f", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err = ValidateFunctions([]ai.FunctionSpec{{Name: "f", Description: "d"}, {Name: "f", Description: "again"}})
	if !ai.IsValidation(err) {
		t.Errorf("expected ValidationError for a duplicate, got %v", err)
	}
}

func TestRequestChatCompletion_CacheHitReplays(t *testing.T) {
	backend := aitest.NewBackend(aitest.Text("Ahoy", ", matey"))
	store := memstore.New()
	d, _ := New(WithBackend("openai", backend), WithCache(store))

	first, err := d.RequestChatCompletion(context.Background(), "openai", "gpt-4o", pirateRequest(true), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Flush()
	if store.Len() != 1 {
		t.Fatalf("expected one cache entry, got %d", store.Len())
	}

	var chunks []ai.Chunk
	second, err := d.RequestChatCompletion(context.Background(), "openai", "gpt-4o", pirateRequest(true), collect(&chunks))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if backend.CallCount() != 1 {
		t.Errorf("expected the second request served from cache, backend called %d times", backend.CallCount())
	}
	if second.Text != first.Text || second.Text != "Ahoy, matey" {
		t.Errorf("unexpected cached response %+v", second)
	}
	if len(chunks) != 2 || chunks[0].Text != "Ahoy, matey" || chunks[0].Done || !chunks[1].Done {
		t.Errorf("expected one text chunk and one done chunk, got %+v", chunks)
	}
}

func TestRequestChatCompletion_CacheSkipped(t *testing.T) {
	t.Run("caching disabled", func(t *testing.T) {
		backend := aitest.NewBackend(aitest.Text("a"), aitest.Text("b"))
		store := memstore.New()
		d, _ := New(WithBackend("openai", backend), WithCache(store))

		d.RequestChatCompletion(context.Background(), "openai", "m", pirateRequest(false), nil)
		d.RequestChatCompletion(context.Background(), "openai", "m", pirateRequest(false), nil)
		d.Flush()
		if backend.CallCount() != 2 || store.Len() != 0 {
			t.Errorf("expected no caching, got %d calls and %d entries", backend.CallCount(), store.Len())
		}
	})

	t.Run("safety result", func(t *testing.T) {
		backend := aitest.NewBackend(aitest.Fail(&ai.SafetyError{Reason: "SAFETY"}), aitest.Text("ok"))
		store := memstore.New()
		d, _ := New(WithBackend("gemini", backend), WithCache(store))

		_, err := d.RequestChatCompletion(context.Background(), "gemini", "m", pirateRequest(true), nil)
		if !ai.IsSafety(err) {
			t.Fatalf("expected SafetyError, got %v", err)
		}
		d.Flush()
		if store.Len() != 0 {
			t.Errorf("safety result must not be cached")
		}

		if _, err := d.RequestChatCompletion(context.Background(), "gemini", "m", pirateRequest(true), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backend.CallCount() != 2 {
			t.Errorf("expected a network call after the safety failure, got %d", backend.CallCount())
		}
	})

	t.Run("safety kind returned without error", func(t *testing.T) {
		backend := aitest.NewBackend(aitest.Step{
			Chunks:   []string{"partial"},
			Response: &ai.Response{Kind: ai.KindSafety, Text: "partial", FinishReason: ai.FinishSafety},
		})
		store := memstore.New()
		d, _ := New(WithBackend("custom", backend), WithCache(store))

		if _, err := d.RequestChatCompletion(context.Background(), "custom", "m", pirateRequest(true), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d.Flush()
		if store.Len() != 0 {
			t.Errorf("a safety response must not be cached")
		}
	})

	t.Run("function calls with announcement text", func(t *testing.T) {
		step := aitest.FunctionCalls(ai.FunctionCallPart{Name: "f"})
		step.Response.Text = "Let me check."
		backend := aitest.NewBackend(step)
		store := memstore.New()
		d, _ := New(WithBackend("openai", backend), WithCache(store))

		d.RequestChatCompletion(context.Background(), "openai", "m", pirateRequest(true), nil)
		d.Flush()
		if store.Len() != 0 {
			t.Errorf("a response with calls must not be cached")
		}
	})

	t.Run("function response", func(t *testing.T) {
		backend := aitest.NewBackend(aitest.FunctionCalls(ai.FunctionCallPart{Name: "f"}))
		store := memstore.New()
		d, _ := New(WithBackend("openai", backend), WithCache(store))

		d.RequestChatCompletion(context.Background(), "openai", "m", pirateRequest(true), nil)
		d.Flush()
		if store.Len() != 0 {
			t.Errorf("a response without text must not be cached")
		}
	})
}

func TestRequestChatCompletion_MergesDefaults(t *testing.T) {
	backend := aitest.NewBackend(aitest.Text("ok"))
	d, _ := New(
		WithBackend("openai", backend),
		WithDefaults(ai.GenerationOptions{Temperature: utils.Ptr(0.2), MaxTokens: utils.Ptr(100)}),
	)

	request := pirateRequest(false)
	request.Options = ai.GenerationOptions{MaxTokens: utils.Ptr(50)}
	request.Functions = []ai.FunctionSpec{{Name: "f", Description: "does f"}}
	if _, err := d.RequestChatCompletion(context.Background(), "openai", "m", request, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	options := backend.Calls()[0].Options
	if *options.Generation.Temperature != 0.2 || *options.Generation.MaxTokens != 50 {
		t.Errorf("unexpected merged options %+v", options.Generation)
	}
	if len(options.Functions) != 1 {
		t.Errorf("expected functions forwarded, got %+v", options.Functions)
	}
}

func TestRequestChatCompletion_SessionLog(t *testing.T) {
	backend := aitest.NewBackend(aitest.Text("Ahoy"), aitest.Fail(errors.New("boom")))
	log := sessionlog.New()
	d, _ := New(WithBackend("openai", backend), WithCache(memstore.New()), WithSessionLog(log))

	request := pirateRequest(true)
	d.RequestChatCompletion(context.Background(), "openai", "gpt-4o", request, nil)
	d.Flush()
	d.RequestChatCompletion(context.Background(), "openai", "gpt-4o", request, nil)

	request.Messages[1] = ai.TextTurn(ai.RoleUser, "mutated")
	request.EnableCaching = false
	d.RequestChatCompletion(context.Background(), "openai", "gpt-4o", request, nil)

	records := log.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Provider != "openai" || records[0].Response.Text != "Ahoy" || records[0].Cached {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if !records[1].Cached {
		t.Errorf("expected the second record to be a cache hit")
	}
	if records[0].Turns[1].Text() != "Hello" {
		t.Errorf("logged turns were aliased: %q", records[0].Turns[1].Text())
	}
	if records[2].Error != "boom" || records[2].Response != nil {
		t.Errorf("expected the failure logged, got %+v", records[2])
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next SendFunc) SendFunc {
			return func(ctx context.Context, call Call) (*ai.Response, error) {
				order = append(order, name+">")
				response, err := next(ctx, call)
				order = append(order, "<"+name)
				return response, err
			}
		}
	}

	d, _ := New(WithBackend("openai", aitest.NewBackend(aitest.Text("ok"))), WithMiddleware(trace("a"), trace("b")))
	if _, err := d.RequestCompletion(context.Background(), "openai", "m", "hi", nil, ai.GenerationOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a>", "b>", "<b", "<a"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("unexpected order %v", order)
			break
		}
	}
}

func TestCountTokens(t *testing.T) {
	backend := aitest.NewBackend()
	backend.Tokens = 42
	d, _ := New(WithBackend("openai", backend))

	count, err := d.CountTokens(context.Background(), "openai", "m", []ai.Turn{ai.TextTurn(ai.RoleUser, "x")})
	if err != nil || count != 42 {
		t.Errorf("expected 42, got %d (%v)", count, err)
	}
	if _, err := d.CountTokens(context.Background(), "nope", "m", nil); !ai.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}
