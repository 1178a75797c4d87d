package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leofalp/polychat/core/sessionlog"
	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/cache"
)

// Request is one chat completion request.
type Request struct {
	Messages      []ai.Turn
	Functions     []ai.FunctionSpec
	EnableCaching bool
	Options       ai.GenerationOptions
}

// Dispatcher resolves backends by provider id and applies caching, default
// options, middleware and session logging around every call.
type Dispatcher struct {
	backends    map[string]ai.Backend
	chains      map[string]SendFunc
	cache       cache.Store
	defaults    ai.GenerationOptions
	sessionLog  *sessionlog.Log
	middlewares []Middleware
	logger      *slog.Logger
	now         func() time.Time

	cacheWrites sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackend registers backend under id. Registering the same id twice
// keeps the last backend.
func WithBackend(id string, backend ai.Backend) Option {
	return func(d *Dispatcher) {
		d.backends[id] = backend
	}
}

// WithCache enables response caching for requests that ask for it.
func WithCache(store cache.Store) Option {
	return func(d *Dispatcher) {
		d.cache = store
	}
}

// WithDefaults sets generation options merged under every request's options.
func WithDefaults(options ai.GenerationOptions) Option {
	return func(d *Dispatcher) {
		d.defaults = options
	}
}

// WithSessionLog records every dispatch in log.
func WithSessionLog(log *sessionlog.Log) Option {
	return func(d *Dispatcher) {
		d.sessionLog = log
	}
}

// WithMiddleware appends middlewares to the chain. The first one is the
// outermost wrapper.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(d *Dispatcher) {
		d.middlewares = append(d.middlewares, middlewares...)
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a Dispatcher. At least one backend is required.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		backends: make(map[string]ai.Backend),
		chains:   make(map[string]SendFunc),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if len(d.backends) == 0 {
		return nil, ai.NewConfigurationError("dispatch: no backend registered")
	}
	for i, middleware := range d.middlewares {
		if middleware == nil {
			return nil, ai.NewConfigurationError("dispatch: middleware at index %d is nil", i)
		}
	}
	for id, backend := range d.backends {
		if backend == nil {
			return nil, ai.NewConfigurationError("dispatch: backend %q is nil", id)
		}
		d.chains[id] = buildChain(backend, d.middlewares)
	}
	return d, nil
}

// Providers returns the registered provider ids in sorted order.
func (d *Dispatcher) Providers() []string {
	ids := make([]string, 0, len(d.backends))
	for id := range d.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Backend returns the backend registered under id.
func (d *Dispatcher) Backend(id string) (ai.Backend, error) {
	backend, ok := d.backends[id]
	if !ok {
		return nil, ai.NewConfigurationError("unknown provider %q", id)
	}
	return backend, nil
}

// RequestChatCompletion validates request, serves it from the cache when
// possible and otherwise sends it to the backend registered as provider.
// A cache hit replays the cached text as a single chunk followed by a done
// chunk, without touching the network or the rate limiter.
func (d *Dispatcher) RequestChatCompletion(ctx context.Context, provider, model string, request Request, onChunk ai.ChunkHandler) (*ai.Response, error) {
	chain, ok := d.chains[provider]
	if !ok {
		return nil, ai.NewConfigurationError("unknown provider %q", provider)
	}
	if err := ValidateFunctions(request.Functions); err != nil {
		return nil, err
	}
	if err := ai.ValidateConversation(request.Messages); err != nil {
		return nil, err
	}

	options := d.defaults.Merge(request.Options)
	started := d.now()

	var key string
	if request.EnableCaching && d.cache != nil {
		var err error
		key, err = cache.Key(model, request.Messages)
		if err != nil {
			d.logger.WarnContext(ctx, "cache key failed, bypassing cache", "error", err)
		} else if response := d.lookup(ctx, key); response != nil {
			ai.Emit(onChunk, ai.Chunk{Index: response.Index, Text: response.Text})
			ai.Emit(onChunk, ai.Chunk{Done: true})
			d.record(ctx, provider, model, request, options, response, nil, true, started)
			return response, nil
		}
	}

	response, err := chain(ctx, Call{
		Provider: provider,
		Model:    model,
		Turns:    request.Messages,
		Options:  ai.ChatOptions{Generation: options, Functions: request.Functions},
		OnChunk:  onChunk,
	})
	d.record(ctx, provider, model, request, options, response, err, false, started)
	if err != nil {
		return nil, err
	}

	if key != "" && cacheable(response) {
		d.store(ctx, key, response)
	}
	return response, nil
}

// cacheable reports whether response can be replayed as plain text. Safety
// results are never stored, even from a backend that did not raise them.
func cacheable(response *ai.Response) bool {
	return response.Text != "" && response.Kind != ai.KindSafety && len(response.FunctionCalls) == 0
}

// RequestCompletion sends text as a single user Turn.
func (d *Dispatcher) RequestCompletion(ctx context.Context, provider, model, text string, onChunk ai.ChunkHandler, options ai.GenerationOptions) (*ai.Response, error) {
	return d.RequestChatCompletion(ctx, provider, model, Request{
		Messages: []ai.Turn{ai.TextTurn(ai.RoleUser, text)},
		Options:  options,
	}, onChunk)
}

// CountTokens asks the backend registered as provider.
func (d *Dispatcher) CountTokens(ctx context.Context, provider, model string, turns []ai.Turn) (int, error) {
	backend, err := d.Backend(provider)
	if err != nil {
		return 0, err
	}
	return backend.CountTokens(ctx, model, turns)
}

// Flush waits for pending cache writes.
func (d *Dispatcher) Flush() {
	d.cacheWrites.Wait()
}

func (d *Dispatcher) lookup(ctx context.Context, key string) *ai.Response {
	entry, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		return nil
	}
	if entry == nil || entry.Response == nil {
		return nil
	}
	d.logger.DebugContext(ctx, "cache hit", "key", key, "obtained_at", entry.ObtainedAt)
	return entry.Response.Clone()
}

// store writes the cache entry in the background. Failures are logged only.
func (d *Dispatcher) store(ctx context.Context, key string, response *ai.Response) {
	entry := cache.Entry{Response: response.Clone(), ObtainedAt: d.now()}
	writeCtx := context.WithoutCancel(ctx)

	d.cacheWrites.Add(1)
	go func() {
		defer d.cacheWrites.Done()
		if err := d.cache.Put(writeCtx, key, entry); err != nil {
			d.logger.WarnContext(writeCtx, "cache write failed", "key", key, "error", err)
		}
	}()
}

func (d *Dispatcher) record(ctx context.Context, provider, model string, request Request, options ai.GenerationOptions, response *ai.Response, err error, cached bool, started time.Time) {
	if d.sessionLog == nil {
		return
	}

	record := sessionlog.Record{
		Provider:  provider,
		Model:     model,
		Turns:     request.Messages,
		Functions: request.Functions,
		Options:   options,
		Response:  response,
		Cached:    cached,
		Timestamp: started,
		Duration:  d.now().Sub(started),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if appendErr := d.sessionLog.Append(record); appendErr != nil {
		d.logger.WarnContext(ctx, "session log append failed", "error", appendErr)
	}
}

// ValidateFunctions checks declarations before any network activity. Each
// function needs a name and a description, and Parameters, when present,
// must be a JSON object.
func ValidateFunctions(functions []ai.FunctionSpec) error {
	seen := make(map[string]bool, len(functions))
	for i, function := range functions {
		if function.Name == "" {
			return ai.NewValidationError("function at index %d has no name", i)
		}
		if function.Description == "" {
			return ai.NewValidationError("function %q has no description", function.Name)
		}
		if seen[function.Name] {
			return ai.NewValidationError("function %q is declared twice", function.Name)
		}
		seen[function.Name] = true

		if len(function.Parameters) == 0 {
			continue
		}
		if err := requireObject(function.Parameters); err != nil {
			return ai.NewValidationError("function %q: %v", function.Name, err)
		}
	}
	return nil
}

func requireObject(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("parameters must be a JSON object")
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("parameters are not valid JSON")
	}
	return nil
}
