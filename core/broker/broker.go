package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leofalp/polychat/internal/jsonschema"
	"github.com/leofalp/polychat/providers/ai"
)

// Handler runs a declared function. args holds one value per declared
// parameter, in declaration order, with defaults already substituted.
type Handler func(ctx context.Context, args []any) (any, error)

// ErrUnknownFunction is returned by Invoke for names that were never declared.
var ErrUnknownFunction = errors.New("unknown function")

type function struct {
	spec    ai.FunctionSpec
	handler Handler
}

// Broker is a registry of callable functions. It is safe for concurrent use.
type Broker struct {
	mu        sync.RWMutex
	order     []string
	functions map[string]*function
	logger    *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used to report invocations.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// New returns an empty Broker.
func New(opts ...Option) *Broker {
	broker := &Broker{
		functions: map[string]*function{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(broker)
	}
	return broker
}

// Specs returns the declarations in registration order.
func (b *Broker) Specs() []ai.FunctionSpec {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	specs := make([]ai.FunctionSpec, 0, len(b.order))
	for _, name := range b.order {
		spec := b.functions[name].spec
		spec.Params = append([]ai.ParamSpec(nil), spec.Params...)
		specs = append(specs, spec)
	}
	return specs
}

// Listing renders the declarations for text-protocol backends.
func (b *Broker) Listing() string {
	return ai.FunctionListing(b.Specs())
}

// Has reports whether name is declared.
func (b *Broker) Has(name string) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.functions[name]
	return ok
}

// Len returns the number of declared functions.
func (b *Broker) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Invoke runs name with the given named arguments and returns the
// JSON-encoded result. Arguments are reordered to the declared parameter
// order and omitted optional parameters take their default. Names not
// declared as parameters are ignored.
func (b *Broker) Invoke(ctx context.Context, name string, args ai.Args) (json.RawMessage, error) {
	if b == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, name)
	}
	b.mu.RLock()
	fn, ok := b.functions[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, name)
	}

	positional, err := Positional(fn.spec.Params, args)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}

	result, err := fn.handler(ctx, positional)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}

	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("function %q: encoding result: %w", name, err)
	}
	return encoded, nil
}

// Execute invokes call and packages the outcome as a function response.
// Failures, including unknown functions, become an error result the model
// can read instead of aborting the conversation.
func (b *Broker) Execute(ctx context.Context, call ai.FunctionCallPart) ai.FunctionResponsePart {
	response := ai.FunctionResponsePart{ID: call.ID, Name: call.Name}

	result, err := b.Invoke(ctx, call.Name, call.Args)
	if err == nil {
		response.Result = result
		return response
	}

	errorType := "execution_error"
	if errors.Is(err, ErrUnknownFunction) {
		errorType = "unknown_function"
	}
	b.log().WarnContext(ctx, "function call failed", "function", call.Name, "error", err)

	encoded, encodeErr := ai.NewFunctionResultError(errorType, err.Error()).ToJSON()
	if encodeErr != nil {
		encoded = json.RawMessage(`{"success":false,"error":"execution_error"}`)
	}
	response.Result = encoded
	return response
}

func (b *Broker) log() *slog.Logger {
	if b == nil || b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// Positional maps named arguments onto params order, substituting defaults
// for omitted optional parameters. A missing required parameter is an error.
func Positional(params []ai.ParamSpec, args ai.Args) ([]any, error) {
	positional := make([]any, len(params))
	for i, param := range params {
		value, ok := args.Get(param.Name)
		switch {
		case ok:
			positional[i] = value
		case param.HasDefault:
			positional[i] = param.Default
		default:
			return nil, fmt.Errorf("missing required argument %q", param.Name)
		}
	}
	return positional, nil
}

// DecodeArgs leniently parses a provider argument string into ordered Args.
func DecodeArgs(raw string) (ai.Args, error) {
	return ai.ParseArgs(raw)
}

// Arg converts args[i] to T. JSON numbers arrive as float64, so values that
// do not assert directly are converted through a JSON round trip.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("argument %d out of range", i)
	}
	if value, ok := args[i].(T); ok {
		return value, nil
	}

	encoded, err := json.Marshal(args[i])
	if err != nil {
		return zero, fmt.Errorf("argument %d: %w", i, err)
	}
	var converted T
	if err := json.Unmarshal(encoded, &converted); err != nil {
		return zero, fmt.Errorf("argument %d: cannot convert %T to %T: %w", i, args[i], zero, err)
	}
	return converted, nil
}

// parametersSchema builds the JSON-Schema object advertised to providers.
func parametersSchema(params []ai.ParamSpec, schemas []*jsonschema.Schema) (json.RawMessage, error) {
	root := &jsonschema.Schema{
		Type:       jsonschema.TypeObject,
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for i, param := range params {
		schema := schemas[i]
		if schema == nil {
			schema = &jsonschema.Schema{Type: param.Type}
		}
		schema.Description = param.Description
		if param.HasDefault {
			schema.Default = param.Default
		}
		root.Properties[param.Name] = schema
		if param.Required {
			root.Required = append(root.Required, param.Name)
		}
	}

	encoded, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters schema: %w", err)
	}
	return encoded, nil
}
