package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/leofalp/polychat/core/broker"
	"github.com/leofalp/polychat/core/dispatch"
	"github.com/leofalp/polychat/providers/ai"
)

// ErrTooManyRounds is returned when the model keeps calling functions past
// the configured round limit.
var ErrTooManyRounds = errors.New("session: function call round limit reached")

// ErrNotFound is returned by Restore for an unknown session id.
var ErrNotFound = errors.New("session: history not found")

// Completer is the part of the dispatcher a Session needs.
type Completer interface {
	RequestChatCompletion(ctx context.Context, provider, model string, request dispatch.Request, onChunk ai.ChunkHandler) (*ai.Response, error)
}

// Store persists session histories by id.
type Store interface {
	Save(ctx context.Context, sessionID string, turns []ai.Turn) error
	Load(ctx context.Context, sessionID string) ([]ai.Turn, error)
}

// Result is the outcome of one SendMessage call. CalledFunctions holds one
// list of function names per request round, the final text round included.
type Result struct {
	Text            string
	CalledFunctions [][]string
	Response        *ai.Response
}

// Session holds one conversation with one provider and model. Calls are
// serialized: a SendMessage waits for the previous one to return.
type Session struct {
	mu sync.Mutex

	id         string
	dispatcher Completer
	provider   string
	model      string
	functions  *broker.Broker
	caching    bool
	options    ai.GenerationOptions
	guidance   string
	maxRounds  int
	logger     *slog.Logger

	history []ai.Turn
}

// Option configures a Session.
type Option func(*Session)

// WithSystemPrompt starts the history with a system Turn.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		if prompt != "" {
			s.history = append(s.history, ai.TextTurn(ai.RoleSystem, prompt))
		}
	}
}

// WithFunctions offers the functions declared in b to the model and runs
// the calls it makes.
func WithFunctions(b *broker.Broker) Option {
	return func(s *Session) {
		s.functions = b
	}
}

// WithCaching enables the dispatcher's response cache for this session.
func WithCaching(enabled bool) Option {
	return func(s *Session) {
		s.caching = enabled
	}
}

// WithOptions sets per-session generation options.
func WithOptions(options ai.GenerationOptions) Option {
	return func(s *Session) {
		s.options = options
	}
}

// WithGuidance sets a default guidance prefix for every message. See
// SendMessage.
func WithGuidance(text string) Option {
	return func(s *Session) {
		s.guidance = text
	}
}

// WithMaxRounds bounds the number of function call rounds per message. Zero,
// the default, means no bound.
func WithMaxRounds(n int) Option {
	return func(s *Session) {
		s.maxRounds = n
	}
}

// WithID sets the session id used by Persist. A random UUID is used
// otherwise.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a Session talking to model through the backend registered as
// provider in dispatcher.
func New(dispatcher Completer, provider, model string, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		dispatcher: dispatcher,
		provider:   provider,
		model:      model,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// MessageOption adjusts a single SendMessage call.
type MessageOption func(*messageConfig)

type messageConfig struct {
	guidance string
}

// Guidance overrides the session guidance for one message. An empty text
// disables guidance for that message.
func Guidance(text string) MessageOption {
	return func(c *messageConfig) {
		c.guidance = text
	}
}

// SendMessage sends text as a user Turn and drives the conversation until
// the model answers with text, running every function it calls on the way.
//
// With guidance, the guidance text is emitted once through onChunk and kept
// as the last Turn of every request, so the model continues from it. When
// the final answer arrives the guidance Turn is removed and its text becomes
// the prefix of the stored and returned answer.
//
// History is only updated once the final answer arrives, so on error it is
// left as it was before the call.
func (s *Session) SendMessage(ctx context.Context, text string, onChunk ai.ChunkHandler, opts ...MessageOption) (*Result, error) {
	return s.SendParts(ctx, ai.Parts{ai.TextPart{Text: text}}, onChunk, opts...)
}

// SendParts is SendMessage for pre-built content such as text with images.
func (s *Session) SendParts(ctx context.Context, parts ai.Parts, onChunk ai.ChunkHandler, opts ...MessageOption) (*Result, error) {
	config := messageConfig{guidance: s.guidance}
	for _, opt := range opts {
		opt(&config)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.run(ctx, parts, config.guidance, onChunk)
}

// conversation is the working state of one SendMessage call.
type conversation struct {
	turns    []ai.Turn
	guidance *ai.Turn
}

// request returns the turns to send, with the guidance Turn last.
func (c *conversation) request() []ai.Turn {
	if c.guidance == nil {
		return c.turns
	}
	turns := make([]ai.Turn, 0, len(c.turns)+1)
	turns = append(turns, c.turns...)
	return append(turns, *c.guidance)
}

func (s *Session) run(ctx context.Context, parts ai.Parts, guidance string, onChunk ai.ChunkHandler) (*Result, error) {
	turns := make([]ai.Turn, 0, len(s.history)+1)
	turns = append(turns, s.history...)
	conv := conversation{turns: append(turns, ai.Turn{Role: ai.RoleUser, Parts: parts})}
	if guidance != "" {
		turn := ai.TextTurn(ai.RoleGuidance, guidance)
		conv.guidance = &turn
		ai.Emit(onChunk, ai.Chunk{Text: guidance})
	}

	var functions []ai.FunctionSpec
	if s.functions != nil {
		functions = s.functions.Specs()
	}

	result := &Result{CalledFunctions: [][]string{}}
	for round := 0; ; round++ {
		if s.maxRounds > 0 && round > s.maxRounds {
			return nil, fmt.Errorf("%w (%d)", ErrTooManyRounds, s.maxRounds)
		}

		response, err := s.dispatcher.RequestChatCompletion(ctx, s.provider, s.model, dispatch.Request{
			Messages:      conv.request(),
			Functions:     functions,
			EnableCaching: s.caching,
			Options:       s.options,
		}, onChunk)
		if err != nil {
			return nil, err
		}

		switch response.Kind {
		case ai.KindSafety:
			return nil, &ai.SafetyError{Reason: string(response.FinishReason), Ratings: [][]ai.SafetyRating{response.SafetyRatings}}

		case ai.KindFunction:
			if len(response.FunctionCalls) == 0 {
				return nil, ai.NewProtocolViolation("function response from %s carries no calls", s.provider)
			}
			names := s.runCalls(ctx, &conv, response)
			result.CalledFunctions = append(result.CalledFunctions, names)

		default:
			// Unknown finish reasons are treated as text.
			if response.Kind != ai.KindText {
				s.logger.WarnContext(ctx, "treating response as text", "kind", response.Kind, "finish_reason", response.FinishReason)
			}
			result.CalledFunctions = append(result.CalledFunctions, []string{})
			result.Text = guidance + response.Text
			result.Response = response

			answer := ai.Turn{Role: ai.RoleAssistant}
			if result.Text != "" {
				answer.Parts = append(answer.Parts, ai.TextPart{Text: result.Text})
			}
			for _, part := range response.Parts {
				if _, ok := part.(ai.ImagePart); ok {
					answer.Parts = append(answer.Parts, part)
				}
			}
			s.history = append(conv.turns, answer)
			return result, nil
		}
	}
}

// runCalls appends the call announcement and the results of every call in
// the round, and returns the called names in order.
func (s *Session) runCalls(ctx context.Context, conv *conversation, response *ai.Response) []string {
	announcement := ai.Turn{Role: ai.RoleAssistant}
	if response.Text != "" {
		announcement.Parts = append(announcement.Parts, ai.TextPart{Text: response.Text})
	}
	results := ai.Turn{Role: ai.RoleFunction}
	names := make([]string, 0, len(response.FunctionCalls))

	for _, call := range response.FunctionCalls {
		s.logger.DebugContext(ctx, "running function", "function", call.Name, "id", call.ID)
		announcement.Parts = append(announcement.Parts, call)
		results.Parts = append(results.Parts, s.functions.Execute(ctx, call))
		names = append(names, call.Name)
	}

	conv.turns = append(conv.turns, announcement, results)
	return names
}

// History returns a copy of the conversation so far.
func (s *Session) History() []ai.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ai.CloneTurns(s.history)
}

// Reset drops everything but the system Turns.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []ai.Turn
	for _, turn := range s.history {
		if turn.Role == ai.RoleSystem {
			kept = append(kept, turn)
		}
	}
	s.history = kept
}

// Persist saves the history under the session id.
func (s *Session) Persist(ctx context.Context, store Store) error {
	history := s.History()
	if err := store.Save(ctx, s.id, history); err != nil {
		return fmt.Errorf("session %s: persist: %w", s.id, err)
	}
	return nil
}

// Restore replaces the history with the one stored under id and adopts id.
func (s *Session) Restore(ctx context.Context, store Store, id string) error {
	turns, err := store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: restore: %w", id, err)
	}
	if turns == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(turns) == 0 {
		turns = []ai.Turn{}
	} else if err := ai.ValidateConversation(turns); err != nil {
		return fmt.Errorf("session %s: restored history is invalid: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.history = turns
	return nil
}
