package ai

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

/*
	##### CONVERSATION INPUT #####
*/

// Role represents the role of a Turn; compatible with string
type Role string

const (
	RoleSystem    Role = "system"    // System instructions/configuration
	RoleUser      Role = "user"      // End-user message
	RoleAssistant Role = "assistant" // Model response or call announcement
	RoleFunction  Role = "function"  // Local function output
	RoleGuidance  Role = "guidance"  // Caller-supplied partial assistant prefix
)

// Turn is one message in a conversation history. Content is always stored as
// an ordered list of Parts; plain text is a single TextPart.
type Turn struct {
	Role  Role  `json:"role"`
	Parts Parts `json:"parts"`
}

// TextTurn builds a Turn holding a single text part.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: Parts{TextPart{Text: text}}}
}

// Text concatenates every TextPart of the turn.
func (t Turn) Text() string {
	var builder strings.Builder
	for _, part := range t.Parts {
		if textPart, ok := part.(TextPart); ok {
			builder.WriteString(textPart.Text)
		}
	}
	return builder.String()
}

// FunctionCalls returns the call parts carried by the turn, in order.
func (t Turn) FunctionCalls() []FunctionCallPart {
	var calls []FunctionCallPart
	for _, part := range t.Parts {
		if call, ok := part.(FunctionCallPart); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// FunctionResponses returns the response parts carried by the turn, in order.
func (t Turn) FunctionResponses() []FunctionResponsePart {
	var responses []FunctionResponsePart
	for _, part := range t.Parts {
		if response, ok := part.(FunctionResponsePart); ok {
			responses = append(responses, response)
		}
	}
	return responses
}

// Clone returns a deep copy of the turn so later edits of either value never
// alias the other.
func (t Turn) Clone() Turn {
	clone := Turn{Role: t.Role}
	if t.Parts != nil {
		clone.Parts = make(Parts, len(t.Parts))
		for i, part := range t.Parts {
			clone.Parts[i] = clonePart(part)
		}
	}
	return clone
}

// CloneTurns deep-copies a turn list.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn.Clone()
	}
	return out
}

// Part is one atomic content unit inside a Turn. The set of implementations is
// closed: TextPart, ImagePart, FunctionCallPart and FunctionResponsePart.
type Part interface {
	isPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

// ImagePart references an image either by remote URL, by an inline base64
// payload, or by raw bytes. MIMEType is required for inline and byte forms.
type ImagePart struct {
	URL      string
	Data     string // base64, without a data: prefix
	Bytes    []byte
	MIMEType string
}

// IsRemote reports whether the image is only available by URL.
func (p ImagePart) IsRemote() bool {
	return p.Data == "" && len(p.Bytes) == 0 && p.URL != ""
}

// Base64 returns the inline payload of the image, encoding Bytes if needed.
// ok is false for remote-only images.
func (p ImagePart) Base64() (mimeType string, data string, ok bool) {
	switch {
	case p.Data != "":
		return p.MIMEType, p.Data, true
	case len(p.Bytes) > 0:
		return p.MIMEType, base64.StdEncoding.EncodeToString(p.Bytes), true
	default:
		return "", "", false
	}
}

// FunctionCallPart is a model request to run a local function.
type FunctionCallPart struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Args Args   `json:"args,omitempty"`
}

// FunctionResponsePart carries the JSON-encoded result of a local function.
type FunctionResponsePart struct {
	ID     string
	Name   string
	Result json.RawMessage
}

func (TextPart) isPart()             {}
func (ImagePart) isPart()            {}
func (FunctionCallPart) isPart()     {}
func (FunctionResponsePart) isPart() {}

func clonePart(part Part) Part {
	switch p := part.(type) {
	case ImagePart:
		if p.Bytes != nil {
			p.Bytes = append([]byte(nil), p.Bytes...)
		}
		return p
	case FunctionCallPart:
		p.Args = p.Args.Clone()
		return p
	case FunctionResponsePart:
		if p.Result != nil {
			p.Result = append(json.RawMessage(nil), p.Result...)
		}
		return p
	default:
		return part
	}
}

// GenerationOptions holds sampling parameters. Nil fields are left to the
// provider default.
type GenerationOptions struct {
	Temperature    *float64 `json:"temperature,omitempty" toml:"temperature"`
	TopP           *float64 `json:"top_p,omitempty" toml:"top_p"`
	TopK           *int     `json:"top_k,omitempty" toml:"top_k"`
	MaxTokens      *int     `json:"max_tokens,omitempty" toml:"max_tokens"`
	CandidateCount *int     `json:"candidate_count,omitempty" toml:"candidate_count"`
	StopSequences  []string `json:"stop_sequences,omitempty" toml:"stop_sequences"`
}

// Merge returns o with every field set in override replacing the one in o.
func (o GenerationOptions) Merge(override GenerationOptions) GenerationOptions {
	merged := o
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.TopP != nil {
		merged.TopP = override.TopP
	}
	if override.TopK != nil {
		merged.TopK = override.TopK
	}
	if override.MaxTokens != nil {
		merged.MaxTokens = override.MaxTokens
	}
	if override.CandidateCount != nil {
		merged.CandidateCount = override.CandidateCount
	}
	if override.StopSequences != nil {
		merged.StopSequences = override.StopSequences
	}
	return merged
}

// FunctionSpec describes a local function offered to the model.
// Parameters is a JSON-Schema object; Params keeps the declared positional
// order and is used by text-protocol backends.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Params      []ParamSpec     `json:"-"`
}

// ParamSpec describes one formal parameter of a declared function.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	HasDefault  bool   `json:"-"`
	Required    bool   `json:"required"`
}

// ChatOptions bundles the per-request settings handed to a Backend.
type ChatOptions struct {
	Generation GenerationOptions
	Functions  []FunctionSpec
}

/*
	##### PROVIDER OUTPUT #####
*/

// ResponseKind classifies a normalized Response.
type ResponseKind string

const (
	KindText     ResponseKind = "text"
	KindFunction ResponseKind = "function"
	KindSafety   ResponseKind = "safety"
	KindUnknown  ResponseKind = "unknown"
)

// FinishReason is the provider finish reason mapped onto a common vocabulary.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishSafety    FinishReason = "safety"
	FinishOther     FinishReason = "other"
)

// Classify derives the response kind from a normalized finish reason and
// whether the candidate carries function calls. truncated is set when the
// output hit the token limit.
func Classify(finish FinishReason, hasCalls bool) (kind ResponseKind, truncated bool) {
	switch {
	case finish == FinishSafety:
		return KindSafety, false
	case hasCalls || finish == FinishToolCalls:
		return KindFunction, false
	case finish == FinishStop:
		return KindText, false
	case finish == FinishLength:
		return KindText, true
	default:
		return KindUnknown, false
	}
}

// SafetyRating is one per-category verdict attached to a candidate.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability,omitempty"`
	Blocked     bool   `json:"blocked,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Response is one normalized candidate returned by a Backend.
type Response struct {
	Index         int                `json:"index"`
	Model         string             `json:"model,omitempty"`
	Kind          ResponseKind       `json:"kind"`
	Text          string             `json:"text,omitempty"`
	Parts         Parts              `json:"parts,omitempty"`
	FunctionCalls []FunctionCallPart `json:"function_calls,omitempty"`
	Truncated     bool               `json:"truncated,omitempty"`
	FinishReason  FinishReason       `json:"finish_reason,omitempty"`
	SafetyRatings []SafetyRating     `json:"safety_ratings,omitempty"`
	Usage         *Usage             `json:"usage,omitempty"`
	Raw           json.RawMessage    `json:"raw,omitempty"`
}

// Clone deep-copies the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Parts != nil {
		clone.Parts = make(Parts, len(r.Parts))
		for i, part := range r.Parts {
			clone.Parts[i] = clonePart(part)
		}
	}
	if r.FunctionCalls != nil {
		clone.FunctionCalls = make([]FunctionCallPart, len(r.FunctionCalls))
		for i, call := range r.FunctionCalls {
			clone.FunctionCalls[i] = clonePart(call).(FunctionCallPart)
		}
	}
	if r.SafetyRatings != nil {
		clone.SafetyRatings = append([]SafetyRating(nil), r.SafetyRatings...)
	}
	if r.Usage != nil {
		usage := *r.Usage
		clone.Usage = &usage
	}
	if r.Raw != nil {
		clone.Raw = append(json.RawMessage(nil), r.Raw...)
	}
	return &clone
}

// Chunk is one streamed delta delivered to a ChunkHandler. The final chunk of
// a completion has Done set and carries no content.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"content,omitempty"`
	Parts Parts  `json:"parts,omitempty"`
	Done  bool   `json:"done"`
}

// ChunkHandler receives streamed chunks synchronously, in arrival order. It
// must return quickly: nothing buffers further reads while it runs.
type ChunkHandler func(Chunk)

// Emit calls handler with chunk when handler is non-nil.
func Emit(handler ChunkHandler, chunk Chunk) {
	if handler != nil {
		handler(chunk)
	}
}

/*
	##### FUNCTION RESULTS #####
*/

// FunctionResult is the standardized envelope a local function result is
// reported in when it could not produce a value.
type FunctionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// NewFunctionResultError creates a failed function result.
// errorType is a machine-readable code such as "function_not_found".
func NewFunctionResultError(errorType, message string) FunctionResult {
	return FunctionResult{
		Success: false,
		Error:   errorType,
		Message: message,
	}
}

// ToJSON encodes the result.
func (fr FunctionResult) ToJSON() (json.RawMessage, error) {
	return json.Marshal(fr)
}
