package bridge

import (
	"encoding/json"

	"github.com/leofalp/polychat/providers/ai"
)

// Envelope types.
const (
	typeCompletionRequest  = "completionRequest"
	typeCompletionResponse = "completionResponse"
	typeCompletionChunk    = "completionChunk"
	typeError              = "error"
)

// envelope frames every websocket message.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type completionRequest struct {
	Model    string               `json:"model"`
	Messages []message            `json:"messages"`
	Options  ai.GenerationOptions `json:"options"`
}

// message is a plain-text turn; the browser model understands only the
// system, user and assistant roles.
type message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Images  []image `json:"images,omitempty"`
	Prefill bool    `json:"prefill,omitempty"` // partial assistant answer to continue
}

type image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type responsePayload struct {
	Text         string `json:"text,omitempty"`
	FinishReason string `json:"finishReason,omitempty"` // stop, length, safety
}

type errorPayload struct {
	Message string `json:"message"`
}

func newEnvelope(kind, id string, payload any) (envelope, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Type: kind, ID: id, Payload: encoded}, nil
}
