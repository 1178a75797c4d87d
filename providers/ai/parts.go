package ai

import (
	"encoding/json"
	"fmt"
)

// Parts is an ordered list of Parts. It serializes each element as an object
// tagged with a "type" field so turns survive a JSON round trip.
type Parts []Part

const (
	partTypeText             = "text"
	partTypeImage            = "image"
	partTypeFunctionCall     = "functionCall"
	partTypeFunctionResponse = "functionResponse"
)

type partJSON struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	URL      string          `json:"url,omitempty"`
	Data     string          `json:"data,omitempty"`
	Bytes    []byte          `json:"bytes,omitempty"`
	MIMEType string          `json:"mimeType,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Args     Args            `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Parts) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	wire := make([]partJSON, 0, len(p))
	for _, part := range p {
		switch v := part.(type) {
		case TextPart:
			wire = append(wire, partJSON{Type: partTypeText, Text: v.Text})
		case ImagePart:
			wire = append(wire, partJSON{Type: partTypeImage, URL: v.URL, Data: v.Data, Bytes: v.Bytes, MIMEType: v.MIMEType})
		case FunctionCallPart:
			wire = append(wire, partJSON{Type: partTypeFunctionCall, ID: v.ID, Name: v.Name, Args: v.Args})
		case FunctionResponsePart:
			wire = append(wire, partJSON{Type: partTypeFunctionResponse, ID: v.ID, Name: v.Name, Result: v.Result})
		default:
			return nil, fmt.Errorf("unsupported part type %T", part)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Parts) UnmarshalJSON(data []byte) error {
	var wire []partJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire == nil {
		*p = nil
		return nil
	}
	parts := make(Parts, 0, len(wire))
	for _, w := range wire {
		switch w.Type {
		case partTypeText:
			parts = append(parts, TextPart{Text: w.Text})
		case partTypeImage:
			parts = append(parts, ImagePart{URL: w.URL, Data: w.Data, Bytes: w.Bytes, MIMEType: w.MIMEType})
		case partTypeFunctionCall:
			parts = append(parts, FunctionCallPart{ID: w.ID, Name: w.Name, Args: w.Args})
		case partTypeFunctionResponse:
			parts = append(parts, FunctionResponsePart{ID: w.ID, Name: w.Name, Result: w.Result})
		default:
			return fmt.Errorf("unknown part type %q", w.Type)
		}
	}
	*p = parts
	return nil
}
