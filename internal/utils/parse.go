package utils

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeLenientJSON decodes raw into T. Models sometimes emit almost-JSON
// (single quotes, bare keys, trailing commas); when strict decoding fails the
// input is repaired with jsonrepair and decoded again.
func DecodeLenientJSON[T any](raw string) (T, error) {
	var out T
	strictErr := json.Unmarshal([]byte(raw), &out)
	if strictErr == nil {
		return out, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return out, fmt.Errorf("decode %T: %w (repair failed: %v)", out, strictErr, err)
	}
	out = *new(T)
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return out, fmt.Errorf("decode repaired %T: %w", out, err)
	}
	return out, nil
}
