package ai

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// TestParts_JSONRoundTrip verifies that every part variant survives a JSON
// round trip with its type tag and that argument order is preserved.
func TestParts_JSONRoundTrip(t *testing.T) {
	original := Turn{
		Role: RoleAssistant,
		Parts: Parts{
			TextPart{Text: "checking"},
			ImagePart{URL: "https://example.com/cat.png"},
			ImagePart{Data: "aGVsbG8=", MIMEType: "image/png"},
			FunctionCallPart{ID: "call_1", Name: "add", Args: Args{{Name: "b", Value: 2.0}, {Name: "a", Value: 1.0}}},
			FunctionResponsePart{ID: "call_1", Name: "add", Result: json.RawMessage(`{"sum":3}`)},
		},
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Turn
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Role != RoleAssistant {
		t.Errorf("expected role %q, got %q", RoleAssistant, decoded.Role)
	}
	if len(decoded.Parts) != len(original.Parts) {
		t.Fatalf("expected %d parts, got %d", len(original.Parts), len(decoded.Parts))
	}

	call, ok := decoded.Parts[3].(FunctionCallPart)
	if !ok {
		t.Fatalf("expected FunctionCallPart at index 3, got %T", decoded.Parts[3])
	}
	if got := call.Args.Names(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("expected argument order [b a], got %v", got)
	}

	reencoded, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}
	if string(reencoded) != string(encoded) {
		t.Errorf("serialization not stable:\nfirst:  %s\nsecond: %s", encoded, reencoded)
	}
}

// TestParts_UnknownType verifies that an unknown part tag is rejected.
func TestParts_UnknownType(t *testing.T) {
	var parts Parts
	err := json.Unmarshal([]byte(`[{"type":"audio"}]`), &parts)
	if err == nil {
		t.Fatal("expected error for unknown part type")
	}
}

// TestArgs_UnmarshalRejectsNonObject verifies that arrays are not accepted as
// argument payloads.
func TestArgs_UnmarshalRejectsNonObject(t *testing.T) {
	var args Args
	if err := json.Unmarshal([]byte(`[1,2]`), &args); err == nil {
		t.Fatal("expected error for array arguments")
	}
}

// TestArgs_SetReplacesInPlace verifies that Set keeps the original position.
func TestArgs_SetReplacesInPlace(t *testing.T) {
	args := Args{{Name: "x", Value: 1}, {Name: "y", Value: 2}}
	args.Set("x", 10)
	args.Set("z", 3)

	if got := args.Names(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if value, _ := args.Get("x"); value != 10 {
		t.Errorf("expected x=10, got %v", value)
	}
}

// TestTurn_CloneDoesNotAlias verifies that editing a clone leaves the
// original untouched.
func TestTurn_CloneDoesNotAlias(t *testing.T) {
	original := Turn{
		Role: RoleAssistant,
		Parts: Parts{
			FunctionCallPart{Name: "lookup", Args: Args{{Name: "tags", Value: []any{"a"}}}},
			ImagePart{Bytes: []byte{1, 2, 3}, MIMEType: "image/png"},
		},
	}

	clone := original.Clone()
	clone.Parts[0] = TextPart{Text: "replaced"}
	clone.Parts[1].(ImagePart).Bytes[0] = 9

	if _, ok := original.Parts[0].(FunctionCallPart); !ok {
		t.Error("original part was replaced through the clone")
	}
	if original.Parts[1].(ImagePart).Bytes[0] != 1 {
		t.Error("original image bytes were modified through the clone")
	}
}

// TestImagePart_Base64 verifies inline payload extraction for each image form.
func TestImagePart_Base64(t *testing.T) {
	tests := []struct {
		name     string
		part     ImagePart
		wantData string
		wantOK   bool
	}{
		{name: "inline data", part: ImagePart{Data: "QUJD", MIMEType: "image/png"}, wantData: "QUJD", wantOK: true},
		{name: "raw bytes", part: ImagePart{Bytes: []byte("ABC"), MIMEType: "image/png"}, wantData: "QUJD", wantOK: true},
		{name: "remote only", part: ImagePart{URL: "https://example.com/x.png"}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, data, ok := tt.part.Base64()
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if data != tt.wantData {
				t.Errorf("expected data %q, got %q", tt.wantData, data)
			}
		})
	}
}

// TestClassify covers the finish reason to kind mapping.
func TestClassify(t *testing.T) {
	tests := []struct {
		finish        FinishReason
		hasCalls      bool
		wantKind      ResponseKind
		wantTruncated bool
	}{
		{FinishStop, false, KindText, false},
		{FinishLength, false, KindText, true},
		{FinishStop, true, KindFunction, false},
		{FinishToolCalls, false, KindFunction, false},
		{FinishSafety, true, KindSafety, false},
		{FinishOther, false, KindUnknown, false},
		{"", false, KindUnknown, false},
	}

	for _, tt := range tests {
		kind, truncated := Classify(tt.finish, tt.hasCalls)
		if kind != tt.wantKind || truncated != tt.wantTruncated {
			t.Errorf("Classify(%q, %v) = (%q, %v), want (%q, %v)", tt.finish, tt.hasCalls, kind, truncated, tt.wantKind, tt.wantTruncated)
		}
	}
}

// TestGenerationOptions_Merge verifies that only set override fields win.
func TestGenerationOptions_Merge(t *testing.T) {
	temperature := 0.2
	maxTokens := 100
	override := 0.9

	defaults := GenerationOptions{Temperature: &temperature, MaxTokens: &maxTokens}
	merged := defaults.Merge(GenerationOptions{Temperature: &override})

	if *merged.Temperature != 0.9 {
		t.Errorf("expected temperature 0.9, got %v", *merged.Temperature)
	}
	if merged.MaxTokens == nil || *merged.MaxTokens != 100 {
		t.Errorf("expected max tokens from defaults, got %v", merged.MaxTokens)
	}
}

// TestWrapProviderError_KeepsClassifiedErrors verifies that classified errors
// pass through unchanged and plain errors become ProviderErrors.
func TestWrapProviderError_KeepsClassifiedErrors(t *testing.T) {
	safety := &SafetyError{Reason: "SAFETY"}
	if got := WrapProviderError("gemini", safety); got != safety {
		t.Errorf("expected safety error to pass through, got %v", got)
	}

	wrapped := WrapProviderError("openai", errors.New("boom"))
	var providerErr *ProviderError
	if !errors.As(wrapped, &providerErr) {
		t.Fatalf("expected ProviderError, got %T", wrapped)
	}
	if providerErr.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", providerErr.Provider)
	}
}

// TestFunctionListing verifies the textual declaration keeps parameter order
// and shows defaults as JSON.
func TestFunctionListing(t *testing.T) {
	listing := FunctionListing([]FunctionSpec{{
		Name:        "forecast",
		Description: "Returns the weather forecast.",
		Params: []ParamSpec{
			{Name: "city", Type: "string", Description: "City name", Required: true},
			{Name: "days", Type: "integer", Description: "Number of days", Default: 3, HasDefault: true},
		},
	}})

	want := "forecast(city: string, days: integer = 3)\n" +
		"    Returns the weather forecast.\n" +
		"    - city: City name\n" +
		"    - days: Number of days\n"
	if listing != want {
		t.Errorf("unexpected listing:\n%s\nwant:\n%s", listing, want)
	}
}
