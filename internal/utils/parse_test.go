package utils

import (
	"testing"
)

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestDecodeLenientJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "valid", input: `{"name":"Ann","age":30}`},
		{name: "single quotes", input: `{'name': 'Ann', 'age': 30}`},
		{name: "trailing comma", input: `{"name":"Ann","age":30,}`},
		{name: "unquoted keys", input: `{name: "Ann", age: 30}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLenientJSON[person](tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Name != "Ann" || got.Age != 30 {
				t.Errorf("unexpected result %+v", got)
			}
		})
	}
}

func TestDecodeLenientJSON_Map(t *testing.T) {
	got, err := DecodeLenientJSON[map[string]any](`{"a": 1, "b": [true]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected two keys, got %v", got)
	}
}

func TestDecodeLenientJSON_WrongShape(t *testing.T) {
	if _, err := DecodeLenientJSON[map[string]any](`[1, 2]`); err == nil {
		t.Error("expected an error decoding an array into a map")
	}
}
