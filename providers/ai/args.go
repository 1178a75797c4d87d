package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Arg is one named argument value.
type Arg struct {
	Name  string
	Value any
}

// Args is an ordered name→value map. Providers send call arguments as JSON
// objects whose key order is unspecified; Args keeps the order it was decoded
// in so serialization is stable.
type Args []Arg

// Get returns the value stored under name.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Set stores value under name, replacing an existing entry in place.
func (a *Args) Set(name string, value any) {
	for i := range *a {
		if (*a)[i].Name == name {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Arg{Name: name, Value: value})
}

// Names returns the argument names in order.
func (a Args) Names() []string {
	names := make([]string, len(a))
	for i, arg := range a {
		names[i] = arg.Name
	}
	return names
}

// Clone deep-copies the arguments through a JSON round trip so nested maps
// and slices are not shared.
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	encoded, err := json.Marshal(a)
	if err != nil {
		return append(Args(nil), a...)
	}
	var clone Args
	if err := json.Unmarshal(encoded, &clone); err != nil {
		return append(Args(nil), a...)
	}
	return clone
}

// MarshalJSON encodes the arguments as a JSON object in stored order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. A JSON null yields
// empty Args.
func (a *Args) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))

	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if token == nil {
		*a = nil
		return nil
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("arguments must be a JSON object, got %v", token)
	}

	var args Args
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return err
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("unexpected argument key %v", keyToken)
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("argument %q: %w", key, err)
		}
		args.Set(key, value)
	}

	if _, err := decoder.Token(); err != nil {
		return err
	}
	*a = args
	return nil
}
