package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leofalp/polychat/providers/ai"
)

const (
	openMarker  = "<FUNCTION_CALL>"
	closeMarker = "</FUNCTION_CALL>"
)

// markerCall is a call lexed out of the text stream, before its arguments
// are mapped to parameter names.
type markerCall struct {
	Name string
	Args []json.RawMessage
}

// markerLexer splits streamed text into visible text and function call
// markers. Text that may be the start of a marker is held back until it can
// be decided.
type markerLexer struct {
	buf    strings.Builder
	inside bool
	calls  []markerCall
}

// Feed consumes a delta and returns the text that is safe to show.
func (l *markerLexer) Feed(delta string) (string, error) {
	l.buf.WriteString(delta)
	pending := l.buf.String()
	l.buf.Reset()

	var visible strings.Builder
	for {
		if l.inside {
			end := strings.Index(pending, closeMarker)
			if end < 0 {
				l.buf.WriteString(pending)
				return visible.String(), nil
			}
			call, err := parseMarkerBody(pending[:end])
			if err != nil {
				return visible.String(), err
			}
			l.calls = append(l.calls, call)
			pending = pending[end+len(closeMarker):]
			l.inside = false
			continue
		}

		start := strings.Index(pending, openMarker)
		if start >= 0 {
			visible.WriteString(pending[:start])
			pending = pending[start+len(openMarker):]
			l.inside = true
			continue
		}

		hold := partialPrefix(pending, openMarker)
		visible.WriteString(pending[:len(pending)-hold])
		l.buf.WriteString(pending[len(pending)-hold:])
		return visible.String(), nil
	}
}

// Close flushes held text at the end of the stream. An unterminated marker
// is a protocol violation.
func (l *markerLexer) Close() (string, []markerCall, error) {
	rest := l.buf.String()
	l.buf.Reset()
	if l.inside {
		return "", nil, ai.NewProtocolViolation("unterminated function call marker: %q", rest)
	}
	return rest, l.calls, nil
}

// partialPrefix returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialPrefix(s, marker string) int {
	max := len(marker) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

// parseMarkerBody parses name(args) where args is a comma separated list of
// JSON values and the parentheses are balanced.
func parseMarkerBody(body string) (markerCall, error) {
	body = strings.TrimSpace(body)

	open := strings.IndexByte(body, '(')
	if open <= 0 {
		return markerCall{}, ai.NewProtocolViolation("function call marker %q has no argument list", body)
	}
	name := strings.TrimSpace(body[:open])
	if !validName(name) {
		return markerCall{}, ai.NewProtocolViolation("invalid function name %q", name)
	}

	closeAt, err := matchingParen(body, open)
	if err != nil {
		return markerCall{}, err
	}
	if strings.TrimSpace(body[closeAt+1:]) != "" {
		return markerCall{}, ai.NewProtocolViolation("unexpected text after arguments of %q", name)
	}

	inner := strings.TrimSpace(body[open+1 : closeAt])
	var args []json.RawMessage
	if inner != "" {
		if err := json.Unmarshal([]byte("["+inner+"]"), &args); err != nil {
			return markerCall{}, ai.NewProtocolViolation("malformed arguments for %q: %v", name, err)
		}
	}
	return markerCall{Name: name, Args: args}, nil
}

// matchingParen returns the index of the parenthesis closing the one at
// open, skipping parentheses inside JSON strings.
func matchingParen(s string, open int) (int, error) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, ai.NewProtocolViolation("unbalanced parentheses in %q", s)
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '.' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// namedArgs maps positional marker arguments to the declared parameter
// names and returns them as a JSON object. Calls to undeclared functions get
// synthetic names so the caller can still report them.
func namedArgs(call markerCall, specs []ai.FunctionSpec) (string, error) {
	var names []string
	declared := false
	for _, spec := range specs {
		if spec.Name == call.Name {
			names = paramNames(spec)
			declared = true
			break
		}
	}

	if declared && len(call.Args) > len(names) {
		return "", ai.NewProtocolViolation("%q takes %d arguments, got %d", call.Name, len(names), len(call.Args))
	}

	var args ai.Args
	for i, value := range call.Args {
		name := fmt.Sprintf("arg%d", i)
		if declared {
			name = names[i]
		}
		args.Set(name, value)
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return "", ai.NewProtocolViolation("encoding arguments for %q: %v", call.Name, err)
	}
	return string(encoded), nil
}

// paramNames returns parameter names in declared order, falling back to the
// property order of the JSON schema for specs built without a broker.
func paramNames(spec ai.FunctionSpec) []string {
	if len(spec.Params) > 0 {
		names := make([]string, len(spec.Params))
		for i, param := range spec.Params {
			names[i] = param.Name
		}
		return names
	}

	var schema struct {
		Properties ai.Args `json:"properties"`
	}
	if len(spec.Parameters) == 0 || json.Unmarshal(spec.Parameters, &schema) != nil {
		return nil
	}
	return schema.Properties.Names()
}

// renderCall formats a call the way the model is asked to emit it, with the
// argument values in their stored order.
func renderCall(call ai.FunctionCallPart) (string, error) {
	values := make([]string, 0, len(call.Args))
	for _, arg := range call.Args {
		encoded, err := json.Marshal(arg.Value)
		if err != nil {
			return "", fmt.Errorf("argument %q of %q: %w", arg.Name, call.Name, err)
		}
		values = append(values, string(encoded))
	}
	return openMarker + call.Name + "(" + strings.Join(values, ", ") + ")" + closeMarker, nil
}
