package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxSSELineSize bounds a single event stream line (1 MB). Long function
// call arguments arrive on one line, so bufio's 64 KiB default is too small.
const maxSSELineSize = 1 * 1024 * 1024

// doneSentinel ends an OpenAI-style stream.
const doneSentinel = "[DONE]"

// SSEScanner yields the data payloads of a Server-Sent Events stream.
// Fields other than data are ignored.
type SSEScanner struct {
	lines *bufio.Scanner
	data  []string
	done  bool
}

// NewSSEScanner reads events from r.
func NewSSEScanner(r io.Reader) *SSEScanner {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &SSEScanner{lines: lines}
}

// Next returns the next event payload, consecutive data lines joined by
// newlines. It returns io.EOF at the end of the stream or at [DONE], and an
// error wrapping bufio.ErrTooLong for oversized lines.
func (s *SSEScanner) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.lines.Scan() {
		field, value, isData := dataField(s.lines.Text())
		switch {
		case field == "":
			if payload, ok := s.flush(); ok {
				return payload, nil
			}
		case !isData:
			// comment or another field
		case value == doneSentinel:
			s.done = true
			return "", io.EOF
		default:
			s.data = append(s.data, value)
		}
	}
	if err := s.lines.Err(); err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}

	s.done = true
	if payload, ok := s.flush(); ok {
		return payload, nil
	}
	return "", io.EOF
}

func (s *SSEScanner) flush() (string, bool) {
	if len(s.data) == 0 {
		return "", false
	}
	payload := strings.Join(s.data, "\n")
	s.data = s.data[:0]
	return payload, true
}

// dataField splits an event stream line. An empty field means a blank line.
// Only the single space after the colon is dropped from the value.
func dataField(line string) (field, value string, isData bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return "", "", false
	}
	field, value, _ = strings.Cut(line, ":")
	if field == "" {
		return ":", "", false
	}
	return field, strings.TrimPrefix(value, " "), field == "data"
}
