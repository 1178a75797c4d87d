package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// field is a flattened attribute; group names are folded into key.
type field struct {
	key   string
	value any
}

// Handler is a slog.Handler writing one of the Formats. Handlers derived
// through WithAttrs and WithGroup share the writer lock.
type Handler struct {
	format Format
	level  slog.Leveler
	output io.Writer
	colors bool

	mu     *sync.Mutex
	fields []field
	prefix string
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Format Format
	Level  slog.Leveler
	// Output defaults to os.Stderr.
	Output io.Writer
	// Colors forces ANSI colours on or off. When nil, colours are used if
	// Output is a terminal and the format is not json.
	Colors *bool
}

// NewHandler returns a Handler for opts. A nil opts gives a compact INFO
// handler on stderr.
func NewHandler(opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = &HandlerOptions{}
	}
	h := &Handler{
		format: opts.Format,
		level:  opts.Level,
		output: opts.Output,
		mu:     &sync.Mutex{},
	}
	if h.format == "" {
		h.format = FormatCompact
	}
	if h.level == nil {
		h.level = slog.LevelInfo
	}
	if h.output == nil {
		h.output = os.Stderr
	}

	switch {
	case opts.Colors != nil:
		h.colors = *opts.Colors && h.format != FormatJSON
	case h.format != FormatJSON:
		if f, ok := h.output.(*os.File); ok {
			h.colors = isTerminal(f)
		}
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.fields = append([]field(nil), h.fields...)
	for _, attr := range attrs {
		clone.fields = appendAttr(clone.fields, h.prefix, attr)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.fields...)
	r.Attrs(func(attr slog.Attr) bool {
		fields = appendAttr(fields, h.prefix, attr)
		return true
	})

	var buf bytes.Buffer
	var err error
	switch h.format {
	case FormatJSON:
		err = h.writeJSON(&buf, r, fields)
	case FormatPretty:
		h.writePretty(&buf, r, fields)
	default:
		h.writeCompact(&buf, r, fields)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.output.Write(buf.Bytes())
	return err
}

func (h *Handler) writeCompact(buf *bytes.Buffer, r slog.Record, fields []field) {
	buf.WriteString(r.Time.Format(time.DateTime))
	buf.WriteByte(' ')
	h.writeLevel(buf, r.Level, "%5s")
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	if len(fields) > 0 {
		buf.WriteString(" → ")
		data, err := marshalFields(fields)
		if err != nil {
			buf.WriteString("[unencodable attributes]")
		} else {
			buf.Write(data)
		}
	}
	buf.WriteByte('\n')
}

func (h *Handler) writePretty(buf *bytes.Buffer, r slog.Record, fields []field) {
	buf.WriteString(r.Time.Format(time.DateTime))
	buf.WriteByte(' ')
	h.writeLevel(buf, r.Level, "%-5s")
	buf.WriteString("  ")
	buf.WriteString(r.Message)
	buf.WriteByte('\n')

	for i, f := range fields {
		branch := "├─"
		if i == len(fields)-1 {
			branch = "└─"
		}
		fmt.Fprintf(buf, "    %s %s: %v\n", branch, f.key, f.value)
	}
}

func (h *Handler) writeJSON(buf *bytes.Buffer, r slog.Record, fields []field) error {
	head := []field{
		{key: "time", value: r.Time.Format(time.RFC3339)},
		{key: "level", value: levelName(r.Level)},
		{key: "msg", value: r.Message},
	}
	data, err := marshalFields(append(head, fields...))
	if err != nil {
		return fmt.Errorf("logging: encode record: %w", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

func (h *Handler) writeLevel(buf *bytes.Buffer, level slog.Level, layout string) {
	name := fmt.Sprintf(layout, levelName(level))
	if !h.colors {
		buf.WriteString(name)
		return
	}
	buf.WriteString(levelColor(level))
	buf.WriteString(name)
	buf.WriteString(colorReset)
}

// appendAttr flattens attr, expanding groups into dotted keys.
func appendAttr(fields []field, prefix string, attr slog.Attr) []field {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix += attr.Key + "."
		}
		for _, member := range value.Group() {
			fields = appendAttr(fields, groupPrefix, member)
		}
		return fields
	}
	if attr.Key == "" {
		return fields
	}
	return append(fields, field{key: prefix + attr.Key, value: plain(value)})
}

// plain converts a resolved value into something encoding/json renders
// readably.
func plain(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return v.Error()
		case fmt.Stringer:
			return v.String()
		}
	}
	return value.Any()
}

// marshalFields encodes fields as a JSON object, preserving their order.
// Later duplicates override earlier keys in place.
func marshalFields(fields []field) ([]byte, error) {
	index := make(map[string]int, len(fields))
	ordered := make([]field, 0, len(fields))
	for _, f := range fields {
		if i, ok := index[f.key]; ok {
			ordered[i] = f
			continue
		}
		index[f.key] = len(ordered)
		ordered = append(ordered, f)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.key)
		value, err := json.Marshal(f.value)
		if err != nil {
			value, _ = json.Marshal(fmt.Sprint(f.value))
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func levelColor(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return colorGray
	case level < slog.LevelInfo:
		return colorBlue
	case level < slog.LevelWarn:
		return colorGreen
	case level < slog.LevelError:
		return colorYellow
	default:
		return colorRed
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
