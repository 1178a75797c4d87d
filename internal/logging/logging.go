package logging

import (
	"io"
	"log/slog"
)

// Option configures New.
type Option func(*HandlerOptions)

// WithFormat overrides the environment format.
func WithFormat(format Format) Option {
	return func(o *HandlerOptions) {
		o.Format = format
	}
}

// WithLevel overrides the environment level.
func WithLevel(level slog.Leveler) Option {
	return func(o *HandlerOptions) {
		o.Level = level
	}
}

// WithOutput sets the destination; stderr by default.
func WithOutput(w io.Writer) Option {
	return func(o *HandlerOptions) {
		o.Output = w
	}
}

// WithColors forces colours on or off instead of detecting a terminal.
func WithColors(enabled bool) Option {
	return func(o *HandlerOptions) {
		o.Colors = &enabled
	}
}

// New returns a logger configured from the environment and opts.
//
//	logger := logging.New(logging.WithFormat(logging.FormatJSON))
//	slog.SetDefault(logger)
func New(opts ...Option) *slog.Logger {
	options := &HandlerOptions{
		Format: FormatFromEnv(),
		Level:  LevelFromEnv(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return slog.New(NewHandler(options))
}
