package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/leofalp/polychat/core/dispatch"
	"github.com/leofalp/polychat/internal/utils"
	"github.com/leofalp/polychat/providers/ai"
)

// LogLevel controls how much detail the logging middleware emits per call.
type LogLevel int

const (
	// LogLevelMinimal logs the provider, model, duration and token counts.
	LogLevelMinimal LogLevel = iota

	// LogLevelStandard adds the turn count, function count, response kind
	// and finish reason.
	LogLevelStandard

	// LogLevelVerbose adds the last turn and the response text, each
	// truncated to 500 characters.
	//
	// WARNING: do not use in production. Prompts and answers may contain
	// secrets or personal data.
	LogLevelVerbose
)

const truncateLen = 500

// NewLogging emits an slog entry before every backend call and one after it
// completes or fails. logger must not be nil.
func NewLogging(logger *slog.Logger, level LogLevel) dispatch.Middleware {
	return func(next dispatch.SendFunc) dispatch.SendFunc {
		return func(ctx context.Context, call dispatch.Call) (*ai.Response, error) {
			logger.InfoContext(ctx, "llm send", buildCallAttrs(call, level)...)

			start := time.Now()
			response, err := next(ctx, call)
			elapsed := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "llm send failed",
					slog.String("provider", call.Provider),
					slog.String("model", call.Model),
					slog.Duration("duration", elapsed),
					slog.String("error", err.Error()),
				)
				return nil, err
			}

			logger.InfoContext(ctx, "llm send completed", buildResponseAttrs(call, response, elapsed, level)...)
			return response, nil
		}
	}
}

func buildCallAttrs(call dispatch.Call, level LogLevel) []any {
	attrs := []any{
		slog.String("provider", call.Provider),
		slog.String("model", call.Model),
	}

	if level >= LogLevelStandard {
		attrs = append(attrs,
			slog.Int("turn_count", len(call.Turns)),
			slog.Int("function_count", len(call.Options.Functions)),
		)
	}

	if level >= LogLevelVerbose && len(call.Turns) > 0 {
		last := call.Turns[len(call.Turns)-1]
		attrs = append(attrs,
			slog.String("last_turn_role", string(last.Role)),
			slog.String("last_turn_text", utils.TruncateString(last.Text(), truncateLen)),
		)
	}

	return attrs
}

func buildResponseAttrs(call dispatch.Call, response *ai.Response, elapsed time.Duration, level LogLevel) []any {
	attrs := []any{
		slog.String("provider", call.Provider),
		slog.String("model", call.Model),
		slog.Duration("duration", elapsed),
	}

	if response.Usage != nil {
		attrs = append(attrs,
			slog.Int("prompt_tokens", response.Usage.PromptTokens),
			slog.Int("completion_tokens", response.Usage.CompletionTokens),
			slog.Int("total_tokens", response.Usage.TotalTokens),
		)
	}

	if level >= LogLevelStandard {
		attrs = append(attrs, slog.String("kind", string(response.Kind)))
		if response.FinishReason != "" {
			attrs = append(attrs, slog.String("finish_reason", string(response.FinishReason)))
		}
		if len(response.FunctionCalls) > 0 {
			attrs = append(attrs, slog.Int("function_calls", len(response.FunctionCalls)))
		}
	}

	if level >= LogLevelVerbose && response.Text != "" {
		attrs = append(attrs, slog.String("response_text", utils.TruncateString(response.Text, truncateLen)))
	}

	return attrs
}
