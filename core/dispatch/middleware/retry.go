package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/leofalp/polychat/core/dispatch"
	"github.com/leofalp/polychat/providers/ai"
)

// RetryConfig holds the tuning parameters for the retry middleware. Zero
// values are replaced with the defaults documented on each field.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first failure. Default: 3.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed backoff. Default: 30s.
	MaxBackoff time.Duration

	// BackoffFactor is the exponential growth multiplier. Default: 2.0.
	BackoffFactor float64

	// JitterFraction adds up to JitterFraction*backoff of random noise.
	// Default: 0.1.
	JitterFraction float64

	// RetryableFunc reports whether err should be retried. The default
	// retries ProviderErrors with status 429, 500, 502, 503 or 529.
	RetryableFunc func(error) bool
}

var retryableStatus = map[int]bool{429: true, 500: true, 502: true, 503: true, 529: true}

func defaultRetryableFunc(err error) bool {
	var providerErr *ai.ProviderError
	if !errors.As(err, &providerErr) {
		return false
	}
	return retryableStatus[providerErr.StatusCode]
}

func applyRetryDefaults(config *RetryConfig) {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = 2.0
	}
	if config.JitterFraction == 0 {
		config.JitterFraction = 0.1
	}
	if config.RetryableFunc == nil {
		config.RetryableFunc = defaultRetryableFunc
	}
}

// computeBackoff returns min(InitialBackoff*BackoffFactor^attempt, MaxBackoff)
// plus jitter, for a 0-indexed attempt.
func computeBackoff(config RetryConfig, attempt int) time.Duration {
	base := float64(config.InitialBackoff) * math.Pow(config.BackoffFactor, float64(attempt))
	if base > float64(config.MaxBackoff) {
		base = float64(config.MaxBackoff)
	}

	jitter := base * config.JitterFraction * rand.Float64() //nolint:gosec // non-cryptographic jitter
	return time.Duration(base + jitter)
}

// NewRetry retries failed backend calls according to config. A call is only
// retried while nothing has been streamed to the caller, since chunks already
// delivered cannot be taken back.
//
// On exhaustion the error wraps both ErrRetryExhausted and the last backend
// error.
func NewRetry(config RetryConfig) dispatch.Middleware {
	applyRetryDefaults(&config)

	return func(next dispatch.SendFunc) dispatch.SendFunc {
		return func(ctx context.Context, call dispatch.Call) (*ai.Response, error) {
			streamed := false
			onChunk := call.OnChunk
			call.OnChunk = func(chunk ai.Chunk) {
				if !chunk.Done {
					streamed = true
				}
				ai.Emit(onChunk, chunk)
			}

			var lastErr error
			for attempt := 0; attempt <= config.MaxRetries; attempt++ {
				if attempt > 0 {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(computeBackoff(config, attempt-1)):
					}
				}

				response, err := next(ctx, call)
				if err == nil {
					return response, nil
				}
				lastErr = err

				if streamed || !config.RetryableFunc(err) {
					return nil, err
				}
			}

			return nil, fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, config.MaxRetries, lastErr)
		}
	}
}
