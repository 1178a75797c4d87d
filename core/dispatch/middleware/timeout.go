package middleware

import (
	"context"
	"time"

	"github.com/leofalp/polychat/core/dispatch"
	"github.com/leofalp/polychat/providers/ai"
)

// NewTimeout bounds every backend call, streaming included, with timeout.
// A shorter deadline already on the caller's context wins. A non-positive
// timeout disables the middleware.
func NewTimeout(timeout time.Duration) dispatch.Middleware {
	return func(next dispatch.SendFunc) dispatch.SendFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, call dispatch.Call) (*ai.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return next(ctx, call)
		}
	}
}
