// Package middleware provides built-in middlewares for the dispatcher. Each
// constructor returns a [dispatch.Middleware] ready to be passed to
// [dispatch.WithMiddleware].
//
// # Available Middleware
//
//   - [NewTimeout]: bounds each backend call with context.WithTimeout.
//
//   - [NewRetry]: retries transient provider failures (429 and 5xx) with
//     exponential backoff, as long as no chunk has reached the caller yet.
//
//   - [NewLogging]: emits structured slog entries before and after every
//     backend call, at three verbosity levels.
//
// # Usage
//
//	d, err := dispatch.New(
//	    dispatch.WithBackend("gemini", gemini.New()),
//	    dispatch.WithMiddleware(
//	        middleware.NewTimeout(2*time.Minute),
//	        middleware.NewRetry(middleware.RetryConfig{MaxRetries: 2}),
//	        middleware.NewLogging(slog.Default(), middleware.LogLevelStandard),
//	    ),
//	)
//
// The first entry is the outermost wrapper, so a call travels
//
//	Timeout → Retry → Logging → Backend
package middleware
