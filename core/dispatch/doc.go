// Package dispatch routes completion requests to the registered backends.
//
// A Dispatcher validates the request, serves exact repeats from a
// cache.Store, merges default generation options, runs the backend call
// through a middleware chain and records every dispatch in an optional
// sessionlog.Log.
//
//	d, err := dispatch.New(
//	    dispatch.WithBackend("openai", openai.New()),
//	    dispatch.WithCache(memstore.New()),
//	    dispatch.WithMiddleware(middleware.NewTimeout(time.Minute)),
//	)
package dispatch
