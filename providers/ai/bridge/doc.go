// Package bridge is a backend that proxies completions to a model running in
// a browser, connected over a websocket.
//
// A [Hub] is an http.Handler that accepts exactly one browser client at a
// time. Messages in both directions are JSON envelopes:
//
//	{"type": "completionRequest", "id": "<uuid>", "payload": {...}}
//
// The server sends completionRequest. The client answers with any number of
// completionChunk envelopes carrying text deltas, then one
// completionResponse (whose optional text is treated as a final delta) or an
// error envelope.
//
// The browser model has no native function calling. Functions are described
// in the system prompt and the model calls them by emitting
//
//	<FUNCTION_CALL>name(arg1, arg2)</FUNCTION_CALL>
//
// with JSON arguments in declared parameter order. Marker text is lexed out
// of the stream and never forwarded to the chunk handler.
package bridge
