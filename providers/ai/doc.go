// Package ai defines the shared, provider-agnostic conversation model used by
// every backend adapter: turns and their tagged parts, normalized responses,
// streamed chunks, generation options and the typed errors of the
// orchestration core. Each adapter's conversion layer maps these types to its
// own wire format, keeping the session and dispatcher decoupled from
// provider-specific details.
//
// Adapters implement [Backend]. Streaming is modeled by [ChatStream], whose
// [ChatStream.Collect] aggregates deltas per candidate while forwarding them
// to a [ChunkHandler], and [SelectCandidate] applies the safety policy.
package ai
