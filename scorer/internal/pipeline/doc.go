// Package pipeline runs one scoring invocation per stored spectrogram.
//
// Controller owns the model handle and the threshold. Both start unset and
// are loaded on the first invocation (cold start); later invocations reuse
// them without touching the filesystem (warm path). A failed model load
// leaves the handle unset so the next invocation retries the cold path.
//
// Each invocation walks READY → FETCHING → WINDOWING → SCORING → PERSISTING
// → DONE and then returns to READY. The first failure in fetch, decode,
// windowing or scoring ends the invocation with a typed *Error. A failed
// result-store write is logged and swallowed: the caller still gets the
// verdict.
//
// Handle calls are serialized, so several event sources can share one
// Controller.
package pipeline
