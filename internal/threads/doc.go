// Package threads classifies remote review threads and resolves the ones the
// engine owns once a review converges.
//
// A thread is vibe-managed when its first comment carries a fingerprint
// marker (see [FingerprintMarker]) or comes from a known automation identity,
// and every later reply is either the engine's resolved reply or also from
// automation. Threads a human has replied to are never touched.
package threads
