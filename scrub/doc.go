// Package scrub removes patient identification from Coherence recordings.
//
// The engine works on one file at a time: the whole recording is read
// into memory, the requested header fields are overwritten through the
// coh3 codec, and the result is written to its destination through a
// temporary file so a failed run never leaves a partial recording where
// a good one should be. Batches of files are handled by a Runner, which
// bounds parallelism, reports per file results, and honours a
// cooperative cancel between files.
//
// What happens to each field is described by a Request. A Request is
// immutable while a file is processed, and the same Request value is
// shared read-only by every file in a batch.
package scrub
