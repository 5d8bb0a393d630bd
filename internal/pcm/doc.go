// Package pcm holds the 16-bit PCM plumbing shared by the capture client and
// the relay: fixed-size frame chunking, downmix/resample to the recognition
// format, and the bounded drop-oldest queue that sits between a producer
// that must not block and a consumer doing network I/O.
package pcm
