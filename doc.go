// Package evsync reads Linux input devices (/dev/input/eventN) and keeps a
// consistent mirror of their state.
//
// The kernel delivers input as batches of events terminated by a
// SYN_REPORT; events in one batch occurred together, like the X and Y
// movement of a single mouse sample. When a reader falls behind, the kernel
// drops events from its ring buffer and leaves a SYN_DROPPED marker: any
// state the reader derived from the stream is now stale.
//
// Two stream flavors deal with that differently:
//
// A SyncStream maintains a DeviceState cache, applies every batch to it and
// forwards the batch unchanged. On SYN_DROPPED it re-queries the true
// device state, rebuilds the cache, and replaces the lost events with one
// synthetic batch holding exactly the transitions needed to close the gap:
// consumers that care about current values (is this key down, where is this
// axis) never see an inconsistent picture. Consumers that count individual
// toggles are not served across an overflow; dropped events cannot be
// recovered.
//
// A RawStream passes batches through untouched, overflow markers included,
// for callers with their own consistency policy.
//
// Both flavors are single-consumer pull streams and work identically over
// blocking and non-blocking descriptors; non-blocking reads surface
// ErrWouldBlock until a complete batch is available.
package evsync
