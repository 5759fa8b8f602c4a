// Package dispatch streams a possibly unbounded sequence of work
// items through a fixed pool of long-lived, device-pinned worker
// subprocesses, surfacing per-item outcomes through callbacks.
//
// A Worker implementation is registered once under a name with
// Register; New builds a Dispatcher bound to that name and a set of
// device IDs; Dispatcher.Run drives one pass over a Generator of
// payloads until it is exhausted, the context is cancelled, or every
// worker fails to set up.
package dispatch
