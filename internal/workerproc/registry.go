// Package workerproc is the Worker Runtime of spec.md §4.2. It runs
// entirely inside the re-exec'd child process: Main reads its identity
// from the environment, looks up the registered factory, and runs the
// steady-state loop against stdin/stdout.
package workerproc

import (
	"context"
	"fmt"
	"sync"
)

// Worker is the lifecycle contract the user implements (spec.md §4.2,
// §6). Construction must stay trivial; heavy state belongs in Setup
// because the instance is constructed once in the controlling process
// (to validate the factory) and re-instantiated in the worker process.
//
// Process receives a context that is cancelled when the task's timeout
// (if any) fires. The runtime does not wait for Process to return after
// cancellation — see the REDESIGN note in SPEC_FULL.md §5.2 — but a
// cooperative Process implementation that checks ctx.Err() can exit
// promptly instead of running to completion in the background.
//
// payload and result cross a msgpack-encoded pipe into a separate OS
// process: only shapes msgpack actually round-trips (maps, slices,
// strings, numbers) survive the trip, never a caller's concrete struct
// type. Build payloads out of those shapes rather than asserting a
// struct type back out of Process.
type Worker interface {
	Setup(deviceID int, seed int64, config map[string]any) error
	Process(ctx context.Context, payload any) (result any, err error)
	Cleanup() error
}

// Factory constructs a fresh, not-yet-set-up Worker instance.
type Factory func() Worker

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register associates a worker kind name with a factory. Dispatcher
// construction validates the name exists and that Factory() produces a
// non-nil Worker; the worker subprocess looks the name up again to build
// its own instance, which is the Go analogue of spec.md §9's "serialize
// only the class identity and re-instantiate remotely."
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// Lookup returns the factory registered under kind, or an error if none
// was registered — surfaced at Dispatcher construction per spec.md §4.2.
func Lookup(kind string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("no worker registered under kind %q", kind)
	}
	return f, nil
}
