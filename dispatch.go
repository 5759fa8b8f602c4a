package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hesic73/gpu-dispatch/internal/engine"
)

// Options configures a Dispatcher. DeviceIDs must be non-empty and
// distinct; each entry becomes one worker subprocess pinned to that
// device via Worker.Setup's deviceID argument.
type Options struct {
	DeviceIDs   []int
	QueueSize   int
	BaseSeed    int64
	TaskTimeout time.Duration
	Config      map[string]any

	GracefulWait  time.Duration
	TerminateWait time.Duration
	KillWait      time.Duration
}

// Dispatcher streams tasks through a fixed pool of worker subprocesses
// of the kind it was constructed with. See SPEC_FULL.md §5.5.
type Dispatcher struct {
	inner *engine.Dispatcher
}

// New validates kind against the worker registry built by Register and
// returns a Dispatcher ready to Run.
func New(kind string, opts Options) (*Dispatcher, error) {
	inner, err := engine.New(kind, engine.Options{
		DeviceIDs:     opts.DeviceIDs,
		QueueSize:     opts.QueueSize,
		BaseSeed:      opts.BaseSeed,
		TaskTimeout:   opts.TaskTimeout,
		Config:        opts.Config,
		GracefulWait:  opts.GracefulWait,
		TerminateWait: opts.TerminateWait,
		KillWait:      opts.KillWait,
	})
	if err != nil {
		return nil, err
	}
	return &Dispatcher{inner: inner}, nil
}

// Run streams gen's payloads through the worker pool until gen is
// exhausted, ctx is cancelled, Shutdown is called, or every worker
// fails setup. It blocks until the full termination sequence — drain,
// escalated process teardown, queue cleanup — has completed, invoking
// cb.OnExit exactly once regardless of which path ended the run.
// cb.OnSuccess is required; Run rejects a Callbacks with it left nil
// rather than silently dropping every result.
func (d *Dispatcher) Run(ctx context.Context, gen Generator, cb Callbacks) error {
	return d.inner.Run(ctx, gen, engine.Callbacks{
		OnTaskStart: cb.OnTaskStart,
		OnSuccess:   cb.OnSuccess,
		OnError:     cb.OnError,
		OnTimeout:   cb.OnTimeout,
		OnSetupFail: cb.OnSetupFail,
		OnExit:      cb.OnExit,
	})
}

// Shutdown requests an early, graceful end to an in-flight Run. Safe to
// call from a signal handler.
func (d *Dispatcher) Shutdown() {
	d.inner.Shutdown()
}

// RunID identifies this Dispatcher across its own logs and any optional
// observer attached to it.
func (d *Dispatcher) RunID() uuid.UUID {
	return d.inner.RunID()
}
